package planner

import (
	"context"
	"testing"

	"github.com/rpmqd/rpmqd"
	"github.com/rpmqd/rpmqd/internal/vectorstore"
)

type fakeMetadata struct {
	pkgs       map[int64]rpmqd.Package
	candidates []int64
	depFilter  func([]int64, rpmqd.SearchFilters) []int64
}

func (f *fakeMetadata) FilteredCandidateIDs(ctx context.Context, filters rpmqd.SearchFilters) ([]int64, error) {
	return f.candidates, nil
}

func (f *fakeMetadata) ApplyDependencyFilters(ctx context.Context, ids []int64, filters rpmqd.SearchFilters) ([]int64, error) {
	if f.depFilter != nil {
		return f.depFilter(ids, filters), nil
	}
	return ids, nil
}

func (f *fakeMetadata) PackagesByIDs(ctx context.Context, ids []int64) (map[int64]rpmqd.Package, error) {
	out := make(map[int64]rpmqd.Package, len(ids))
	for _, id := range ids {
		if pkg, ok := f.pkgs[id]; ok {
			out[id] = pkg
		}
	}
	return out, nil
}

func (f *fakeMetadata) PackagesInRepo(ctx context.Context, repository string) ([]rpmqd.Package, error) {
	var out []rpmqd.Package
	for _, pkg := range f.pkgs {
		if pkg.Repository == repository {
			out = append(out, pkg)
		}
	}
	return out, nil
}

type fakeVectors struct {
	matches []vectorstore.Match
}

func (f *fakeVectors) Upsert(ctx context.Context, id int64, vec []float32) error { return nil }
func (f *fakeVectors) Delete(ctx context.Context, id int64) error               { return nil }
func (f *fakeVectors) SimilaritySearch(ctx context.Context, query []float32, limit int) ([]vectorstore.Match, error) {
	return truncMatches(f.matches, limit), nil
}
func (f *fakeVectors) FilteredSimilaritySearch(ctx context.Context, query []float32, ids []int64, limit int) ([]vectorstore.Match, error) {
	allow := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		allow[id] = struct{}{}
	}
	var out []vectorstore.Match
	for _, m := range f.matches {
		if _, ok := allow[m.PackageID]; ok {
			out = append(out, m)
		}
	}
	return truncMatches(out, limit), nil
}
func (f *fakeVectors) IDsWithoutVector(ctx context.Context, ids []int64) ([]int64, error) {
	return nil, nil
}

func truncMatches(m []vectorstore.Match, limit int) []vectorstore.Match {
	if limit > 0 && len(m) > limit {
		return m[:limit]
	}
	return m
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func TestSearchStructuredClassification(t *testing.T) {
	md := &fakeMetadata{
		pkgs:       map[int64]rpmqd.Package{1: {ID: 1, Name: "openssl", Version: "3.0.7", Release: "1.el9", Repository: "r1"}},
		candidates: []int64{1},
	}
	p := &Planner{Metadata: md}
	results, err := p.Search(context.Background(), "openssl", rpmqd.SearchFilters{}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Package.Name != "openssl" {
		t.Fatalf("results = %+v", results)
	}
}

func TestSearchStructuredEmptyQuery(t *testing.T) {
	md := &fakeMetadata{
		pkgs: map[int64]rpmqd.Package{
			1: {ID: 1, Name: "pkg-a", Repository: "r1"},
			2: {ID: 2, Name: "pkg-b", Repository: "r1"},
		},
		candidates: []int64{1, 2},
	}
	p := &Planner{Metadata: md}
	results, err := p.Search(context.Background(), "", rpmqd.SearchFilters{}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Package.Name != "pkg-a" {
		t.Fatalf("expected name-ordered results, got %+v", results)
	}
}

func TestSearchSemanticOrdering(t *testing.T) {
	md := &fakeMetadata{
		pkgs: map[int64]rpmqd.Package{
			1: {ID: 1, Name: "openssl", Repository: "r1"},
			2: {ID: 2, Name: "libssl", Repository: "r1"},
		},
	}
	vecs := &fakeVectors{matches: []vectorstore.Match{
		{PackageID: 1, Score: 0.9},
		{PackageID: 2, Score: 0.5},
	}}
	p := &Planner{Metadata: md, Vectors: vecs, Embedder: fakeEmbedder{}}
	results, err := p.Search(context.Background(), "cryptography library", rpmqd.SearchFilters{}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Package.Name != "openssl" || results[0].Score != 0.9 {
		t.Fatalf("expected descending-score order, got %+v", results)
	}
}

func TestSearchSemanticDependencyFilter(t *testing.T) {
	md := &fakeMetadata{
		pkgs: map[int64]rpmqd.Package{
			1: {ID: 1, Name: "pkg-a", Repository: "r1"},
			2: {ID: 2, Name: "pkg-b", Repository: "r1"},
		},
		depFilter: func(ids []int64, f rpmqd.SearchFilters) []int64 {
			var out []int64
			for _, id := range ids {
				if id != 1 {
					out = append(out, id)
				}
			}
			return out
		},
	}
	vecs := &fakeVectors{matches: []vectorstore.Match{
		{PackageID: 1, Score: 0.9},
		{PackageID: 2, Score: 0.5},
	}}
	p := &Planner{Metadata: md, Vectors: vecs, Embedder: fakeEmbedder{}}
	results, err := p.Search(context.Background(), "cryptography library", rpmqd.SearchFilters{NotRequiring: "glibc"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Package.Name != "pkg-b" {
		t.Fatalf("expected pkg-a excluded, got %+v", results)
	}
}
