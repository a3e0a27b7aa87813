package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rpmqd/rpmqd"
	"github.com/rpmqd/rpmqd/internal/metastore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	ms, err := metastore.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ms.Close() })
	// Embedding rows reference packages by foreign key, so seed the package
	// rows (IDs 1, 2, 3 in a fresh database) that the tests attach vectors to.
	for _, name := range []string{"pkg-1", "pkg-2", "pkg-3"} {
		pkg := rpmqd.Package{Name: name, Version: "1.0", Release: "1", Arch: "x86_64", Repository: "r1"}
		if err := ms.InsertPackage(ctx, &pkg, nil); err != nil {
			t.Fatal(err)
		}
	}
	return New(ms.DB())
}

func TestUpsertAndSimilaritySearch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	vectors := map[int64][]float32{
		1: {1, 0, 0},
		2: {0, 1, 0},
		3: {0.9, 0.1, 0},
	}
	for id, v := range vectors {
		if err := s.Upsert(ctx, id, v); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].PackageID != 1 {
		t.Errorf("top match = %d, want 1 (exact direction match)", matches[0].PackageID)
	}
	if matches[0].Score < matches[1].Score {
		t.Errorf("matches not in descending score order: %v", matches)
	}
}

func TestFilteredSimilaritySearch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for id, v := range map[int64][]float32{
		1: {1, 0},
		2: {0, 1},
		3: {1, 0},
	} {
		if err := s.Upsert(ctx, id, v); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := s.FilteredSimilaritySearch(ctx, []float32{1, 0}, []int64{2, 3}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 || matches[0].PackageID != 3 || matches[1].PackageID != 2 {
		t.Errorf("matches = %v, want [{3 ...} {2 ...}] (id 1 excluded by the id filter)", matches)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Upsert(ctx, 1, []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, 1); err != nil {
		t.Fatal(err)
	}
	matches, err := s.SimilaritySearch(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("matches = %v, want none after delete", matches)
	}
}

func TestIDsWithoutVector(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Upsert(ctx, 1, []float32{1, 0}); err != nil {
		t.Fatal(err)
	}

	missing, err := s.IDsWithoutVector(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 {
		t.Fatalf("missing = %v, want [2 3]", missing)
	}
}

func TestDimensionMismatchSkipped(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Upsert(ctx, 1, []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, 2, []float32{1, 0}); err != nil {
		t.Fatal(err)
	}

	// Query dimension matches only package 2; package 1 (dim 3) is skipped
	// rather than erroring the whole search.
	matches, err := s.SimilaritySearch(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].PackageID != 2 {
		t.Errorf("matches = %v, want only package 2", matches)
	}
}
