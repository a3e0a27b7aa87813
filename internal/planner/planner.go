// Package planner implements the hybrid query planner: classification of a
// query into structured or semantic routing, pre-filtering via the
// metadata store to work around the vector store's flat scan, and
// dependency-filter post-processing. See spec §4.7, §9.
package planner

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rpmqd/rpmqd"
	"github.com/rpmqd/rpmqd/internal/metrics"
	"github.com/rpmqd/rpmqd/internal/rpmver"
	"github.com/rpmqd/rpmqd/internal/vectorstore"
)

// DefaultPullbackFactor is the spec's reference value: a semantic search
// pulls this many times top_k results from the vector store before
// dependency filters and truncation, so the post-filter result is unlikely
// to come up short. See spec §4.7, §9 (implementers may tune this).
const DefaultPullbackFactor = 5

// MetadataStore is the subset of internal/metastore.Store the planner
// depends on. Declared here, not imported as a concrete type, so the
// planner never couples to a storage backend directly — only the
// capability it needs.
type MetadataStore interface {
	FilteredCandidateIDs(ctx context.Context, f rpmqd.SearchFilters) ([]int64, error)
	ApplyDependencyFilters(ctx context.Context, ids []int64, f rpmqd.SearchFilters) ([]int64, error)
	PackagesByIDs(ctx context.Context, ids []int64) (map[int64]rpmqd.Package, error)
	PackagesInRepo(ctx context.Context, repository string) ([]rpmqd.Package, error)
}

// Embedder turns query text into a vector for the semantic search path.
// Forward-pass and model concerns belong entirely to the collaborator; see
// spec §6.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Planner routes a query to the structured or semantic search path (or
// both, via pre-filtering) and returns an ordered, filter-satisfying result
// set. See spec §4.7.
type Planner struct {
	Metadata MetadataStore
	Vectors  vectorstore.Backend
	Embedder Embedder
	// PullbackFactor overrides DefaultPullbackFactor when non-zero.
	PullbackFactor int
}

func (p *Planner) pullback() int {
	if p.PullbackFactor > 0 {
		return p.PullbackFactor
	}
	return DefaultPullbackFactor
}

// Search classifies query and dispatches to the structured or semantic
// path, applying filters' dependency predicates and truncating to top_k
// while preserving result order. See spec §4.7's classify/route/pre-filter/
// pullback-retry/truncate pipeline.
func (p *Planner) Search(ctx context.Context, query string, filters rpmqd.SearchFilters, topK int) ([]rpmqd.SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	start := time.Now()
	mode := "semantic"
	if isStructuredQuery(query) {
		mode = "structured"
		results, err := p.searchStructured(ctx, filters, topK)
		metrics.ObserveQuery(mode, start, err)
		return results, err
	}
	results, err := p.searchSemantic(ctx, query, filters, topK)
	metrics.ObserveQuery(mode, start, err)
	return results, err
}

// isStructuredQuery reports whether q carries no semantic intent: empty, or
// a single bare token indistinguishable from a package-name lookup. See
// spec §4.7 step 1.
func isStructuredQuery(q string) bool {
	q = strings.TrimSpace(q)
	if q == "" {
		return true
	}
	return !strings.ContainsAny(q, " \t\n")
}

func (p *Planner) searchStructured(ctx context.Context, filters rpmqd.SearchFilters, topK int) ([]rpmqd.SearchResult, error) {
	const op = "planner.searchStructured"
	ids, err := p.Metadata.FilteredCandidateIDs(ctx, filters)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	ids, err = p.Metadata.ApplyDependencyFilters(ctx, ids, filters)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	pkgs, err := p.Metadata.PackagesByIDs(ctx, ids)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}

	results := make([]rpmqd.SearchResult, 0, len(pkgs))
	for _, pkg := range pkgs {
		results = append(results, rpmqd.SearchResult{Package: pkg})
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i].Package, results[j].Package
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return rpmver.Compare(tripleOf(a), tripleOf(b)) == rpmver.Greater
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (p *Planner) searchSemantic(ctx context.Context, query string, filters rpmqd.SearchFilters, topK int) ([]rpmqd.SearchResult, error) {
	const op = "planner.searchSemantic"
	vec, err := p.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrEmbed, op, err)
	}

	hasStructuralFilter := filters.Arch != "" || filters.Repository != ""
	pullback := p.pullback()

	var matches []vectorstore.Match
	for attempt := 1; attempt <= 2; attempt++ {
		limit := topK * pullback * attempt
		if hasStructuralFilter {
			candidateIDs, err := p.Metadata.FilteredCandidateIDs(ctx, rpmqd.SearchFilters{Arch: filters.Arch, Repository: filters.Repository})
			if err != nil {
				return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
			}
			matches, err = p.Vectors.FilteredSimilaritySearch(ctx, vec, candidateIDs, limit)
			if err != nil {
				return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
			}
		} else {
			matches, err = p.Vectors.SimilaritySearch(ctx, vec, limit)
			if err != nil {
				return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
			}
		}

		filtered, err := p.filterMatches(ctx, matches, filters)
		if err != nil {
			return nil, err
		}
		// Re-issue with a larger pullback only when the first pull was
		// exhausted (returned >= pullback matches) yet still filtered down
		// short of topK — otherwise a second pull can't possibly help.
		if len(filtered) >= topK || len(matches) < pullback || attempt == 2 {
			return truncate(filtered, topK), nil
		}
	}
	return nil, nil
}

func (p *Planner) filterMatches(ctx context.Context, matches []vectorstore.Match, filters rpmqd.SearchFilters) ([]rpmqd.SearchResult, error) {
	const op = "planner.filterMatches"
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(matches))
	scores := make(map[int64]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.PackageID
		scores[m.PackageID] = m.Score
	}

	ids, err := p.Metadata.ApplyDependencyFilters(ctx, ids, filters)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	pkgs, err := p.Metadata.PackagesByIDs(ctx, ids)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}

	results := make([]rpmqd.SearchResult, 0, len(ids))
	for _, m := range matches {
		pkg, ok := pkgs[m.PackageID]
		if !ok {
			continue
		}
		results = append(results, rpmqd.SearchResult{Package: pkg, Score: scores[m.PackageID]})
	}
	return results, nil
}

func truncate(results []rpmqd.SearchResult, topK int) []rpmqd.SearchResult {
	if len(results) > topK {
		return results[:topK]
	}
	return results
}

func tripleOf(pkg rpmqd.Package) rpmver.Triple {
	return rpmver.Triple{Epoch: pkg.EpochOrZero(), Version: pkg.Version, Release: pkg.Release}
}
