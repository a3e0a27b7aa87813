// Package vectorstore persists per-package embedding vectors alongside the
// metadata database and answers similarity queries over them. See spec
// §4.5, §9.
//
// The only implementation here is a portable, blob-encoded fallback:
// vectors are stored as little-endian float32 blobs in the same SQLite
// file the metadata store uses, and similarity is computed in Go rather
// than pushed into the database. Backend exists so a future accelerated
// store (a vector virtual table, an external index) can be substituted
// without the planner changing — see [Backend].
package vectorstore

import "context"

// Match is one similarity hit: a package ID and its cosine score against
// the query vector, in descending score order. The planner resolves
// PackageID against the metadata store to build a full rpmqd.SearchResult.
type Match struct {
	PackageID int64
	Score     float64
}

// Backend is the capability interface the planner depends on. Store
// implements it; a future accelerated backend would implement the same
// interface and be swapped in at startup.
type Backend interface {
	Upsert(ctx context.Context, packageID int64, vec []float32) error
	Delete(ctx context.Context, packageID int64) error
	SimilaritySearch(ctx context.Context, query []float32, limit int) ([]Match, error)
	FilteredSimilaritySearch(ctx context.Context, query []float32, ids []int64, limit int) ([]Match, error)
	IDsWithoutVector(ctx context.Context, candidateIDs []int64) ([]int64, error)
}

var _ Backend = (*Store)(nil)
