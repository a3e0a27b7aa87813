package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sort"

	"github.com/rpmqd/rpmqd"
)

// Store is the portable fallback Backend: blob-encoded vectors in the
// metadata database's own SQLite file, scanned and scored in Go.
type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle. The caller (the engine
// façade) owns the handle's lifetime; Store never closes it.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert writes (or overwrites) the embedding vector for packageID.
func (s *Store) Upsert(ctx context.Context, packageID int64, vec []float32) error {
	const op = "vectorstore.Upsert"
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (package_id, dim, vector) VALUES (?, ?, ?)
		 ON CONFLICT (package_id) DO UPDATE SET dim = excluded.dim, vector = excluded.vector`,
		packageID, len(vec), encode(vec))
	if err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return nil
}

// Delete removes packageID's embedding row, if any.
func (s *Store) Delete(ctx context.Context, packageID int64) error {
	const op = "vectorstore.Delete"
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE package_id = ?`, packageID); err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return nil
}

// SimilaritySearch scores query against every stored embedding and returns
// the top limit matches by cosine similarity, descending.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, limit int) ([]Match, error) {
	return s.search(ctx, query, nil, limit)
}

// FilteredSimilaritySearch is SimilaritySearch restricted to ids — the
// planner's pre-filtering pullback path (spec §4.7, §9).
func (s *Store) FilteredSimilaritySearch(ctx context.Context, query []float32, ids []int64, limit int) ([]Match, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.search(ctx, query, ids, limit)
}

func (s *Store) search(ctx context.Context, query []float32, ids []int64, limit int) ([]Match, error) {
	const op = "vectorstore.search"
	if len(query) == 0 {
		return nil, rpmqd.Newf(rpmqd.ErrVectorDimMismatch, op, "empty query vector")
	}

	rows, err := s.rowsFor(ctx, ids)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id int64
		var dim int
		var blob []byte
		if err := rows.Scan(&id, &dim, &blob); err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		if dim != len(query) {
			continue
		}
		vec := decode(blob, dim)
		matches = append(matches, Match{PackageID: id, Score: cosine(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) rowsFor(ctx context.Context, ids []int64) (*sql.Rows, error) {
	if ids == nil {
		return s.db.QueryContext(ctx, `SELECT package_id, dim, vector FROM embeddings`)
	}
	placeholders := make([]any, len(ids))
	query := `SELECT package_id, dim, vector FROM embeddings WHERE package_id IN (`
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders[i] = id
	}
	query += ")"
	return s.db.QueryContext(ctx, query, placeholders...)
}

// IDsWithoutVector returns the subset of candidateIDs that have no
// embedding row yet — the set the embedding builder's incremental mode
// must fill in.
func (s *Store) IDsWithoutVector(ctx context.Context, candidateIDs []int64) ([]int64, error) {
	const op = "vectorstore.IDsWithoutVector"
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	have := make(map[int64]struct{}, len(candidateIDs))
	rows, err := s.rowsForIDsOnly(ctx, candidateIDs)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		have[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}

	var missing []int64
	for _, id := range candidateIDs {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *Store) rowsForIDsOnly(ctx context.Context, ids []int64) (*sql.Rows, error) {
	placeholders := make([]any, len(ids))
	query := `SELECT package_id FROM embeddings WHERE package_id IN (`
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders[i] = id
	}
	query += ")"
	return s.db.QueryContext(ctx, query, placeholders...)
}

// cosine computes cosine similarity between two equal-length vectors. The
// caller (search) has already verified the dimensions match.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decode(blob []byte, dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
