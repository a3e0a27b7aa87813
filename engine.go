package rpmqd

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/rpmqd/rpmqd/internal/ctxlock"
	"github.com/rpmqd/rpmqd/internal/embedtext"
	"github.com/rpmqd/rpmqd/internal/ingest"
	"github.com/rpmqd/rpmqd/internal/metastore"
	"github.com/rpmqd/rpmqd/internal/normalize"
	"github.com/rpmqd/rpmqd/internal/planner"
	"github.com/rpmqd/rpmqd/internal/repomd"
	"github.com/rpmqd/rpmqd/internal/rpmver"
	"github.com/rpmqd/rpmqd/internal/syncer"
	"github.com/rpmqd/rpmqd/internal/vectorstore"
)

// Embedder is the model-loader collaborator described in spec §1 and §6: it
// turns input text into fixed-dimension vectors, one at a time for a query
// or in a batch during an embedding build. Loading weights, choosing a
// device, and the GPU→accelerated-CPU→CPU fallback order in spec §5 are all
// the caller's concern; the Engine only ever calls these two methods.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Engine is the topmost façade: it owns the single open database handle and
// exposes the full operation contract named in spec §6 as methods. It is
// the only component in this module that constructs the others; callers
// assemble one Engine and talk to nothing underneath it directly.
type Engine struct {
	store    *metastore.Store
	vectors  *vectorstore.Store
	planner  *planner.Planner
	builder  *embedtext.Builder
	locks    *ctxlock.Locker
	fetcher  syncer.Fetcher
	embedder Embedder
	closed   bool
}

// Options configures Open. Fetcher and Embedder are required for sync and
// embedding operations respectively; a nil Fetcher still permits index,
// search, and the other non-network operations, and likewise for Embedder.
type Options struct {
	Fetcher  syncer.Fetcher
	Embedder Embedder
	// PullbackFactor overrides planner.DefaultPullbackFactor. Zero keeps the
	// default.
	PullbackFactor int
}

// Open opens (or creates) the single SQLite file at path and wires every
// internal component against it. The returned Engine owns the handle; call
// Close exactly once when done. Re-entrant calls to any Engine method after
// Close panics rather than silently operating on a closed handle, per the
// "scoped resource owned by the topmost component" design note in spec §9.
func Open(ctx context.Context, path string, opts Options) (*Engine, error) {
	store, err := metastore.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	vectors := vectorstore.New(store.DB())

	p := &planner.Planner{
		Metadata:       store,
		Vectors:        vectors,
		PullbackFactor: opts.PullbackFactor,
	}
	if opts.Embedder != nil {
		p.Embedder = opts.Embedder
	}

	builder := &embedtext.Builder{
		Store:  vectors,
		Source: store,
	}
	if opts.Embedder != nil {
		builder.Embedder = opts.Embedder
	}

	return &Engine{
		store:    store,
		vectors:  vectors,
		planner:  p,
		builder:  builder,
		locks:    ctxlock.New(),
		fetcher:  opts.Fetcher,
		embedder: opts.Embedder,
	}, nil
}

// Close releases the underlying database handle. Subsequent calls to any
// other Engine method panic.
func (e *Engine) Close() error {
	e.closed = true
	return e.store.Close()
}

func (e *Engine) checkOpen() {
	if e.closed {
		panic("rpmqd: use of Engine after Close")
	}
}

// Index parses the primary.xml document in r (already decompressed) and
// applies it as the new catalog for repository, diffing it against whatever
// is currently stored for that repository. See spec §4.2, §4.8.
func (e *Engine) Index(ctx context.Context, r io.Reader, repository string) (IngestStats, error) {
	e.checkOpen()
	ctx, done := e.locks.Lock(ctx, repository)
	defer done()

	batch := normalize.NewBatch()
	var records []normalize.Record
	for raw, perr := range repomd.ParsePrimary(r) {
		if perr != nil {
			return IngestStats{}, perr
		}
		rec, err := normalize.Package(raw, repository)
		if err != nil {
			return IngestStats{}, err
		}
		if err := batch.Add(rec); err != nil {
			return IngestStats{}, err
		}
		records = append(records, rec)
	}
	return ingest.Apply(ctx, e.store, repository, records)
}

// IndexFile opens path, detects its compression from its extension and
// magic bytes, and indexes the decompressed contents as repository's
// catalog.
func (e *Engine) IndexFile(ctx context.Context, path, repository string) (IngestStats, error) {
	e.checkOpen()
	raw, err := os.ReadFile(path)
	if err != nil {
		return IngestStats{}, Wrap(ErrStorage, "Engine.IndexFile", err)
	}
	codec := repomd.DetectCodec(path, raw)
	decoded, err := repomd.Decompress(bytes.NewReader(raw), codec)
	if err != nil {
		return IngestStats{}, err
	}
	if closer, ok := decoded.(io.Closer); ok {
		defer closer.Close()
	}
	return e.Index(ctx, decoded, repository)
}

// BuildEmbeddings drives an embedding build across every indexed repository.
// rebuild selects embedtext.Rebuild over the default embedtext.Incremental;
// verbose enables per-batch progress reporting. It requires an Embedder to
// have been supplied to Open.
func (e *Engine) BuildEmbeddings(ctx context.Context, rebuild, verbose bool) (embedtext.Progress, error) {
	e.checkOpen()
	if e.embedder == nil {
		return embedtext.Progress{}, Newf(ErrEmbed, "Engine.BuildEmbeddings", "no Embedder configured")
	}
	mode := embedtext.Incremental
	if rebuild {
		mode = embedtext.Rebuild
	}
	e.builder.Verbose = verbose
	return e.builder.Build(ctx, "", mode)
}

// Search routes query through the hybrid planner, returning results in
// descending score (semantic) or name/version (structured) order, truncated
// to topK. See spec §4.7.
func (e *Engine) Search(ctx context.Context, query string, filters SearchFilters, topK int) ([]SearchResult, error) {
	e.checkOpen()
	return e.planner.Search(ctx, query, filters, topK)
}

// ListRepositories returns every repository with at least one indexed
// package, alongside its package count.
func (e *Engine) ListRepositories(ctx context.Context) ([]metastore.RepositoryCount, error) {
	e.checkOpen()
	return e.store.ListRepositories(ctx)
}

// RepoStats returns the number of packages indexed under repository.
func (e *Engine) RepoStats(ctx context.Context, repository string) (int, error) {
	e.checkOpen()
	return e.store.RepoStats(ctx, repository)
}

// DeleteRepository removes every package (and its dependencies and
// embeddings) indexed under repository, returning the number of packages
// removed.
func (e *Engine) DeleteRepository(ctx context.Context, repository string) (int, error) {
	e.checkOpen()
	ctx, done := e.locks.Lock(ctx, repository)
	defer done()
	return e.store.DeleteRepository(ctx, repository)
}

// CompareVersions compares two (version, release) pairs (epoch defaulting
// to 0) using the rpmvercmp algorithm described in spec §4.1.
func (e *Engine) CompareVersions(aEpoch int, aVersion, aRelease string, bEpoch int, bVersion, bRelease string) Ordering {
	e.checkOpen()
	a := rpmver.Triple{Epoch: aEpoch, Version: aVersion, Release: aRelease}
	b := rpmver.Triple{Epoch: bEpoch, Version: bVersion, Release: bRelease}
	return Ordering(rpmver.Compare(a, b))
}

// SyncStatus returns the most recently recorded sync outcome for repository,
// independent of whether a daemon is currently running in this process.
func (e *Engine) SyncStatus(ctx context.Context, repository string) (SyncState, error) {
	e.checkOpen()
	return e.store.GetSyncState(ctx, repository)
}

// AllSyncStatus returns the most recently recorded sync outcome for every
// repository with a sync state stored in the database.
func (e *Engine) AllSyncStatus(ctx context.Context) ([]SyncState, error) {
	e.checkOpen()
	return e.store.ListSyncStates(ctx)
}

// newSyncer builds the internal syncer.Syncer wired against this Engine's
// store and lock table, sharing the builder so a successful sync can embed
// new packages incrementally.
func (e *Engine) newSyncer() (*syncer.Syncer, error) {
	if e.fetcher == nil {
		return nil, Newf(ErrConfig, "Engine.newSyncer", "no Fetcher configured")
	}
	s := &syncer.Syncer{
		Store:   e.store,
		Fetcher: e.fetcher,
		Locks:   e.locks,
	}
	if e.embedder != nil {
		s.Embedder = e.builder
	}
	return s, nil
}

// SyncOnce runs every enabled repository in cfg's configuration exactly
// once, bounded by syncer.DefaultMaxInFlight concurrent runs.
func (e *Engine) SyncOnce(ctx context.Context, cfg syncer.Config) ([]syncer.Report, error) {
	e.checkOpen()
	s, err := e.newSyncer()
	if err != nil {
		return nil, err
	}
	sched := syncer.NewScheduler(s)
	return sched.RunOnce(ctx, cfg.Enabled()), nil
}

// SyncDaemon runs every enabled repository in cfg's configuration on its own
// interval_seconds ticker until ctx is canceled, returning the Scheduler so
// the caller can poll Status/AllStatus while it runs.
func (e *Engine) SyncDaemon(ctx context.Context, cfg syncer.Config) (*syncer.Scheduler, error) {
	e.checkOpen()
	s, err := e.newSyncer()
	if err != nil {
		return nil, err
	}
	sched := syncer.NewScheduler(s)
	go sched.RunDaemon(ctx, cfg.Enabled())
	return sched, nil
}
