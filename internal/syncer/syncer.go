// Package syncer implements the per-repository sync state machine and its
// daemon scheduler. See spec §4.9, §5, §6.
package syncer

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/rpmqd/rpmqd"
	"github.com/rpmqd/rpmqd/internal/ctxlock"
	"github.com/rpmqd/rpmqd/internal/embedtext"
	"github.com/rpmqd/rpmqd/internal/ingest"
	"github.com/rpmqd/rpmqd/internal/metrics"
	"github.com/rpmqd/rpmqd/internal/normalize"
	"github.com/rpmqd/rpmqd/internal/repomd"
)

// Fetcher is the network collaborator: a single deadline-bound GET. The
// default implementation is pkg/httpfetch.Client; tests substitute an
// in-memory fake.
type Fetcher interface {
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// Store is the subset of internal/metastore.Store and internal/ingest.Store
// the state machine needs.
type Store interface {
	GetSyncState(ctx context.Context, repository string) (rpmqd.SyncState, error)
	RecordSyncState(ctx context.Context, st rpmqd.SyncState) error
	PackagesInRepo(ctx context.Context, repository string) ([]rpmqd.Package, error)
	DB() *sql.DB
}

// Embedder drives an incremental embedding build after a successful
// ingest. Optional: a Syncer with no Embedder set skips this step.
type Embedder interface {
	Build(ctx context.Context, repository string, mode embedtext.Mode) (embedtext.Progress, error)
}

// State names one node of the sync state machine described in spec §4.9.
type State string

const (
	StateIdle            State = "idle"
	StateFetchingRepomd  State = "fetching_repomd"
	StateComparing       State = "comparing"
	StateNoChange        State = "no_change"
	StateFetchingPrimary State = "fetching_primary"
	StateIngesting       State = "ingesting"
	StateRecording       State = "recording"
	StateRecordingFailed State = "recording_failure"
)

// Report is the outcome of one RunOnce call: the terminal state reached,
// the ingest stats if ingestion ran, and the error if the run failed.
type Report struct {
	Repository string
	Final      State
	Stats      rpmqd.IngestStats
	Err        error
}

// Syncer drives the state machine for a single repository at a time,
// serialized per repository name by Locks.
type Syncer struct {
	Store    Store
	Fetcher  Fetcher
	Locks    *ctxlock.Locker
	Embedder Embedder
}

// RunOnce drives one full pass of the state machine for cfg: Fetching
// repomd through Recording (or NoChange, or RecordingFailure). It acquires
// cfg.Name's lock for its duration, satisfying the per-repository
// serialization guarantee in spec §5.
func (s *Syncer) RunOnce(ctx context.Context, cfg rpmqd.RepositoryConfig) Report {
	start := time.Now()
	ctx, done := s.Locks.Lock(ctx, cfg.Name)
	defer done()
	if err := ctx.Err(); err != nil {
		return Report{Repository: cfg.Name, Final: StateRecordingFailed, Err: err}
	}

	ctx = zlog.ContextWithValues(ctx, "component", "syncer.RunOnce", "repository", cfg.Name, "run", uuid.New().String())

	report := s.runLocked(ctx, cfg)
	outcome := "success"
	switch {
	case report.Err != nil:
		outcome = "failure"
	case report.Final == StateNoChange:
		outcome = "no_change"
	}
	metrics.ObserveSync(cfg.Name, outcome, start)
	return report
}

func (s *Syncer) runLocked(ctx context.Context, cfg rpmqd.RepositoryConfig) Report {
	prev, err := s.Store.GetSyncState(ctx, cfg.Name)
	if err != nil {
		return s.fail(ctx, cfg, prev, err)
	}

	// Fetching repomd.
	repomdBody, err := s.Fetcher.Get(ctx, cfg.BaseURL+"/repodata/repomd.xml")
	if err != nil {
		return s.fail(ctx, cfg, prev, err)
	}
	repomdBytes, err := io.ReadAll(repomdBody)
	repomdBody.Close()
	if err != nil {
		return s.fail(ctx, cfg, prev, rpmqd.Wrap(rpmqd.ErrNetwork, "syncer.runLocked", err))
	}

	// Comparing.
	entries, err := repomd.ParseRepoMD(bytes.NewReader(repomdBytes))
	if err != nil {
		return s.fail(ctx, cfg, prev, err)
	}
	primary, err := repomd.Primary(entries)
	if err != nil {
		return s.fail(ctx, cfg, prev, err)
	}

	if primary.Checksum.Value != "" && primary.Checksum.Value == prev.LastChecksum {
		zlog.Info(ctx).Msg("no change since last sync")
		st := prev
		st.Repository = cfg.Name
		st.LastSyncTime = time.Now().UTC()
		st.LastSuccess = true
		st.LastMessage = ""
		st.Attempt = prev.Attempt + 1
		if err := s.Store.RecordSyncState(ctx, st); err != nil {
			return s.fail(ctx, cfg, prev, err)
		}
		return Report{Repository: cfg.Name, Final: StateNoChange}
	}

	// Fetching primary.
	primaryURL := cfg.BaseURL + "/" + primary.Location.Href
	primaryBody, err := s.Fetcher.Get(ctx, primaryURL)
	if err != nil {
		return s.fail(ctx, cfg, prev, err)
	}
	primaryBytes, err := io.ReadAll(primaryBody)
	primaryBody.Close()
	if err != nil {
		return s.fail(ctx, cfg, prev, rpmqd.Wrap(rpmqd.ErrNetwork, "syncer.runLocked", err))
	}
	if err := repomd.VerifyChecksum(primaryBytes, primary.Checksum.Type, primary.Checksum.Value); err != nil {
		return s.fail(ctx, cfg, prev, err)
	}

	codec := repomd.DetectCodec(primary.Location.Href, primaryBytes)
	decoded, err := repomd.Decompress(bytes.NewReader(primaryBytes), codec)
	if err != nil {
		return s.fail(ctx, cfg, prev, err)
	}

	// Ingesting.
	batch := normalize.NewBatch()
	var records []normalize.Record
	arch := cfg.ArchOrDefault()
	for raw, perr := range repomd.ParsePrimary(decoded) {
		if perr != nil {
			return s.fail(ctx, cfg, prev, perr)
		}
		if arch != "" && raw.Arch != arch && raw.Arch != "noarch" {
			continue
		}
		rec, err := normalize.Package(raw, cfg.Name)
		if err != nil {
			return s.fail(ctx, cfg, prev, err)
		}
		if err := batch.Add(rec); err != nil {
			return s.fail(ctx, cfg, prev, err)
		}
		records = append(records, rec)
	}
	if closer, ok := decoded.(io.Closer); ok {
		closer.Close()
	}

	ingestStart := time.Now()
	stats, err := ingest.Apply(ctx, s.Store, cfg.Name, records)
	if err != nil {
		return s.fail(ctx, cfg, prev, err)
	}
	metrics.ObserveIngest(cfg.Name, ingestStart, stats.Added, stats.Updated, stats.Removed)

	// Recording.
	st := rpmqd.SyncState{
		Repository:      cfg.Name,
		LastChecksum:    primary.Checksum.Value,
		LastPrimaryHref: primary.Location.Href,
		LastSyncTime:    time.Now().UTC(),
		LastSuccess:     true,
		Attempt:         prev.Attempt + 1,
	}
	if err := s.Store.RecordSyncState(ctx, st); err != nil {
		return s.fail(ctx, cfg, prev, err)
	}

	if s.Embedder != nil {
		if _, err := s.Embedder.Build(ctx, cfg.Name, embedtext.Incremental); err != nil {
			zlog.Warn(ctx).Err(err).Msg("post-sync embedding build failed; sync itself still succeeded")
		}
	}

	zlog.Info(ctx).
		Int("added", stats.Added).Int("updated", stats.Updated).Int("removed", stats.Removed).
		Msg("sync complete")
	return Report{Repository: cfg.Name, Final: StateRecording, Stats: stats}
}

// fail persists a RecordingFailure transition: the error message is
// recorded, the previous checksum is retained so the next tick retries
// against the same baseline.
func (s *Syncer) fail(ctx context.Context, cfg rpmqd.RepositoryConfig, prev rpmqd.SyncState, cause error) Report {
	zlog.Error(ctx).Err(cause).Msg("sync failed")
	st := rpmqd.SyncState{
		Repository:      cfg.Name,
		LastChecksum:    prev.LastChecksum,
		LastPrimaryHref: prev.LastPrimaryHref,
		LastSyncTime:    time.Now().UTC(),
		LastSuccess:     false,
		LastMessage:     cause.Error(),
		Attempt:         prev.Attempt + 1,
	}
	if err := s.Store.RecordSyncState(ctx, st); err != nil {
		zlog.Error(ctx).Err(err).Msg("failed to record sync failure")
	}
	return Report{Repository: cfg.Name, Final: StateRecordingFailed, Err: cause}
}

var errNotConfigured = errors.New("syncer: repository not configured")
