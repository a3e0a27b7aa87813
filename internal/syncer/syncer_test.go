package syncer

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rpmqd/rpmqd"
	"github.com/rpmqd/rpmqd/internal/ctxlock"
	"github.com/rpmqd/rpmqd/internal/metastore"
)

type fakeFetcher struct {
	byURL map[string]string // url -> fixture path
	calls []string
}

func (f *fakeFetcher) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	f.calls = append(f.calls, url)
	path, ok := f.byURL[url]
	if !ok {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func newTestStore(t *testing.T) *metastore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := metastore.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(base string) rpmqd.RepositoryConfig {
	return rpmqd.RepositoryConfig{Name: "r1", BaseURL: base, IntervalSeconds: 60, Arch: "x86_64"}
}

func TestRunOnceIngestsFreshCatalog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	fetcher := &fakeFetcher{byURL: map[string]string{
		"http://repo/repodata/repomd.xml":  "../repomd/testdata/repomd.xml",
		"http://repo/repodata/primary.xml": "../repomd/testdata/primary.xml",
	}}
	s := &Syncer{Store: store, Fetcher: fetcher, Locks: ctxlock.New()}

	report := s.RunOnce(ctx, testConfig("http://repo"))
	if report.Err != nil {
		t.Fatalf("RunOnce failed: %v", report.Err)
	}
	if report.Final != StateRecording {
		t.Fatalf("Final = %v, want StateRecording", report.Final)
	}
	if report.Stats.Added != 2 {
		t.Fatalf("Added = %d, want 2", report.Stats.Added)
	}

	st, err := store.GetSyncState(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if !st.LastSuccess || st.LastChecksum == "" {
		t.Fatalf("sync state not recorded as success: %+v", st)
	}
}

func TestRunOnceNoChangeSkipsPrimaryFetch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	fetcher := &fakeFetcher{byURL: map[string]string{
		"http://repo/repodata/repomd.xml":  "../repomd/testdata/repomd.xml",
		"http://repo/repodata/primary.xml": "../repomd/testdata/primary.xml",
	}}
	s := &Syncer{Store: store, Fetcher: fetcher, Locks: ctxlock.New()}
	cfg := testConfig("http://repo")

	first := s.RunOnce(ctx, cfg)
	if first.Err != nil {
		t.Fatalf("first RunOnce failed: %v", first.Err)
	}

	fetcher.calls = nil
	second := s.RunOnce(ctx, cfg)
	if second.Err != nil {
		t.Fatalf("second RunOnce failed: %v", second.Err)
	}
	if second.Final != StateNoChange {
		t.Fatalf("Final = %v, want StateNoChange", second.Final)
	}
	for _, call := range fetcher.calls {
		if call == "http://repo/repodata/primary.xml" {
			t.Fatal("primary.xml should not be fetched when repomd checksum is unchanged")
		}
	}
}

func TestRunOnceFetchFailureRecordsFailureAndRetainsChecksum(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	fetcher := &fakeFetcher{byURL: map[string]string{
		"http://repo/repodata/repomd.xml":  "../repomd/testdata/repomd.xml",
		"http://repo/repodata/primary.xml": "../repomd/testdata/primary.xml",
	}}
	s := &Syncer{Store: store, Fetcher: fetcher, Locks: ctxlock.New()}
	cfg := testConfig("http://repo")

	if r := s.RunOnce(ctx, cfg); r.Err != nil {
		t.Fatalf("seed RunOnce failed: %v", r.Err)
	}
	before, err := store.GetSyncState(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}

	broken := &Syncer{Store: store, Fetcher: &fakeFetcher{}, Locks: ctxlock.New()}
	report := broken.RunOnce(ctx, cfg)
	if report.Err == nil {
		t.Fatal("expected an error from a fetcher with no registered fixtures")
	}
	if report.Final != StateRecordingFailed {
		t.Fatalf("Final = %v, want StateRecordingFailed", report.Final)
	}

	after, err := store.GetSyncState(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if after.LastChecksum != before.LastChecksum {
		t.Fatalf("checksum changed after a failed sync: before=%q after=%q", before.LastChecksum, after.LastChecksum)
	}
	if after.LastSuccess {
		t.Fatal("expected LastSuccess = false after a failed sync")
	}
}
