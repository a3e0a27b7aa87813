package metastore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rpmqd/rpmqd"
)

// GetSyncState returns the recorded sync state for repository, or a state
// carrying only the repository name (LastSuccess false, no checksum) if the
// repository has never been synced.
func (s *Store) GetSyncState(ctx context.Context, repository string) (rpmqd.SyncState, error) {
	const op = "metastore.GetSyncState"
	row := s.db.QueryRowContext(ctx,
		`SELECT repository, last_checksum, last_primary_href, last_sync_time, last_success, last_message, attempt
		 FROM repo_sync_state WHERE repository = ?`, repository)

	var st rpmqd.SyncState
	var syncTime sql.NullTime
	var success int
	err := row.Scan(&st.Repository, &st.LastChecksum, &st.LastPrimaryHref, &syncTime, &success, &st.LastMessage, &st.Attempt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return rpmqd.SyncState{Repository: repository}, nil
	case err != nil:
		return rpmqd.SyncState{}, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	if syncTime.Valid {
		st.LastSyncTime = syncTime.Time
	}
	st.LastSuccess = success != 0
	return st, nil
}

// RecordSyncState upserts st, incrementing nothing itself: callers set
// st.Attempt before calling (typically the previous attempt plus one).
func (s *Store) RecordSyncState(ctx context.Context, st rpmqd.SyncState) error {
	const op = "metastore.RecordSyncState"
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repo_sync_state (repository, last_checksum, last_primary_href, last_sync_time, last_success, last_message, attempt)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (repository) DO UPDATE SET
		   last_checksum = excluded.last_checksum,
		   last_primary_href = excluded.last_primary_href,
		   last_sync_time = excluded.last_sync_time,
		   last_success = excluded.last_success,
		   last_message = excluded.last_message,
		   attempt = excluded.attempt`,
		st.Repository, st.LastChecksum, st.LastPrimaryHref, st.LastSyncTime.UTC(), boolToInt(st.LastSuccess), st.LastMessage, st.Attempt)
	if err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return nil
}

// ListSyncStates returns every recorded sync state, ordered by repository
// name.
func (s *Store) ListSyncStates(ctx context.Context) ([]rpmqd.SyncState, error) {
	const op = "metastore.ListSyncStates"
	rows, err := s.db.QueryContext(ctx,
		`SELECT repository, last_checksum, last_primary_href, last_sync_time, last_success, last_message, attempt
		 FROM repo_sync_state ORDER BY repository`)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer rows.Close()

	var out []rpmqd.SyncState
	for rows.Next() {
		var st rpmqd.SyncState
		var syncTime sql.NullTime
		var success int
		if err := rows.Scan(&st.Repository, &st.LastChecksum, &st.LastPrimaryHref, &syncTime, &success, &st.LastMessage, &st.Attempt); err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		if syncTime.Valid {
			st.LastSyncTime = syncTime.Time
		}
		st.LastSuccess = success != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
