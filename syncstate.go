package rpmqd

import "time"

// SyncState is the one row per configured remote repository tracking the
// repository synchronization state machine's outcome. See spec §3, §4.9.
type SyncState struct {
	Repository string `json:"repository"`

	// LastChecksum is the checksum of the primary.xml entry last recorded
	// from repomd.xml, used to detect NoChange on the next tick.
	LastChecksum string `json:"last_checksum,omitempty"`
	// LastPrimaryHref is the location-href last used to fetch primary.xml,
	// kept only for diagnostics across a restarted daemon.
	LastPrimaryHref string `json:"last_primary_href,omitempty"`

	LastSyncTime time.Time `json:"last_sync_time"`
	LastSuccess  bool      `json:"last_success"`
	LastMessage  string    `json:"last_message,omitempty"`

	// Attempt is a monotonic counter of sync attempts, success or failure,
	// used to correlate log lines with a particular tick.
	Attempt int64 `json:"attempt"`
}
