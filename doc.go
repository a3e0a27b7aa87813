// Package rpmqd ingests RPM repository metadata (the rpm-md family of XML
// documents) and answers structured and semantic queries against the
// ingested corpus from a single local process, with no network dependency
// at query time.
//
// The subpackages under internal/ implement the pipeline stages (parse,
// normalize, store, embed) and the query planner; this package holds the
// shared data model, error domain, and the top-level [Engine] façade.
package rpmqd
