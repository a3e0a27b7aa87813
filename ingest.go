package rpmqd

// IngestStats reports the outcome of an index/incremental-ingest operation.
// See spec §4.8, §6.
type IngestStats struct {
	Repository string `json:"repository"`
	Added      int    `json:"added"`
	Updated    int    `json:"updated"`
	Removed    int    `json:"removed"`
}

// Ordering is the result of comparing two version triples. See spec §4.1.
type Ordering int

const (
	Less    Ordering = iota - 1 // less
	Equal                       // equal
	Greater                     // greater
)

//go:generate go run golang.org/x/tools/cmd/stringer -type Ordering -linecomment -output ordering_string.go

// SearchFilters are the optional structured predicates accepted alongside a
// query's free text. See spec §4.7.
type SearchFilters struct {
	Arch       string
	Repository string
	// NotRequiring excludes packages that declare a requires-dependency on
	// this name whose version compares to NotRequiringVersion as
	// NotRequiringFlag says (FlagGE: >= the bound, per rpmvercmp); an empty
	// or unspecified flag excludes on any declared version. Empty Version
	// means "any version of this requirement excludes the package."
	NotRequiring        string
	NotRequiringFlag    CompareFlag
	NotRequiringVersion string
	// Providing requires a package to declare a provides-dependency on this
	// name, with no version bound.
	Providing string
}

// SearchResult is one row of a planner search, in descending similarity (or
// name/version) order.
type SearchResult struct {
	Package Package
	// Score is the similarity score for semantic/hybrid results; zero for
	// purely structured results, which carry no similarity notion.
	Score float64
}
