package rpmqd

// DependencyKind distinguishes a requires fact from a provides fact.
type DependencyKind string

const (
	Requires DependencyKind = "requires"
	Provides DependencyKind = "provides"
)

// CompareFlag is the rpm-md comparison operator attached to a dependency's
// version bound, or Unspecified if the dependency names a capability without
// a version bound.
type CompareFlag string

const (
	FlagEQ          CompareFlag = "EQ"
	FlagLT          CompareFlag = "LT"
	FlagLE          CompareFlag = "LE"
	FlagGT          CompareFlag = "GT"
	FlagGE          CompareFlag = "GE"
	FlagUnspecified CompareFlag = "unspecified"
)

// Dependency is a directed requires/provides fact attached to a Package. See
// spec §3.
type Dependency struct {
	ID        int64          `json:"id"`
	PackageID int64          `json:"package_id"`
	Kind      DependencyKind `json:"kind"`
	Name      string         `json:"name"`
	Flag      CompareFlag    `json:"flag"`
	// Version is empty when Flag is FlagUnspecified.
	Version string `json:"version,omitempty"`
}
