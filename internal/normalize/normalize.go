// Package normalize converts the raw rpm-md records decoded by
// internal/repomd into the repo's own Package and Dependency types, applying
// the rules spec §3–§4.2 leave to the ingest layer: epoch defaulting,
// relation-flag parsing, and duplicate (name, arch) detection within a
// single repository.
package normalize

import (
	"fmt"
	"strconv"

	"github.com/rpmqd/rpmqd"
	"github.com/rpmqd/rpmqd/internal/repomd"
	"github.com/rpmqd/rpmqd/internal/rpmver"
)

// Record is one normalized package together with the requires/provides
// relations attached to it. It has no ID yet; assigning one is the
// metastore's job.
type Record struct {
	Package   rpmqd.Package
	Relations []Relation
}

// Relation is a requires/provides fact still carrying its package-local
// context, prior to being given a PackageID by the store.
type Relation struct {
	Kind    rpmqd.DependencyKind
	Name    string
	Flag    rpmqd.CompareFlag
	Version string
}

// Package converts a raw primary.xml record into a Record. repository names
// the repository the record was fetched from. An error here always wraps
// rpmqd.ErrParse; the ingest callers (Engine.Index and the syncer) abort the
// whole catalog on the first one.
func Package(raw repomd.RawPackage, repository string) (Record, error) {
	const op = "normalize.Package"
	if raw.Name == "" {
		return Record{}, rpmqd.Newf(rpmqd.ErrParse, op, "missing name")
	}
	if raw.Arch == "" {
		return Record{}, rpmqd.Newf(rpmqd.ErrParse, op, "package %q: missing arch", raw.Name)
	}
	if raw.Version.Version == "" {
		return Record{}, rpmqd.Newf(rpmqd.ErrParse, op, "package %q: missing version", raw.Name)
	}

	pkg := rpmqd.Package{
		Name:        raw.Name,
		Version:     raw.Version.Version,
		Release:     raw.Version.Release,
		Arch:        raw.Arch,
		Summary:     raw.Summary,
		Description: raw.Description,
		Repository:  repository,
	}
	if raw.Version.Epoch != "" {
		n, err := strconv.Atoi(raw.Version.Epoch)
		if err != nil {
			return Record{}, rpmqd.Wrap(rpmqd.ErrParse, op, fmt.Errorf("package %q: epoch %q: %w", raw.Name, raw.Version.Epoch, err))
		}
		pkg.Epoch = &n
	}

	rels := make([]Relation, 0, len(raw.Format.Requires.Entry)+len(raw.Format.Provides.Entry))
	for _, e := range raw.Format.Requires.Entry {
		rel, err := relation(rpmqd.Requires, e)
		if err != nil {
			return Record{}, rpmqd.Wrap(rpmqd.ErrParse, op, fmt.Errorf("package %q: %w", raw.Name, err))
		}
		rels = append(rels, rel)
	}
	for _, e := range raw.Format.Provides.Entry {
		rel, err := relation(rpmqd.Provides, e)
		if err != nil {
			return Record{}, rpmqd.Wrap(rpmqd.ErrParse, op, fmt.Errorf("package %q: %w", raw.Name, err))
		}
		rels = append(rels, rel)
	}

	return Record{Package: pkg, Relations: rels}, nil
}

func relation(kind rpmqd.DependencyKind, e repomd.RawRelation) (Relation, error) {
	rel := Relation{Kind: kind, Name: e.Name}
	if e.Name == "" {
		return Relation{}, fmt.Errorf("relation entry missing name")
	}
	if e.Flags == "" {
		rel.Flag = rpmqd.FlagUnspecified
		return rel, nil
	}
	rel.Flag = flagOrUnspecified(e.Flags)

	triple := rpmver.Triple{Version: e.Version, Release: e.Release}
	if e.Epoch != "" {
		n, err := strconv.Atoi(e.Epoch)
		if err != nil {
			return Relation{}, fmt.Errorf("relation %q: epoch %q: %w", e.Name, e.Epoch, err)
		}
		triple.Epoch = n
	}
	rel.Version = rpmver.FormatEVR(triple)
	return rel, nil
}

// Batch accumulates Records for a single repository ingest pass, rejecting a
// second record for the same (name, arch) pair. Package.ID's defining
// constraint is the (Name, Arch, Repository) triple (see rpmqd.Package), so
// a primary.xml that lists the same name/arch twice is malformed input, not
// a legitimate multi-version catalog entry; the second occurrence is
// reported rather than silently overwriting the first.
type Batch struct {
	seen map[[2]string]struct{}
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch {
	return &Batch{seen: make(map[[2]string]struct{})}
}

// Add registers rec's (Name, Arch) pair, returning an error if it has
// already been seen in this Batch.
func (b *Batch) Add(rec Record) error {
	key := [2]string{rec.Package.Name, rec.Package.Arch}
	if _, ok := b.seen[key]; ok {
		return rpmqd.Newf(rpmqd.ErrParse, "normalize.Batch.Add",
			"duplicate package %q/%q within repository %q", rec.Package.Name, rec.Package.Arch, rec.Package.Repository)
	}
	b.seen[key] = struct{}{}
	return nil
}

// flagOrUnspecified is exported indirectly through Relation; kept unexported
// since callers only ever see the result on a built Relation.
func flagOrUnspecified(s string) rpmqd.CompareFlag {
	switch s {
	case "EQ", "=":
		return rpmqd.FlagEQ
	case "LT", "<":
		return rpmqd.FlagLT
	case "LE", "<=":
		return rpmqd.FlagLE
	case "GT", ">":
		return rpmqd.FlagGT
	case "GE", ">=":
		return rpmqd.FlagGE
	default:
		return rpmqd.FlagUnspecified
	}
}
