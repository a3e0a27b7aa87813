package metastore

import (
	"context"

	"github.com/doug-martin/goqu/v8"

	"github.com/rpmqd/rpmqd"
	"github.com/rpmqd/rpmqd/internal/rpmver"
)

// FilteredCandidateIDs returns the IDs of packages matching f's structured
// predicates (arch, repository), ignoring the dependency-aware filters,
// which require a second pass in Go since rpmvercmp has no SQL
// representation. This is the planner's pre-filter query: the ID set it
// returns is a superset that ApplyDependencyFilters then narrows.
func (s *Store) FilteredCandidateIDs(ctx context.Context, f rpmqd.SearchFilters) ([]int64, error) {
	const op = "metastore.FilteredCandidateIDs"
	ds := s.dialect.From("packages").Select("id")
	if f.Arch != "" {
		ds = ds.Where(goqu.Ex{"arch": f.Arch})
	}
	if f.Repository != "" {
		ds = ds.Where(goqu.Ex{"repository": f.Repository})
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return ids, nil
}

// ApplyDependencyFilters narrows ids to the packages satisfying f's
// Providing and NotRequiring predicates. Providing is a SQL EXISTS check
// (no version comparison is defined on it by spec §4.7); NotRequiring
// additionally compares the requirement's bound version against
// f.NotRequiringVersion via rpmver.CompareStrings, since SQLite has no rpmvercmp
// collation.
func (s *Store) ApplyDependencyFilters(ctx context.Context, ids []int64, f rpmqd.SearchFilters) ([]int64, error) {
	const op = "metastore.ApplyDependencyFilters"
	if len(ids) == 0 || (f.Providing == "" && f.NotRequiring == "") {
		return ids, nil
	}

	if f.Providing != "" {
		providing, err := s.idsWithRelation(ctx, ids, "provides", f.Providing)
		if err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		ids = intersect(ids, providing)
	}
	if f.NotRequiring != "" {
		excluded, err := s.idsRequiringAtLeast(ctx, ids, f.NotRequiring, f.NotRequiringFlag, f.NotRequiringVersion)
		if err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		ids = subtract(ids, excluded)
	}
	return ids, nil
}

func (s *Store) idsWithRelation(ctx context.Context, ids []int64, table, name string) ([]int64, error) {
	ds := s.dialect.From(table).Select("package_id").
		Where(goqu.Ex{"package_id": ids, "name": name})
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	return s.queryIDs(ctx, query, args)
}

// idsRequiringAtLeast returns the subset of ids declaring a requires
// dependency on name whose bound satisfies version (or any bound, when
// version is empty): packages that must be excluded from a NotRequiring
// filter.
func (s *Store) idsRequiringAtLeast(ctx context.Context, ids []int64, name string, flag rpmqd.CompareFlag, version string) ([]int64, error) {
	ds := s.dialect.From("requires").
		Select("package_id", "version").
		Where(goqu.Ex{"package_id": ids, "name": name})
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		var boundVersion string
		if err := rows.Scan(&id, &boundVersion); err != nil {
			return nil, err
		}
		if version == "" {
			out = append(out, id)
			continue
		}
		if requirementSatisfies(flag, boundVersion, version) {
			out = append(out, id)
		}
	}
	return out, rows.Err()
}

// requirementSatisfies reports whether a package's declared requirement
// bound (boundVersion, compared with flag against the filter's version)
// means the package should be treated as requiring at least that version.
// Absent a usable flag, any declared version counts as a match, matching
// the conservative "could be satisfied by this version" reading spec §4.7
// calls for.
func requirementSatisfies(flag rpmqd.CompareFlag, boundVersion, filterVersion string) bool {
	cmp := rpmver.CompareStrings(boundVersion, filterVersion)
	switch flag {
	case rpmqd.FlagEQ:
		return cmp == rpmver.Equal
	case rpmqd.FlagGE:
		return cmp == rpmver.Equal || cmp == rpmver.Greater
	case rpmqd.FlagGT:
		return cmp == rpmver.Greater
	case rpmqd.FlagLE:
		return cmp == rpmver.Equal || cmp == rpmver.Less
	case rpmqd.FlagLT:
		return cmp == rpmver.Less
	default:
		return true
	}
}

func (s *Store) queryIDs(ctx context.Context, query string, args []any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func intersect(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	var out []int64
	for _, id := range a {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func subtract(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	var out []int64
	for _, id := range a {
		if _, ok := set[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// PackagesByIDs resolves a set of IDs to their full rows, keyed by ID. The
// map carries no ordering; IDs with no stored package are absent from it.
func (s *Store) PackagesByIDs(ctx context.Context, ids []int64) (map[int64]rpmqd.Package, error) {
	const op = "metastore.PackagesByIDs"
	if len(ids) == 0 {
		return map[int64]rpmqd.Package{}, nil
	}
	ds := s.dialect.From("packages").
		Select("id", "name", "epoch", "version", "release", "arch", "summary", "description", "repository").
		Where(goqu.Ex{"id": ids})
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer rows.Close()

	out := make(map[int64]rpmqd.Package, len(ids))
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		out[pkg.ID] = pkg
	}
	if err := rows.Err(); err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return out, nil
}
