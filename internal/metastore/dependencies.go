package metastore

import (
	"context"

	"github.com/rpmqd/rpmqd"
)

// DependencyNames returns the relation names (not the full Dependency rows)
// attached to packageID for the given kind, in insertion order. This is the
// shape internal/embedtext needs to render a package's Provides/Requires
// lines.
func (s *Store) DependencyNames(ctx context.Context, packageID int64, kind rpmqd.DependencyKind) ([]string, error) {
	const op = "metastore.DependencyNames"
	table := requiresTable
	if kind == rpmqd.Provides {
		table = providesTable
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM `+table+` WHERE package_id = ? ORDER BY id`, packageID)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Dependencies returns the full requires+provides rows owned by packageID.
func (s *Store) Dependencies(ctx context.Context, packageID int64) ([]rpmqd.Dependency, error) {
	const op = "metastore.Dependencies"
	var out []rpmqd.Dependency
	for kind, table := range map[rpmqd.DependencyKind]string{rpmqd.Requires: requiresTable, rpmqd.Provides: providesTable} {
		rows, err := s.db.QueryContext(ctx, `SELECT id, package_id, name, flag, version FROM `+table+` WHERE package_id = ? ORDER BY id`, packageID)
		if err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		for rows.Next() {
			var d rpmqd.Dependency
			var flag string
			if err := rows.Scan(&d.ID, &d.PackageID, &d.Name, &flag, &d.Version); err != nil {
				rows.Close()
				return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
			}
			d.Kind = kind
			d.Flag = rpmqd.CompareFlag(flag)
			out = append(out, d)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
	}
	return out, nil
}

// AllPackageIDs returns every package ID in repository, or across all
// repositories when repository is empty.
func (s *Store) AllPackageIDs(ctx context.Context, repository string) ([]int64, error) {
	const op = "metastore.AllPackageIDs"
	query := `SELECT id FROM packages ORDER BY id`
	args := []any{}
	if repository != "" {
		query = `SELECT id FROM packages WHERE repository = ? ORDER BY id`
		args = append(args, repository)
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
	return ids, rows.Err()
}
