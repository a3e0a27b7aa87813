package metastore

import (
	"context"

	"github.com/rpmqd/rpmqd"
)

// RepositoryCount is one row of ListRepositories: a repository name and the
// number of packages currently stored under it.
type RepositoryCount struct {
	Repository string
	Count      int
}

// ListRepositories returns every repository name with a package stored
// under it, and each one's package count, ordered by name.
func (s *Store) ListRepositories(ctx context.Context) ([]RepositoryCount, error) {
	const op = "metastore.ListRepositories"
	rows, err := s.db.QueryContext(ctx,
		`SELECT repository, COUNT(*) FROM packages GROUP BY repository ORDER BY repository`)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer rows.Close()

	var out []RepositoryCount
	for rows.Next() {
		var rc RepositoryCount
		if err := rows.Scan(&rc.Repository, &rc.Count); err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// RepoStats returns the package count for repository, 0 if it has no
// packages (or does not exist).
func (s *Store) RepoStats(ctx context.Context, repository string) (int, error) {
	const op = "metastore.RepoStats"
	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packages WHERE repository = ?`, repository)
	if err := row.Scan(&count); err != nil {
		return 0, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return count, nil
}

// DeleteRepository removes every package row (and, by cascade, dependency
// and embedding rows) stored under repository, plus its sync state, in a
// single transaction. It returns the number of packages removed.
func (s *Store) DeleteRepository(ctx context.Context, repository string) (int, error) {
	const op = "metastore.DeleteRepository"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE repository = ?`, repository)
	if err != nil {
		return 0, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM repo_sync_state WHERE repository = ?`, repository); err != nil {
		return 0, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return int(n), nil
}

// DeletePackage removes the single package identified by (name, arch,
// repository), cascading to its dependencies and embedding. It is a
// NotFound error to delete a package that does not exist.
func (s *Store) DeletePackage(ctx context.Context, name, arch, repository string) error {
	const op = "metastore.DeletePackage"
	pkg, err := s.FindPackage(ctx, name, arch, repository)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer tx.Rollback()
	if err := DeletePackageTx(ctx, tx, pkg.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return nil
}
