package metastore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rpmqd/rpmqd"
)

// InsertPackage inserts pkg and its relations in a single transaction,
// assigning pkg.ID. Callers that need the three-way ingest diff to be
// atomic across many packages should use a *sql.Tx obtained from DB()
// instead; this method is for single-package callers (tests, ad hoc
// tooling).
func (s *Store) InsertPackage(ctx context.Context, pkg *rpmqd.Package, deps []rpmqd.Dependency) error {
	const op = "metastore.InsertPackage"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer tx.Rollback()

	if err := InsertPackageTx(ctx, tx, pkg, deps); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return nil
}

// InsertPackageTx is the transactional primitive InsertPackage and the
// ingest package's three-way diff both build on.
func InsertPackageTx(ctx context.Context, tx *sql.Tx, pkg *rpmqd.Package, deps []rpmqd.Dependency) error {
	const op = "metastore.InsertPackageTx"
	res, err := tx.ExecContext(ctx,
		`INSERT INTO packages (name, epoch, version, release, arch, summary, description, repository) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pkg.Name, epochValue(pkg), pkg.Version, pkg.Release, pkg.Arch, pkg.Summary, pkg.Description, pkg.Repository)
	if err != nil {
		if isUniqueViolation(err) {
			return rpmqd.Wrap(rpmqd.ErrUniqueViolation, op, err)
		}
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	pkg.ID = id

	for _, d := range deps {
		table := requiresTable
		if d.Kind == rpmqd.Provides {
			table = providesTable
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+` (package_id, name, flag, version) VALUES (?, ?, ?, ?)`,
			id, d.Name, string(d.Flag), d.Version); err != nil {
			return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
	}
	return nil
}

const (
	requiresTable = "requires"
	providesTable = "provides"
)

// UpdatePackageTx overwrites the row identified by (name, arch, repository)
// with pkg's fields and replaces its dependency rows wholesale. pkg.ID is
// set to the existing row's id on success.
func UpdatePackageTx(ctx context.Context, tx *sql.Tx, pkg *rpmqd.Package, deps []rpmqd.Dependency) error {
	const op = "metastore.UpdatePackageTx"
	var id int64
	row := tx.QueryRowContext(ctx,
		`SELECT id FROM packages WHERE name = ? AND arch = ? AND repository = ?`,
		pkg.Name, pkg.Arch, pkg.Repository)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rpmqd.Newf(rpmqd.ErrNotFound, op, "package %q/%q in repository %q", pkg.Name, pkg.Arch, pkg.Repository)
		}
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE packages SET epoch = ?, version = ?, release = ?, summary = ?, description = ? WHERE id = ?`,
		epochValue(pkg), pkg.Version, pkg.Release, pkg.Summary, pkg.Description, id); err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM requires WHERE package_id = ?`, id); err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM provides WHERE package_id = ?`, id); err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	for _, d := range deps {
		table := requiresTable
		if d.Kind == rpmqd.Provides {
			table = providesTable
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+` (package_id, name, flag, version) VALUES (?, ?, ?, ?)`,
			id, d.Name, string(d.Flag), d.Version); err != nil {
			return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
	}
	pkg.ID = id
	return nil
}

// DeletePackageTx removes a package row and, via ON DELETE CASCADE, its
// dependency and embedding rows.
func DeletePackageTx(ctx context.Context, tx *sql.Tx, id int64) error {
	const op = "metastore.DeletePackageTx"
	if _, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE id = ?`, id); err != nil {
		return rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return nil
}

// FindPackage returns the package uniquely identified by (name, arch,
// repository), or a NotFound error.
func (s *Store) FindPackage(ctx context.Context, name, arch, repository string) (rpmqd.Package, error) {
	const op = "metastore.FindPackage"
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, epoch, version, release, arch, summary, description, repository FROM packages WHERE name = ? AND arch = ? AND repository = ?`,
		name, arch, repository)
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rpmqd.Package{}, rpmqd.Newf(rpmqd.ErrNotFound, op, "package %q/%q in repository %q", name, arch, repository)
	}
	if err != nil {
		return rpmqd.Package{}, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return pkg, nil
}

// PackagesInRepo returns every package row ingested under repository,
// ordered by name then arch.
func (s *Store) PackagesInRepo(ctx context.Context, repository string) ([]rpmqd.Package, error) {
	const op = "metastore.PackagesInRepo"
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, epoch, version, release, arch, summary, description, repository FROM packages WHERE repository = ? ORDER BY name, arch`,
		repository)
	if err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer rows.Close()

	var out []rpmqd.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
		}
		out = append(out, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	return out, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(r rowScanner) (rpmqd.Package, error) {
	var pkg rpmqd.Package
	var epoch sql.NullInt64
	if err := r.Scan(&pkg.ID, &pkg.Name, &epoch, &pkg.Version, &pkg.Release, &pkg.Arch, &pkg.Summary, &pkg.Description, &pkg.Repository); err != nil {
		return rpmqd.Package{}, err
	}
	if epoch.Valid {
		n := int(epoch.Int64)
		pkg.Epoch = &n
	}
	return pkg, nil
}

func epochValue(pkg *rpmqd.Package) any {
	if pkg.Epoch == nil {
		return nil
	}
	return *pkg.Epoch
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. modernc.org/sqlite surfaces these as a plain error whose message
// contains the SQLite-native text; there is no typed sentinel to check
// against, so substring matching is this driver's established idiom.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
