// Package ingest applies the three-way add/update/remove diff between a
// freshly parsed catalog and the packages currently stored for a
// repository, inside a single transactional boundary. See spec §4.8.
package ingest

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/rpmqd/rpmqd"
	"github.com/rpmqd/rpmqd/internal/metastore"
	"github.com/rpmqd/rpmqd/internal/normalize"
)

// Store is the subset of *metastore.Store the diff needs: listing a
// repository's current packages and the DB handle to open the transaction
// the whole diff runs inside.
type Store interface {
	PackagesInRepo(ctx context.Context, repository string) ([]rpmqd.Package, error)
	DB() *sql.DB
}

// Apply computes and applies the three-way diff of records (a freshly
// parsed, already-deduplicated catalog for repository) against the
// currently stored package set for repository, inside one transaction:
// either every add/update/remove commits, or none does. The returned
// IngestStats.Repository is repository; a uuid correlates this run's log
// lines.
func Apply(ctx context.Context, store Store, repository string, records []normalize.Record) (rpmqd.IngestStats, error) {
	const op = "ingest.Apply"
	run := uuid.New()
	ctx = zlog.ContextWithValues(ctx, "component", "ingest.Apply", "repository", repository, "run", run.String())

	existing, err := store.PackagesInRepo(ctx, repository)
	if err != nil {
		return rpmqd.IngestStats{}, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	existingByKey := make(map[[2]string]rpmqd.Package, len(existing))
	for _, pkg := range existing {
		existingByKey[[2]string{pkg.Name, pkg.Arch}] = pkg
	}

	fresh := make(map[[2]string]normalize.Record, len(records))
	for _, rec := range records {
		fresh[[2]string{rec.Package.Name, rec.Package.Arch}] = rec
	}

	stats := rpmqd.IngestStats{Repository: repository}

	tx, err := store.DB().BeginTx(ctx, nil)
	if err != nil {
		return rpmqd.IngestStats{}, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}
	defer tx.Rollback()

	for key, rec := range fresh {
		old, present := existingByKey[key]
		pkg := rec.Package
		deps := relationsToDependencies(rec.Relations)

		switch {
		case !present:
			if err := metastore.InsertPackageTx(ctx, tx, &pkg, deps); err != nil {
				return rpmqd.IngestStats{}, err
			}
			stats.Added++
		case versionChanged(old, pkg):
			if err := metastore.UpdatePackageTx(ctx, tx, &pkg, deps); err != nil {
				return rpmqd.IngestStats{}, err
			}
			stats.Updated++
		}
	}

	for key, old := range existingByKey {
		if _, present := fresh[key]; !present {
			if err := metastore.DeletePackageTx(ctx, tx, old.ID); err != nil {
				return rpmqd.IngestStats{}, err
			}
			stats.Removed++
		}
	}

	if err := tx.Commit(); err != nil {
		return rpmqd.IngestStats{}, rpmqd.Wrap(rpmqd.ErrStorage, op, err)
	}

	zlog.Info(ctx).
		Int("added", stats.Added).
		Int("updated", stats.Updated).
		Int("removed", stats.Removed).
		Msg("ingest diff applied")
	return stats, nil
}

// versionChanged reports whether old and fresh differ under strict
// (epoch, version, release) equality. Per spec §4.8, the direction of
// change is not checked — a downstream catalog may roll back a version and
// this is still treated as an update. Epoch is compared as *int, not via
// EpochOrZero, because a catalog entry gaining or dropping an explicit
// epoch="0" is itself a change even though both coerce to the same int.
func versionChanged(old, fresh rpmqd.Package) bool {
	return !epochEqual(old.Epoch, fresh.Epoch) ||
		old.Version != fresh.Version ||
		old.Release != fresh.Release
}

func epochEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func relationsToDependencies(rels []normalize.Relation) []rpmqd.Dependency {
	deps := make([]rpmqd.Dependency, len(rels))
	for i, r := range rels {
		deps[i] = rpmqd.Dependency{Kind: r.Kind, Name: r.Name, Flag: r.Flag, Version: r.Version}
	}
	return deps
}
