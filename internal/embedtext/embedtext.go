// Package embedtext builds the embedding input text for a package and
// drives batched calls against an Embedder collaborator, writing the
// resulting vectors to a vectorstore.Backend. See spec §4.6.
package embedtext

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/quay/zlog"

	"github.com/rpmqd/rpmqd"
)

// DefaultBatchSize is the reference batch size spec §4.6 names.
const DefaultBatchSize = 32

// Embedder is the external collaborator that turns input text into
// fixed-dimension vectors. Model loading, forward pass, and device
// selection are all its concern, not this package's — see spec §6.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the subset of vectorstore.Backend the builder writes through.
type Store interface {
	Upsert(ctx context.Context, packageID int64, vec []float32) error
	Delete(ctx context.Context, packageID int64) error
	IDsWithoutVector(ctx context.Context, candidateIDs []int64) ([]int64, error)
}

// Source resolves package IDs to the data needed to build their input
// text and enumerates candidate IDs for a repository (or all repositories
// when empty).
type Source interface {
	PackagesByIDs(ctx context.Context, ids []int64) (map[int64]rpmqd.Package, error)
	DependencyNames(ctx context.Context, packageID int64, kind rpmqd.DependencyKind) ([]string, error)
	AllPackageIDs(ctx context.Context, repository string) ([]int64, error)
}

// Mode selects which packages the builder targets.
type Mode int

const (
	// Incremental embeds only packages currently lacking a vector. This is
	// the default mode.
	Incremental Mode = iota
	// Rebuild wipes every embedding and reinserts one for every package.
	Rebuild
)

// Progress is emitted periodically (and per-batch in verbose mode) so a
// caller can surface build status without the builder depending on any
// particular logging or UI package.
type Progress struct {
	Repository string
	Embedded   int
	Total      int
	Skipped    int
}

// Builder drives the embed loop described in spec §4.6.
type Builder struct {
	Store     Store
	Source    Source
	Embedder  Embedder
	BatchSize int
	// Verbose, when true, logs and reports Progress once per batch instead
	// of only at the end of the run.
	Verbose bool
	// OnProgress, if set, receives a Progress report. Safe to leave nil.
	OnProgress func(Progress)
}

// Build embeds every package selected by mode within repository (or every
// repository, if repository is empty), writing vectors through Store.
// A single failing batch is logged and skipped; Build always processes the
// remaining batches.
func (b *Builder) Build(ctx context.Context, repository string, mode Mode) (Progress, error) {
	batchSize := b.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ids, err := b.Source.AllPackageIDs(ctx, repository)
	if err != nil {
		return Progress{}, rpmqd.Wrap(rpmqd.ErrEmbed, "embedtext.Build", err)
	}

	if mode == Incremental {
		ids, err = b.Store.IDsWithoutVector(ctx, ids)
		if err != nil {
			return Progress{}, rpmqd.Wrap(rpmqd.ErrEmbed, "embedtext.Build", err)
		}
	}
	if mode == Rebuild {
		for _, id := range ids {
			if err := b.Store.Delete(ctx, id); err != nil {
				return Progress{}, rpmqd.Wrap(rpmqd.ErrEmbed, "embedtext.Build", err)
			}
		}
	}

	progress := Progress{Repository: repository, Total: len(ids)}
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		batchIDs := ids[start:end]

		n, err := b.runBatch(ctx, batchIDs)
		if err != nil {
			zlog.Warn(ctx).
				Err(err).
				Str("repository", repository).
				Int("batch_start", start).
				Int("batch_size", len(batchIDs)).
				Msg("embedding batch failed; skipping")
			progress.Skipped += len(batchIDs)
			continue
		}
		progress.Embedded += n

		if b.Verbose {
			zlog.Info(ctx).
				Str("repository", repository).
				Int("embedded", progress.Embedded).
				Int("total", progress.Total).
				Msg("embedding batch complete")
			if b.OnProgress != nil {
				b.OnProgress(progress)
			}
		}
	}

	zlog.Info(ctx).
		Str("repository", repository).
		Str("embedded", humanize.Comma(int64(progress.Embedded))).
		Int("skipped", progress.Skipped).
		Msg("embedding build complete")

	if b.OnProgress != nil {
		b.OnProgress(progress)
	}
	return progress, nil
}

func (b *Builder) runBatch(ctx context.Context, ids []int64) (int, error) {
	pkgs, err := b.Source.PackagesByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	texts := make([]string, 0, len(ids))
	ordered := make([]int64, 0, len(ids))
	for _, id := range ids {
		pkg, ok := pkgs[id]
		if !ok {
			continue
		}
		text, err := b.inputText(ctx, pkg)
		if err != nil {
			return 0, err
		}
		texts = append(texts, text)
		ordered = append(ordered, id)
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := b.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, rpmqd.Wrap(rpmqd.ErrEmbed, "embedtext.runBatch", err)
	}
	if len(vectors) != len(texts) {
		return 0, rpmqd.Newf(rpmqd.ErrEmbed, "embedtext.runBatch", "embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	for i, id := range ordered {
		if err := b.Store.Upsert(ctx, id, vectors[i]); err != nil {
			return i, err
		}
	}
	return len(ordered), nil
}

// inputText builds the stable, documented input-text format from spec
// §4.6: name, summary, description, then comma-joined provides/requires
// names. Version digits are retained in the name-adjacent fields they
// already appear in (summary/description); no separate version line is
// added, since the format spec shows none.
func (b *Builder) inputText(ctx context.Context, pkg rpmqd.Package) (string, error) {
	provides, err := b.Source.DependencyNames(ctx, pkg.ID, rpmqd.Provides)
	if err != nil {
		return "", err
	}
	requires, err := b.Source.DependencyNames(ctx, pkg.ID, rpmqd.Requires)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Package: %s\n", pkg.Name)
	fmt.Fprintf(&sb, "Summary: %s\n", pkg.Summary)
	sb.WriteString("Description:\n")
	sb.WriteString(pkg.Description)
	sb.WriteByte('\n')
	fmt.Fprintf(&sb, "Provides: %s\n", strings.Join(provides, ", "))
	fmt.Fprintf(&sb, "Requires: %s\n", strings.Join(requires, ", "))
	return sb.String(), nil
}
