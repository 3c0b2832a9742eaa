// Package updater replaces an installed model bundle with the repository's
// canonical checkpoint when one newer than the installed one exists.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/absmach/fedlet/pkg/bundle"
	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/identifier"
	"github.com/absmach/fedlet/pkg/repository"
	"github.com/absmach/fedlet/pkg/transfer"
	"github.com/google/uuid"
)

const maxUpgradeHops = 8

var removeAll = os.RemoveAll

// Repository is the subset of the model repository client the updater uses.
type Repository interface {
	GetModel(ctx context.Context, modelID string) (repository.Model, error)
	GetHyperparameters(ctx context.Context, modelID, hyperparametersID string) (repository.Hyperparameters, error)
	GetCheckpoint(ctx context.Context, modelID, hyperparametersID, checkpointID string) (repository.Checkpoint, error)
	DownloadModelBundle(ctx context.Context, link *url.URL, dest string, progress transfer.ProgressFunc) error
}

type Result struct {
	Updated bool
	Path    string
}

type Option func(*Updater)

func WithLogger(logger *slog.Logger) Option {
	return func(u *Updater) {
		u.logger = logger
	}
}

func WithProgress(fn transfer.ProgressFunc) Option {
	return func(u *Updater) {
		u.progress = fn
	}
}

// Updater borrows the bundle; after a successful update the caller reloads
// it from Result.Path.
type Updater struct {
	bundle   *bundle.ModelBundle
	repo     Repository
	logger   *slog.Logger
	progress transfer.ProgressFunc
}

func New(b *bundle.ModelBundle, repo Repository, opts ...Option) *Updater {
	u := &Updater{
		bundle: b,
		repo:   repo,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}

	return u
}

// canonical resolves the repository's current identifier for the bundle's
// model, following retired hyperparameter sets to their replacement.
func (u *Updater) canonical(ctx context.Context) (identifier.ModelIdentifier, error) {
	current := u.bundle.Identifier
	if current.IsZero() {
		return identifier.ModelIdentifier{}, pkgerrors.New(pkgerrors.KindBundle, "check for update",
			fmt.Sprintf("bundle id %q is not a repository identifier", u.bundle.ID))
	}

	m, err := u.repo.GetModel(ctx, current.ModelID)
	if err != nil {
		return identifier.ModelIdentifier{}, err
	}

	hpID := m.CanonicalHyperparameters
	for range maxUpgradeHops {
		hp, err := u.repo.GetHyperparameters(ctx, current.ModelID, hpID)
		if err != nil {
			return identifier.ModelIdentifier{}, err
		}
		if hp.UpgradeTo == "" || hp.UpgradeTo == hpID {
			return identifier.New(current.ModelID, hp.HyperparametersID, hp.CanonicalCheckpoint)
		}
		hpID = hp.UpgradeTo
	}

	return identifier.ModelIdentifier{}, pkgerrors.New(pkgerrors.KindProtocol, "check for update", "hyperparameters upgrade chain too long")
}

// CheckForUpdate reports whether the canonical hyperparameters or
// checkpoint differ from the installed ones. Only metadata is fetched.
func (u *Updater) CheckForUpdate(ctx context.Context) (bool, error) {
	target, err := u.canonical(ctx)
	if err != nil {
		return false, err
	}

	return target != u.bundle.Identifier, nil
}

// Update installs the canonical checkpoint when it differs from the
// installed one. The installed bundle is left untouched unless the new one
// downloaded, extracted and validated cleanly.
func (u *Updater) Update(ctx context.Context, predicate bundle.Predicate) (Result, error) {
	const op = "update model"

	target, err := u.canonical(ctx)
	if err != nil {
		return Result{}, err
	}
	if target == u.bundle.Identifier {
		return Result{Updated: false}, nil
	}

	cp, err := u.repo.GetCheckpoint(ctx, target.ModelID, target.HyperparametersID, target.CheckpointID)
	if err != nil {
		return Result{}, err
	}

	dest := u.bundle.Path
	staging := filepath.Join(filepath.Dir(dest), ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.KindInternal, op, err)
	}
	defer os.RemoveAll(staging)

	archive := filepath.Join(staging, "bundle.zip")
	if err := u.repo.DownloadModelBundle(ctx, cp.Link, archive, u.progress); err != nil {
		return Result{}, err
	}

	extracted := filepath.Join(staging, "extracted")
	if err := transfer.Extract(archive, extracted); err != nil {
		return Result{}, err
	}
	dir, err := bundle.FindBundleDir(extracted, bundle.ModelManifest)
	if err != nil {
		return Result{}, err
	}
	staged, err := bundle.LoadModelBundle(dir)
	if err != nil {
		return Result{}, err
	}
	if staged.Identifier != target {
		return Result{}, pkgerrors.New(pkgerrors.KindBundle, op,
			fmt.Sprintf("downloaded bundle declares %q, requested %q", staged.ID, target.String()))
	}
	if err := bundle.ValidateModel(dir, predicate); err != nil {
		return Result{}, err
	}

	if err := u.swap(dest, dir); err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.KindInternal, op, err)
	}

	u.logger.Info("model bundle updated",
		slog.String("path", dest),
		slog.String("from", u.bundle.Identifier.String()),
		slog.String("to", target.String()))

	return Result{Updated: true, Path: dest}, nil
}

// swap moves staged into dest's place, restoring dest if the move fails.
// Once staged is in place the swap has succeeded; a leftover backup is only
// logged.
func (u *Updater) swap(dest, staged string) error {
	backup := filepath.Join(filepath.Dir(dest), ".backup-"+uuid.NewString())
	if err := os.Rename(dest, backup); err != nil {
		return fmt.Errorf("failed to back up %s: %w", dest, err)
	}

	if err := os.Rename(staged, dest); err != nil {
		if rerr := os.Rename(backup, dest); rerr != nil {
			return fmt.Errorf("failed to install bundle: %w (restore failed: %v)", err, rerr)
		}

		return fmt.Errorf("failed to install bundle: %w", err)
	}

	if err := removeAll(backup); err != nil {
		u.logger.Warn("failed to remove replaced model bundle", slog.String("path", backup), slog.Any("error", err))
	}

	return nil
}
