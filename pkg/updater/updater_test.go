package updater_test

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/absmach/fedlet/pkg/bundle"
	"github.com/absmach/fedlet/pkg/bundle/bundletest"
	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/repository"
	"github.com/absmach/fedlet/pkg/transfer"
	"github.com/absmach/fedlet/pkg/updater"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	installedID = "tio:///models/M1/hyperparameters/H1/checkpoints/C1"
	canonicalID = "tio:///models/M1/hyperparameters/H1/checkpoints/C2"
)

type fakeRepo struct {
	canonicalHP   string
	canonicalCkpt string
	upgrades      map[string]string
	archive       string
	downloads     atomic.Int32
	downloadErr   error
}

func (r *fakeRepo) GetModel(_ context.Context, modelID string) (repository.Model, error) {
	return repository.Model{ModelID: modelID, CanonicalHyperparameters: r.canonicalHP}, nil
}

func (r *fakeRepo) GetHyperparameters(_ context.Context, modelID, hpID string) (repository.Hyperparameters, error) {
	return repository.Hyperparameters{
		ModelID:             modelID,
		HyperparametersID:   hpID,
		UpgradeTo:           r.upgrades[hpID],
		CanonicalCheckpoint: r.canonicalCkpt,
	}, nil
}

func (r *fakeRepo) GetCheckpoint(_ context.Context, modelID, hpID, ckptID string) (repository.Checkpoint, error) {
	link, _ := url.Parse("https://repo.example.com/" + modelID + "/" + hpID + "/" + ckptID + ".zip")

	return repository.Checkpoint{ModelID: modelID, HyperparametersID: hpID, CheckpointID: ckptID, Link: link}, nil
}

func (r *fakeRepo) DownloadModelBundle(_ context.Context, _ *url.URL, dest string, progress transfer.ProgressFunc) error {
	r.downloads.Add(1)
	if r.downloadErr != nil {
		return r.downloadErr
	}
	data, err := os.ReadFile(r.archive)
	if err != nil {
		return err
	}
	if progress != nil {
		progress(1)
	}

	return os.WriteFile(dest, data, 0o644)
}

func installed(t *testing.T) *bundle.ModelBundle {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "M1"+bundle.ModelExtension)
	bundletest.WriteModel(t, dir, bundletest.ModelManifest(installedID))

	b, err := bundle.LoadModelBundle(dir)
	require.NoError(t, err)

	return b
}

// newArchive zips a model bundle wrapped one directory deep.
func newArchive(t *testing.T, id string) string {
	t.Helper()

	root := t.TempDir()
	bundletest.WriteModel(t, filepath.Join(root, "M1"+bundle.ModelExtension), bundletest.ModelManifest(id))

	return bundletest.ZipDir(t, root)
}

func TestCheckForUpdate(t *testing.T) {
	tests := []struct {
		name      string
		hp        string
		ckpt      string
		upgrades  map[string]string
		available bool
	}{
		{name: "already canonical", hp: "H1", ckpt: "C1"},
		{name: "newer checkpoint", hp: "H1", ckpt: "C2", available: true},
		{name: "newer hyperparameters", hp: "H2", ckpt: "C1", available: true},
		{name: "retired hyperparameters", hp: "H1", ckpt: "C1", upgrades: map[string]string{"H1": "H3"}, available: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeRepo{canonicalHP: tc.hp, canonicalCkpt: tc.ckpt, upgrades: tc.upgrades}
			u := updater.New(installed(t), repo)

			available, err := u.CheckForUpdate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.available, available)
			assert.Zero(t, repo.downloads.Load())
		})
	}
}

func TestUpdateNoop(t *testing.T) {
	repo := &fakeRepo{canonicalHP: "H1", canonicalCkpt: "C1"}
	b := installed(t)

	res, err := updater.New(b, repo).Update(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Updated)
	assert.Zero(t, repo.downloads.Load())
}

func TestUpdateReplacesBundle(t *testing.T) {
	repo := &fakeRepo{canonicalHP: "H1", canonicalCkpt: "C2", archive: newArchive(t, canonicalID)}
	b := installed(t)

	var predicateCalls int
	res, err := updater.New(b, repo).Update(context.Background(), func(string, map[string]any) error {
		predicateCalls++

		return nil
	})
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.Equal(t, b.Path, res.Path)
	assert.Equal(t, 1, predicateCalls)

	reloaded, err := bundle.LoadModelBundle(res.Path)
	require.NoError(t, err)
	assert.Equal(t, canonicalID, reloaded.ID)

	entries, err := os.ReadDir(filepath.Dir(b.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging and backup directories are removed")
}

func TestUpdateFailuresKeepInstalledBundle(t *testing.T) {
	corrupt := filepath.Join(t.TempDir(), "corrupt.zip")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a zip"), 0o644))

	errRejected := errors.New("rejected")

	tests := []struct {
		name      string
		repo      *fakeRepo
		predicate bundle.Predicate
		kind      pkgerrors.Kind
		err       error
	}{
		{
			name: "download failure",
			repo: &fakeRepo{canonicalHP: "H1", canonicalCkpt: "C2", downloadErr: pkgerrors.TransportError("download model bundle", 503, nil)},
			kind: pkgerrors.KindTransport,
		},
		{
			name: "corrupt archive",
			repo: &fakeRepo{canonicalHP: "H1", canonicalCkpt: "C2", archive: corrupt},
			kind: pkgerrors.KindBundle,
		},
		{
			name: "archive declares another model",
			repo: &fakeRepo{canonicalHP: "H1", canonicalCkpt: "C2", archive: newArchive(t, "tio:///models/OTHER/hyperparameters/X/checkpoints/Y")},
			kind: pkgerrors.KindBundle,
		},
		{
			name: "archive declares the installed checkpoint",
			repo: &fakeRepo{canonicalHP: "H1", canonicalCkpt: "C2", archive: newArchive(t, installedID)},
			kind: pkgerrors.KindBundle,
		},
		{
			name:      "predicate rejects",
			repo:      &fakeRepo{canonicalHP: "H1", canonicalCkpt: "C2", archive: newArchive(t, canonicalID)},
			predicate: func(string, map[string]any) error { return errRejected },
			err:       errRejected,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := installed(t)

			res, err := updater.New(b, tc.repo).Update(context.Background(), tc.predicate)
			require.Error(t, err)
			assert.False(t, res.Updated)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.Equal(t, tc.kind, pkgerrors.KindOf(err))
			}

			still, err := bundle.LoadModelBundle(b.Path)
			require.NoError(t, err)
			assert.Equal(t, installedID, still.ID)

			entries, err := os.ReadDir(filepath.Dir(b.Path))
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestUpdateSucceedsWhenBackupRemovalFails(t *testing.T) {
	restore := updater.SetRemoveAll(func(string) error { return errors.New("device busy") })
	t.Cleanup(restore)

	repo := &fakeRepo{canonicalHP: "H1", canonicalCkpt: "C2", archive: newArchive(t, canonicalID)}
	b := installed(t)

	res, err := updater.New(b, repo).Update(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.Updated)

	reloaded, err := bundle.LoadModelBundle(res.Path)
	require.NoError(t, err)
	assert.Equal(t, canonicalID, reloaded.ID)

	entries, err := os.ReadDir(filepath.Dir(b.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "the replaced bundle is left behind")
}

func TestUpdateRequiresRepositoryIdentifier(t *testing.T) {
	dir := t.TempDir()
	bundletest.WriteModel(t, dir, bundletest.ModelManifest("local-only"))
	b, err := bundle.LoadModelBundle(dir)
	require.NoError(t, err)

	_, err = updater.New(b, &fakeRepo{}).CheckForUpdate(context.Background())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindBundle, pkgerrors.KindOf(err))
}
