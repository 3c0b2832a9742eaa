package bundle_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedlet/pkg/bundle"
	"github.com/absmach/fedlet/pkg/bundle/bundletest"
	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/model"
	"github.com/absmach/fedlet/pkg/model/linear"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundleID = "tio:///models/M1/hyperparameters/H1/checkpoints/C1"

func TestValidateModel(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m map[string]any)
		wantErr string
	}{
		{name: "valid", mutate: func(map[string]any) {}},
		{
			name:    "missing license",
			mutate:  func(m map[string]any) { delete(m, "license") },
			wantErr: `field "license": missing`,
		},
		{
			name:    "missing backend",
			mutate:  func(m map[string]any) { m["model"] = map[string]any{"file": bundletest.WeightsFile} },
			wantErr: `field "backend": missing`,
		},
		{
			name:    "model file absent",
			mutate:  func(m map[string]any) { m["model"] = map[string]any{"file": "nope.cbor", "backend": "linear"} },
			wantErr: `model file "nope.cbor"`,
		},
		{
			name:    "empty inputs",
			mutate:  func(m map[string]any) { m["inputs"] = []any{} },
			wantErr: "at least one layer is required",
		},
		{
			name: "unknown layer type",
			mutate: func(m map[string]any) {
				m["outputs"] = []any{map[string]any{"name": "y", "type": "tensor"}}
			},
			wantErr: `unknown type "tensor"`,
		},
		{
			name: "array without shape",
			mutate: func(m map[string]any) {
				m["inputs"] = []any{map[string]any{"name": "x", "type": "array"}}
			},
			wantErr: `field "shape": missing`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			manifest := bundletest.ModelManifest(bundleID)
			tc.mutate(manifest)
			bundletest.WriteModel(t, dir, manifest)

			err := bundle.ValidateModel(dir, nil)
			if tc.wantErr == "" {
				require.NoError(t, err)

				return
			}
			require.Error(t, err)
			assert.Equal(t, pkgerrors.KindBundle, pkgerrors.KindOf(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidatePredicateErrorIsVerbatim(t *testing.T) {
	dir := t.TempDir()
	bundletest.WriteModel(t, dir, bundletest.ModelManifest(bundleID))

	errCustom := errors.New("model is not approved for this device")
	var seen map[string]any
	err := bundle.ValidateModel(dir, func(path string, manifest map[string]any) error {
		assert.Equal(t, dir, path)
		seen = manifest

		return errCustom
	})

	assert.Same(t, errCustom, err)
	assert.Equal(t, bundleID, seen["id"])
}

func TestValidateTask(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m map[string]any)
		wantErr string
	}{
		{name: "valid", mutate: func(map[string]any) {}},
		{name: "no placeholders", mutate: func(m map[string]any) { delete(m, "placeholders") }},
		{
			name:    "zero epochs",
			mutate:  func(m map[string]any) { m["taskParameters"].(map[string]any)["numEpochs"] = 0 },
			wantErr: "must be at least 1",
		},
		{
			name:    "fractional batch size",
			mutate:  func(m map[string]any) { m["taskParameters"].(map[string]any)["batchSize"] = 2.5 },
			wantErr: `field "batchSize": expected integer`,
		},
		{
			name:    "shuffle not bool",
			mutate:  func(m map[string]any) { m["taskParameters"].(map[string]any)["shuffle"] = "yes" },
			wantErr: `field "shuffle": expected bool`,
		},
		{
			name:    "missing model id",
			mutate:  func(m map[string]any) { m["model"] = map[string]any{} },
			wantErr: `field "id": missing`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			manifest := bundletest.TaskManifest("T1", "M1", 2, 3, false)
			tc.mutate(manifest)
			bundletest.WriteManifest(t, dir, bundle.TaskManifest, manifest)

			err := bundle.ValidateTask(dir, nil)
			if tc.wantErr == "" {
				require.NoError(t, err)

				return
			}
			require.Error(t, err)
			assert.Equal(t, pkgerrors.KindBundle, pkgerrors.KindOf(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadTaskBundle(t *testing.T) {
	dir := t.TempDir()
	bundletest.WriteManifest(t, dir, bundle.TaskManifest, bundletest.TaskManifest("T1", "M1", 2, 3, true))

	tb, err := bundle.LoadTaskBundle(dir, nil)
	require.NoError(t, err)

	assert.Equal(t, "T1", tb.Task.Identifier)
	assert.Equal(t, "M1", tb.Task.ModelIdentifier)
	assert.Equal(t, uint(2), tb.Task.Epochs)
	assert.Equal(t, uint(3), tb.Task.BatchSize)
	assert.True(t, tb.Task.Shuffle)
	assert.Equal(t, []string{"learning_rate"}, tb.Task.PlaceholderNames())
}

func TestLoadModelBundle(t *testing.T) {
	model.Register(linear.Backend, linear.New)

	dir := t.TempDir()
	bundletest.WriteModel(t, dir, bundletest.ModelManifest(bundleID))

	b, err := bundle.LoadModelBundle(dir)
	require.NoError(t, err)

	assert.Equal(t, "M1", b.Identifier.ModelID)
	assert.Equal(t, "C1", b.Identifier.CheckpointID)
	assert.Equal(t, linear.Backend, b.Backend)
	assert.Equal(t, []string{"x"}, b.Inputs)
	assert.True(t, b.DeclaresPlaceholder("learning_rate"))
	assert.False(t, b.DeclaresPlaceholder("momentum"))

	m, err := b.NewModel()
	require.NoError(t, err)
	require.NoError(t, m.Load())
	assert.True(t, m.Loaded())
}

func TestLoadModelBundleWithPlainID(t *testing.T) {
	dir := t.TempDir()
	bundletest.WriteModel(t, dir, bundletest.ModelManifest("my-local-model"))

	b, err := bundle.LoadModelBundle(dir)
	require.NoError(t, err)
	assert.True(t, b.Identifier.IsZero())
}

func TestFindBundleDir(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "T1"+bundle.TaskExtension)
	bundletest.WriteManifest(t, nested, bundle.TaskManifest, bundletest.TaskManifest("T1", "M1", 1, 1, false))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "__MACOSX"), 0o755))

	dir, err := bundle.FindBundleDir(root, bundle.TaskManifest)
	require.NoError(t, err)
	assert.Equal(t, nested, dir)

	dir, err = bundle.FindBundleDir(nested, bundle.TaskManifest)
	require.NoError(t, err)
	assert.Equal(t, nested, dir)

	_, err = bundle.FindBundleDir(t.TempDir(), bundle.TaskManifest)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindBundle, pkgerrors.KindOf(err))
}
