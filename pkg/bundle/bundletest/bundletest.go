// Package bundletest writes model and task bundle fixtures for tests.
package bundletest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedlet/pkg/bundle"
	"github.com/absmach/fedlet/pkg/model/linear"
	"github.com/absmach/fedlet/pkg/transfer"
	"github.com/stretchr/testify/require"
)

const WeightsFile = "weights.cbor"

// ModelManifest returns a valid linear model manifest for bundle id.
func ModelManifest(id string) map[string]any {
	return map[string]any{
		"name":    "Linear regressor",
		"details": "y = w*x + b",
		"id":      id,
		"version": "1",
		"author":  "fedlet",
		"license": "Apache-2.0",
		"model": map[string]any{
			"file":    WeightsFile,
			"backend": linear.Backend,
		},
		"inputs": []any{
			map[string]any{"name": "x", "type": "array", "shape": []any{1}},
		},
		"outputs": []any{
			map[string]any{"name": "y", "type": "array", "shape": []any{1}},
		},
		"placeholders": []any{
			map[string]any{"name": "learning_rate", "type": "scalar"},
		},
	}
}

// TaskManifest returns a valid task manifest.
func TaskManifest(taskID, modelID string, epochs, batchSize int, shuffle bool) map[string]any {
	return map[string]any{
		"id":      taskID,
		"name":    "Task " + taskID,
		"details": "local regression round",
		"model":   map[string]any{"id": modelID},
		"taskParameters": map[string]any{
			"numEpochs": epochs,
			"batchSize": batchSize,
			"shuffle":   shuffle,
		},
		"placeholders": map[string]any{"learning_rate": 0.05},
	}
}

// WriteManifest stores manifest as name under dir, creating dir.
func WriteManifest(t testing.TB, dir, name string, manifest map[string]any) {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := bundle.MarshalManifest(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

// WriteModel writes a loadable linear model bundle at dir.
func WriteModel(t testing.TB, dir string, manifest map[string]any) {
	t.Helper()

	WriteManifest(t, dir, bundle.ModelManifest, manifest)
	require.NoError(t, linear.WriteState(filepath.Join(dir, WeightsFile), linear.State{}))
}

// ZipDir archives src into a new file under t.TempDir and returns its path.
func ZipDir(t testing.TB, src string) string {
	t.Helper()

	dst := filepath.Join(t.TempDir(), filepath.Base(src)+".zip")
	require.NoError(t, transfer.Archive(src, dst))

	return dst
}
