package cli_test

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/absmach/fedlet"
	"github.com/absmach/fedlet/cli"
	"github.com/absmach/fedlet/pkg/bundle"
	"github.com/absmach/fedlet/pkg/bundle/bundletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := cli.NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	require.NoError(t, root.Execute())

	return stdout.String(), stderr.String()
}

func TestIdentifier(t *testing.T) {
	out, errOut := execute(t, "identifier", "new", "m", "h", "c")
	assert.Empty(t, errOut)
	assert.Equal(t, "tio:///models/m/hyperparameters/h/checkpoints/c\n", out)

	out, errOut = execute(t, "identifier", "parse", "tio:///models/m/hyperparameters/h/checkpoints/c")
	assert.Empty(t, errOut)
	assert.Contains(t, out, `"model_id"`)
	assert.Contains(t, out, `"checkpoint_id"`)

	_, errOut = execute(t, "identifier", "parse", "models/m")
	assert.Contains(t, errOut, "is not a model identifier")

	_, errOut = execute(t, "identifier", "new", "m/x", "h", "c")
	assert.Contains(t, errOut, "contains '/'")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "linear"+bundle.ModelExtension)
	bundletest.WriteModel(t, modelDir, bundletest.ModelManifest("linear"))

	taskDir := filepath.Join(dir, "round"+bundle.TaskExtension)
	bundletest.WriteManifest(t, taskDir, bundle.TaskManifest, bundletest.TaskManifest("T1", "linear", 2, 3, false))

	out, errOut := execute(t, "validate", "model", modelDir)
	assert.Empty(t, errOut)
	assert.Contains(t, out, `"learning_rate"`)

	out, errOut = execute(t, "validate", "task", taskDir)
	assert.Empty(t, errOut)
	assert.Contains(t, out, `"T1"`)

	_, errOut = execute(t, "validate", "model", taskDir)
	assert.Contains(t, errOut, "error")
}

func TestConfigInitDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fedlet.toml")

	out, errOut := execute(t, "config", "init", "--config", path, "--defaults", "--tasks-url", "http://tasks.local")
	assert.Empty(t, errOut)
	assert.Contains(t, out, "ok")

	cfg, err := fedlet.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://tasks.local", cfg.Tasks.URL)
	assert.NotEmpty(t, cfg.Agent.DeviceID)

	out, errOut = execute(t, "config", "show", "--config", path)
	assert.Empty(t, errOut)
	assert.Contains(t, out, "http://tasks.local")
}

func TestConfigInitRequiresTasksURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fedlet.toml")

	_, errOut := execute(t, "config", "init", "--config", path, "--defaults")
	assert.Contains(t, errOut, "tasks.url is required")
	assert.NoFileExists(t, path)
}

func TestRepository(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_, _ = io.WriteString(w, `{"modelIds":["M1","M2"]}`)
		case "/models/M1/hyperparameters":
			_, _ = io.WriteString(w, `{"modelId":"M1","hyperparametersIds":["H1"]}`)
		case "/models/M1/hyperparameters/H1/checkpoints":
			_, _ = io.WriteString(w, `{"modelId":"M1","hyperparametersId":"H1","checkpointIds":["C1","C2"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "fedlet.toml")
	cfg := fedlet.DefaultConfig()
	cfg.Tasks.URL = "http://tasks.local"
	cfg.Repository.URL = srv.URL
	require.NoError(t, fedlet.SaveConfig(path, cfg))

	out, errOut := execute(t, "repository", "models", "--config", path)
	assert.Empty(t, errOut)
	assert.Contains(t, out, `"M2"`)

	out, errOut = execute(t, "repository", "hyperparameters", "M1", "--config", path)
	assert.Empty(t, errOut)
	assert.Contains(t, out, `"H1"`)

	out, errOut = execute(t, "repository", "checkpoints", "M1", "H1", "--config", path)
	assert.Empty(t, errOut)
	assert.Contains(t, out, `"C2"`)

	_, errOut = execute(t, "repository", "hyperparameters", "M9", "--config", path)
	assert.Contains(t, errOut, "404")
}

func TestRepositoryRequiresURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fedlet.toml")
	cfg := fedlet.DefaultConfig()
	cfg.Tasks.URL = "http://tasks.local"
	require.NoError(t, fedlet.SaveConfig(path, cfg))

	_, errOut := execute(t, "repository", "models", "--config", path)
	assert.Contains(t, errOut, "repository.url is not configured")
}
