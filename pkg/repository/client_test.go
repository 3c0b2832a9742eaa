package repository_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, routes map[string]string) *repository.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)

			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return repository.NewClient(repository.Config{URL: srv.URL})
}

func TestGetModelChain(t *testing.T) {
	c := newServer(t, map[string]string{
		"/healthz":   `{"status":"SERVING"}`,
		"/models/M1": `{"modelId":"M1","details":"linear regressor","canonicalHyperparameters":"H2"}`,
		"/models/M1/hyperparameters/H2": `{
			"modelId":"M1","hyperparametersId":"H2","upgradeTo":null,
			"hyperparameters":{"learning_rate":"0.01"},"canonicalCheckpoint":"C7"}`,
		"/models/M1/hyperparameters/H2/checkpoints/C7": `{
			"modelId":"M1","hyperparametersId":"H2","checkpointId":"C7",
			"createdAt":"2026-10-01T12:00:00Z","info":{"loss":"0.12"},"link":"https://example.com/M1-C7.zip"}`,
	})
	ctx := context.Background()

	require.NoError(t, c.GetHealth(ctx))

	m, err := c.GetModel(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, "H2", m.CanonicalHyperparameters)

	h, err := c.GetHyperparameters(ctx, "M1", m.CanonicalHyperparameters)
	require.NoError(t, err)
	assert.Equal(t, "C7", h.CanonicalCheckpoint)
	assert.Empty(t, h.UpgradeTo)
	assert.Equal(t, "0.01", h.Hyperparameters["learning_rate"])

	cp, err := c.GetCheckpoint(ctx, "M1", "H2", h.CanonicalCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, "C7", cp.CheckpointID)
	assert.Equal(t, 2026, cp.CreatedAt.Year())
	assert.Equal(t, "0.12", cp.Info["loss"])
	assert.Equal(t, "example.com", cp.Link.Host)
}

func TestListEndpoints(t *testing.T) {
	c := newServer(t, map[string]string{
		"/models":                     `{"modelIds":["M1","M2"]}`,
		"/models/M1/hyperparameters":   `{"modelId":"M1","hyperparametersIds":["H1","H2"]}`,
		"/models/M1/hyperparameters/H2/checkpoints": `{"modelId":"M1","hyperparametersId":"H2","checkpointIds":["C1","C7"]}`,
	})
	ctx := context.Background()

	models, err := c.GetModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"M1", "M2"}, models.ModelIDs)

	hps, err := c.GetHyperparametersList(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, "M1", hps.ModelID)
	assert.Equal(t, []string{"H1", "H2"}, hps.HyperparametersIDs)

	cps, err := c.GetCheckpoints(ctx, "M1", "H2")
	require.NoError(t, err)
	assert.Equal(t, "H2", cps.HyperparametersID)
	assert.Equal(t, []string{"C1", "C7"}, cps.CheckpointIDs)

	_, err = c.GetCheckpoints(ctx, "M1", "H9")
	assert.Equal(t, pkgerrors.KindTransport, pkgerrors.KindOf(err))
}

func TestListDecodeFailures(t *testing.T) {
	c := newServer(t, map[string]string{
		"/models":                    `{"modelIds":"M1"}`,
		"/models/M1/hyperparameters": `{"hyperparametersIds":[]}`,
		"/models/M1/hyperparameters/H1/checkpoints": `{"modelId":"M1","hyperparametersId":"H1","checkpointIds":[1]}`,
	})
	ctx := context.Background()

	_, err := c.GetModels(ctx)
	assert.Equal(t, pkgerrors.KindParse, pkgerrors.KindOf(err))
	assert.Contains(t, err.Error(), `decode repository.Models: field "modelIds": expected array of strings`)

	_, err = c.GetHyperparametersList(ctx, "M1")
	assert.Equal(t, pkgerrors.KindParse, pkgerrors.KindOf(err))
	assert.Contains(t, err.Error(), `decode repository.HyperparametersList: field "modelId": missing`)

	_, err = c.GetCheckpoints(ctx, "M1", "H1")
	assert.Equal(t, pkgerrors.KindParse, pkgerrors.KindOf(err))
	assert.Contains(t, err.Error(), `field "checkpointIds": expected array of strings`)
}

func TestDecodeFailuresNameFieldAndEntity(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing canonical hyperparameters",
			body:    `{"modelId":"M1","details":"d"}`,
			wantErr: `decode repository.Model: field "canonicalHyperparameters": missing`,
		},
		{
			name:    "mistyped details",
			body:    `{"modelId":"M1","details":7,"canonicalHyperparameters":"H1"}`,
			wantErr: `field "details": expected string`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newServer(t, map[string]string{"/models/M1": tc.body})

			_, err := c.GetModel(context.Background(), "M1")
			require.Error(t, err)
			assert.Equal(t, pkgerrors.KindParse, pkgerrors.KindOf(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestGetModelNotFound(t *testing.T) {
	c := newServer(t, nil)

	_, err := c.GetModel(context.Background(), "M9")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.KindTransport, pkgerrors.KindOf(err))
}

func TestDownloadModelBundle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "archive")
	}))
	t.Cleanup(srv.Close)

	c := repository.NewClient(repository.Config{URL: srv.URL})
	link, err := url.Parse(srv.URL + "/M1-C7.zip")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "bundle.zip")
	var last float64
	require.NoError(t, c.DownloadModelBundle(context.Background(), link, dest, func(f float64) { last = f }))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "archive", string(data))
	assert.Equal(t, 1.0, last)
}
