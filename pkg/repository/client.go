// Package repository is the client for the model repository, which names the
// canonical hyperparameters and checkpoint of every model and serves model
// bundle archives.
package repository

import (
	"context"
	"net/http"
	"net/url"
	"time"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/transfer"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultTransferTimeout = 10 * time.Minute
)

type Config struct {
	URL             string
	RequestTimeout  time.Duration
	TransferTimeout time.Duration
}

type Client struct {
	cfg  Config
	http *resty.Client
}

func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = defaultTransferTimeout
	}

	return &Client{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.URL).
			SetTransport(otelhttp.NewTransport(http.DefaultTransport)),
	}
}

func (c *Client) get(ctx context.Context, op, path string, params map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetPathParams(params).
		Get(path)
	if err != nil {
		return nil, pkgerrors.TransportError(op, 0, err)
	}
	if !res.IsSuccess() {
		return nil, pkgerrors.StatusError(op, res.StatusCode(), res.Body())
	}

	return res.Body(), nil
}

func (c *Client) GetHealth(ctx context.Context) error {
	body, err := c.get(ctx, "health", "/healthz", nil)
	if err != nil {
		return err
	}
	status, err := decodeStatus(body)
	if err != nil {
		return err
	}
	if status != statusServing {
		return pkgerrors.ErrServiceUnavailable
	}

	return nil
}

func (c *Client) GetModels(ctx context.Context) (Models, error) {
	body, err := c.get(ctx, "get models", "/models", nil)
	if err != nil {
		return Models{}, err
	}

	return decodeModels(body)
}

func (c *Client) GetHyperparametersList(ctx context.Context, modelID string) (HyperparametersList, error) {
	body, err := c.get(ctx, "get hyperparameters list", "/models/{modelId}/hyperparameters", map[string]string{"modelId": modelID})
	if err != nil {
		return HyperparametersList{}, err
	}

	return decodeHyperparametersList(body)
}

func (c *Client) GetCheckpoints(ctx context.Context, modelID, hyperparametersID string) (Checkpoints, error) {
	body, err := c.get(ctx, "get checkpoints", "/models/{modelId}/hyperparameters/{hyperparametersId}/checkpoints", map[string]string{
		"modelId":           modelID,
		"hyperparametersId": hyperparametersID,
	})
	if err != nil {
		return Checkpoints{}, err
	}

	return decodeCheckpoints(body)
}

func (c *Client) GetModel(ctx context.Context, modelID string) (Model, error) {
	body, err := c.get(ctx, "get model", "/models/{modelId}", map[string]string{"modelId": modelID})
	if err != nil {
		return Model{}, err
	}

	return decodeModel(body)
}

func (c *Client) GetHyperparameters(ctx context.Context, modelID, hyperparametersID string) (Hyperparameters, error) {
	body, err := c.get(ctx, "get hyperparameters", "/models/{modelId}/hyperparameters/{hyperparametersId}", map[string]string{
		"modelId":           modelID,
		"hyperparametersId": hyperparametersID,
	})
	if err != nil {
		return Hyperparameters{}, err
	}

	return decodeHyperparameters(body)
}

func (c *Client) GetCheckpoint(ctx context.Context, modelID, hyperparametersID, checkpointID string) (Checkpoint, error) {
	body, err := c.get(ctx, "get checkpoint", "/models/{modelId}/hyperparameters/{hyperparametersId}/checkpoints/{checkpointId}", map[string]string{
		"modelId":           modelID,
		"hyperparametersId": hyperparametersID,
		"checkpointId":      checkpointID,
	})
	if err != nil {
		return Checkpoint{}, err
	}

	return decodeCheckpoint(body)
}

// DownloadModelBundle streams the archive at link into dest.
func (c *Client) DownloadModelBundle(ctx context.Context, link *url.URL, dest string, progress transfer.ProgressFunc) error {
	const op = "download model bundle"

	if link == nil {
		return pkgerrors.New(pkgerrors.KindTransport, op, "missing checkpoint link")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TransferTimeout)
	defer cancel()

	return transfer.Download(ctx, c.http, op, link.String(), dest, transfer.Monotonic(progress))
}
