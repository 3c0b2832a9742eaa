// Package tasks is the client for the federated task service: task
// discovery, job start, bundle download, result upload and error reports.
package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/absmach/fedlet/pkg/session"
	"github.com/absmach/fedlet/pkg/transfer"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultTransferTimeout = 10 * time.Minute
	zipContentType         = "application/zip"
	jobIDHeader            = "X-Job-Id"
)

type Config struct {
	URL             string
	DownloadsDir    string
	RequestTimeout  time.Duration
	TransferTimeout time.Duration
}

type Option func(*Client)

// WithHandoff signals h whenever the last in-flight transfer settles.
func WithHandoff(h *session.Handoff) Option {
	return func(c *Client) {
		c.handoff = h
	}
}

// WithHTTPClient replaces the instrumented default transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(hc).SetBaseURL(c.cfg.URL)
	}
}

// Client holds no task state; every call is independent.
type Client struct {
	cfg       Config
	http      *resty.Client
	handoff   *session.Handoff
	transfers atomic.Int64
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = defaultTransferTimeout
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = filepath.Join(os.TempDir(), "fedlet-downloads")
	}

	c := &Client{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.URL).
			SetTransport(otelhttp.NewTransport(http.DefaultTransport)),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) get(ctx context.Context, op, path string, pathParams, query map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetPathParams(pathParams).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return nil, pkgerrors.TransportError(op, 0, err)
	}
	if !res.IsSuccess() {
		return nil, pkgerrors.StatusError(op, res.StatusCode(), res.Body())
	}

	return res.Body(), nil
}

func (c *Client) GetHealth(ctx context.Context) (Status, error) {
	body, err := c.get(ctx, "health", "/healthz", nil, nil)
	if err != nil {
		return Status{}, err
	}
	status, err := decodeStatus(body)
	if err != nil {
		return Status{}, err
	}
	if !status.Serving() {
		return status, pkgerrors.ErrServiceUnavailable
	}

	return status, nil
}

func (c *Client) GetTasks(ctx context.Context, filter Filter) (TaskList, error) {
	body, err := c.get(ctx, "get tasks", "/tasks", nil, filter.query())
	if err != nil {
		return TaskList{}, err
	}

	return decodeTaskList(body)
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	body, err := c.get(ctx, "get task", "/tasks/{taskId}", map[string]string{"taskId": taskID}, nil)
	if err != nil {
		return Task{}, err
	}

	return decodeTask(body)
}

// StartTask asks the service for a job on taskID. A job that is not
// approved is returned alongside ErrJobNotApproved.
func (c *Client) StartTask(ctx context.Context, taskID string) (Job, error) {
	body, err := c.get(ctx, "start task", "/start_task/{taskId}", map[string]string{"taskId": taskID}, nil)
	if err != nil {
		return Job{}, err
	}
	job, err := decodeJob(body)
	if err != nil {
		return Job{}, err
	}
	if job.Status != JobStatusApproved {
		return job, pkgerrors.ErrJobNotApproved
	}

	return job, nil
}

func (c *Client) beginTransfer() {
	c.transfers.Add(1)
}

func (c *Client) endTransfer() {
	if c.transfers.Add(-1) == 0 && c.handoff != nil {
		c.handoff.Done()
	}
}

// InFlightTransfers returns the number of downloads and uploads in progress.
func (c *Client) InFlightTransfers() int64 {
	return c.transfers.Load()
}

// ValidateTaskID rejects task ids that are not a single file name, since
// ids name local downloads and work directories.
func ValidateTaskID(taskID string) error {
	if taskID == "" || taskID == "." || taskID == ".." || strings.ContainsAny(taskID, "/\\\x00") {
		return pkgerrors.New(pkgerrors.KindProtocol, "validate task id", fmt.Sprintf("task id %q is not a file name", taskID))
	}

	return nil
}

// DownloadBundle streams link into <downloads>/<taskID>.zip and returns the
// local path. Progress is a fraction of Content-Length, or just 0 and 1 when
// the length is unknown.
func (c *Client) DownloadBundle(ctx context.Context, link *url.URL, taskID string, progress transfer.ProgressFunc) (string, error) {
	const op = "download bundle"

	if err := ValidateTaskID(taskID); err != nil {
		return "", err
	}
	if link == nil {
		return "", pkgerrors.New(pkgerrors.KindTransport, op, "missing bundle link")
	}

	c.beginTransfer()
	defer c.endTransfer()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TransferTimeout)
	defer cancel()

	progress = transfer.Monotonic(progress)
	progress(0)

	if err := os.MkdirAll(c.cfg.DownloadsDir, 0o755); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.KindInternal, op, err)
	}
	dst := filepath.Join(c.cfg.DownloadsDir, taskID+".zip")

	if err := transfer.Download(ctx, c.http, op, link.String(), dst, progress); err != nil {
		return "", err
	}

	return dst, nil
}

// UploadResults streams the archive at path to uploadTo. A missing path
// fails with ErrSourceNotFound before any request is made.
func (c *Client) UploadResults(ctx context.Context, path string, uploadTo *url.URL, jobID string, progress transfer.ProgressFunc) error {
	const op = "upload results"

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, pkgerrors.ErrSourceNotFound)
		}

		return pkgerrors.Wrap(pkgerrors.KindInternal, op, err)
	}
	defer f.Close()

	if uploadTo == nil {
		return pkgerrors.New(pkgerrors.KindTransport, op, "missing upload destination")
	}

	info, err := f.Stat()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.KindInternal, op, err)
	}

	c.beginTransfer()
	defer c.endTransfer()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TransferTimeout)
	defer cancel()

	progress = transfer.Monotonic(progress)
	progress(0)

	r := transfer.NewReader(f, info.Size(), progress)
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", zipContentType).
		SetHeader(jobIDHeader, jobID).
		SetBody(r).
		Put(uploadTo.String())
	if err != nil {
		return pkgerrors.TransportError(op, 0, err)
	}
	if !res.IsSuccess() {
		return pkgerrors.StatusError(op, res.StatusCode(), res.Body())
	}
	r.Done()

	return nil
}

// PostErrorMessage reports a failed job to the service.
func (c *Client) PostErrorMessage(ctx context.Context, message, taskID, jobID string) error {
	const op = "post error message"

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"taskId": taskID, "jobId": jobID}).
		SetBody(map[string]string{"errorMessage": message}).
		Post("/job_error/{taskId}/{jobId}")
	if err != nil {
		return pkgerrors.TransportError(op, 0, err)
	}
	if !res.IsSuccess() {
		return pkgerrors.StatusError(op, res.StatusCode(), res.Body())
	}

	return nil
}
