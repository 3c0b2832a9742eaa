// Package api serves the agent's local HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/absmach/fedlet/agent"
	pkgerrors "github.com/absmach/fedlet/pkg/errors"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	contentType = "application/json"
	offsetKey   = "offset"
	limitKey    = "limit"
)

func MakeHandler(svc agent.Service, logger *slog.Logger) http.Handler {
	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(errorEncoder(logger)),
	}

	mux := chi.NewRouter()

	mux.Get("/health", kithttp.NewServer(
		healthEndpoint(svc),
		decodeEmpty,
		encodeResponse,
		opts...,
	).ServeHTTP)

	mux.Route("/models", func(r chi.Router) {
		r.Get("/", kithttp.NewServer(
			listModelsEndpoint(svc),
			decodeEmpty,
			encodeResponse,
			opts...,
		).ServeHTTP)
		r.Put("/{model_id}", kithttp.NewServer(
			registerModelEndpoint(svc),
			decodeModelRequest,
			encodeResponse,
			opts...,
		).ServeHTTP)
		r.Delete("/{model_id}", kithttp.NewServer(
			unregisterModelEndpoint(svc),
			decodeModelRequest,
			encodeResponse,
			opts...,
		).ServeHTTP)
	})

	mux.Route("/tasks", func(r chi.Router) {
		r.Post("/check", kithttp.NewServer(
			checkEndpoint(svc),
			decodeEmpty,
			encodeResponse,
			opts...,
		).ServeHTTP)
		r.Get("/available", kithttp.NewServer(
			availableEndpoint(svc),
			decodeEmpty,
			encodeResponse,
			opts...,
		).ServeHTTP)
		r.Get("/inflight", kithttp.NewServer(
			inFlightEndpoint(svc),
			decodeEmpty,
			encodeResponse,
			opts...,
		).ServeHTTP)
	})

	mux.Get("/runs", kithttp.NewServer(
		listRunsEndpoint(svc),
		decodeListRuns,
		encodeResponse,
		opts...,
	).ServeHTTP)

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeEmpty(_ context.Context, _ *http.Request) (any, error) {
	return nil, nil
}

func decodeModelRequest(_ context.Context, r *http.Request) (any, error) {
	return modelReq{modelID: chi.URLParam(r, "model_id")}, nil
}

func decodeListRuns(_ context.Context, r *http.Request) (any, error) {
	offset, err := readUint(r, offsetKey)
	if err != nil {
		return nil, err
	}
	limit, err := readUint(r, limitKey)
	if err != nil {
		return nil, err
	}

	return listRunsReq{offset: offset, limit: limit}, nil
}

func readUint(r *http.Request, key string) (uint64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}

	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, pkgerrors.ErrInvalidValue
	}

	return n, nil
}

func encodeResponse(_ context.Context, w http.ResponseWriter, resp any) error {
	if res, ok := resp.(response); ok {
		if res.Empty() {
			w.WriteHeader(res.Code())

			return nil
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(res.Code())
	}

	return json.NewEncoder(w).Encode(resp)
}

type errorRes struct {
	Error string `json:"error"`
}

func errorEncoder(logger *slog.Logger) kithttp.ErrorEncoder {
	return func(_ context.Context, err error, w http.ResponseWriter) {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Error("request failed", slog.Any("error", err))
		}

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(errorRes{Error: err.Error()})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrMissingValue),
		errors.Is(err, pkgerrors.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrNotFound),
		errors.Is(err, pkgerrors.ErrModelNotInstalled):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrServiceUnavailable),
		pkgerrors.KindOf(err) == pkgerrors.KindTransport:
		return http.StatusServiceUnavailable
	case pkgerrors.KindOf(err) == pkgerrors.KindBundle,
		pkgerrors.KindOf(err) == pkgerrors.KindParse:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
