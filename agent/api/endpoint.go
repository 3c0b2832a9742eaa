package api

import (
	"context"

	"github.com/absmach/fedlet/agent"
	"github.com/go-kit/kit/endpoint"
)

func healthEndpoint(svc agent.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		return healthRes{Health: svc.Health(ctx)}, nil
	}
}

func listModelsEndpoint(svc agent.Service) endpoint.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		models, err := svc.Models()
		if err != nil {
			return nil, err
		}

		return modelsRes{Models: models}, nil
	}
}

func registerModelEndpoint(svc agent.Service) endpoint.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(modelReq)
		if err := req.validate(); err != nil {
			return nil, err
		}

		info, err := svc.RegisterModel(req.modelID)
		if err != nil {
			return nil, err
		}

		return modelRes{ModelInfo: info}, nil
	}
}

func unregisterModelEndpoint(svc agent.Service) endpoint.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(modelReq)
		if err := req.validate(); err != nil {
			return nil, err
		}

		if err := svc.UnregisterModel(req.modelID); err != nil {
			return nil, err
		}

		return removeModelRes{}, nil
	}
}

func checkEndpoint(svc agent.Service) endpoint.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return checkRes{Queued: svc.Trigger()}, nil
	}
}

func availableEndpoint(svc agent.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		ok, err := svc.TasksAvailable(ctx)
		if err != nil {
			return nil, err
		}

		return availableRes{Available: ok}, nil
	}
}

func inFlightEndpoint(svc agent.Service) endpoint.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return inFlightRes{Tasks: svc.InFlight()}, nil
	}
}

func listRunsEndpoint(svc agent.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(listRunsReq)
		if err := req.validate(); err != nil {
			return nil, err
		}

		page, err := svc.Runs(ctx, req.offset, req.limit)
		if err != nil {
			return nil, err
		}

		return runsRes{RunsPage: page}, nil
	}
}
