package api

import pkgerrors "github.com/absmach/fedlet/pkg/errors"

const maxLimit = 100

type modelReq struct {
	modelID string
}

func (req modelReq) validate() error {
	if req.modelID == "" {
		return pkgerrors.ErrMissingValue
	}

	return nil
}

type listRunsReq struct {
	offset uint64
	limit  uint64
}

func (req listRunsReq) validate() error {
	if req.limit > maxLimit {
		return pkgerrors.ErrInvalidValue
	}

	return nil
}
