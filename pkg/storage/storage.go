// Package storage keeps the run journal: one record per finished pipeline
// run, used for attempt counting and run history.
package storage

import (
	"context"
	"time"

	pkgerrors "github.com/absmach/fedlet/pkg/errors"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Run struct {
	ID         string    `json:"id"          gorm:"primaryKey"`
	TaskID     string    `json:"task_id"     gorm:"index"`
	ModelID    string    `json:"model_id"    gorm:"index"`
	JobID      string    `json:"job_id,omitempty"`
	Action     string    `json:"action"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Journal interface {
	Record(ctx context.Context, run Run) error
	// Attempts returns the number of recorded runs for taskID.
	Attempts(ctx context.Context, taskID string) (int, error)
	// List returns runs newest first.
	List(ctx context.Context, offset, limit uint64) ([]Run, uint64, error)
	Close() error
}

func validate(run Run) error {
	if run.ID == "" || run.TaskID == "" {
		return pkgerrors.ErrMissingValue
	}

	return nil
}
