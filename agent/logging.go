package agent

import (
	"log/slog"

	"github.com/absmach/fedlet/pkg/federated"
)

type loggingObserver struct {
	logger *slog.Logger
}

// NewLoggingObserver logs every notification except intermediate progress.
func NewLoggingObserver(logger *slog.Logger) federated.Observer {
	return &loggingObserver{logger: logger}
}

func (o *loggingObserver) ActionStarted(taskID string, action federated.Action) {
	o.logger.Debug("action started", slog.String("task_id", taskID), slog.String("action", action.String()))
}

func (o *loggingObserver) TaskBegan(taskID string) {
	o.logger.Info("training task began", slog.String("task_id", taskID))
}

func (o *loggingObserver) TaskCompleted(taskID string) {
	o.logger.Info("training task completed", slog.String("task_id", taskID))
}

func (o *loggingObserver) TaskFailed(taskID string, action federated.Action, err error) {
	o.logger.Warn("training task failed",
		slog.String("task_id", taskID),
		slog.String("action", action.String()),
		slog.Any("error", err))
}

func (o *loggingObserver) Progress(taskID string, action federated.Action, fraction float64) {
	if fraction < 1 {
		return
	}
	o.logger.Debug("transfer finished", slog.String("task_id", taskID), slog.String("action", action.String()))
}
