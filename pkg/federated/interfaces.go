package federated

import (
	"context"
	"net/url"

	"github.com/absmach/fedlet/pkg/bundle"
	"github.com/absmach/fedlet/pkg/model"
	"github.com/absmach/fedlet/pkg/tasks"
	"github.com/absmach/fedlet/pkg/transfer"
)

// TaskService is the task service surface a pipeline drives.
type TaskService interface {
	GetTasks(ctx context.Context, filter tasks.Filter) (tasks.TaskList, error)
	GetTask(ctx context.Context, taskID string) (tasks.Task, error)
	StartTask(ctx context.Context, taskID string) (tasks.Job, error)
	DownloadBundle(ctx context.Context, link *url.URL, taskID string, progress transfer.ProgressFunc) (string, error)
	UploadResults(ctx context.Context, path string, uploadTo *url.URL, jobID string, progress transfer.ProgressFunc) error
	PostErrorMessage(ctx context.Context, message, taskID, jobID string) error
}

// ModelStore resolves the installed bundle for a model id. It returns
// errors.ErrModelNotInstalled when there is none.
type ModelStore interface {
	ModelBundle(modelID string) (*bundle.ModelBundle, error)
}

// DataSourceProvider supplies training rows for a task. It is asked once
// per run; a nil source means the device has no data for the task.
type DataSourceProvider interface {
	DataSourceForTask(taskID, modelID string) (model.DataSource, error)
}

// DataSourceProviderFunc adapts a function to DataSourceProvider.
type DataSourceProviderFunc func(taskID, modelID string) (model.DataSource, error)

func (f DataSourceProviderFunc) DataSourceForTask(taskID, modelID string) (model.DataSource, error) {
	return f(taskID, modelID)
}
