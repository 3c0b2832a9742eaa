package tasks

import (
	"net/url"
	"strconv"
	"time"

	"github.com/absmach/fedlet/pkg/identifier"
	"github.com/absmach/fedlet/pkg/payload"
)

const (
	statusServing  = "SERVING"
	statusApproved = "APPROVED"

	taskEntity     = "tasks.Task"
	taskListEntity = "tasks.TaskList"
	jobEntity      = "tasks.Job"
	statusEntity   = "tasks.Status"
)

type JobStatus uint8

const (
	JobStatusUnknown JobStatus = iota
	JobStatusApproved
)

func (s JobStatus) String() string {
	if s == JobStatusApproved {
		return statusApproved
	}

	return "UNKNOWN"
}

// Task describes a federated task published by the task service.
type Task struct {
	TaskID            string    `json:"task_id"`
	ModelID           string    `json:"model_id"`
	HyperparametersID string    `json:"hyperparameters_id"`
	CheckpointID      string    `json:"checkpoint_id"`
	Active            bool      `json:"active"`
	Deadline          time.Time `json:"deadline"`
	Link              *url.URL  `json:"-"`
	CheckpointLink    *url.URL  `json:"-"`
}

// ModelIdentifier returns the model artifact the task trains against.
func (t Task) ModelIdentifier() (identifier.ModelIdentifier, error) {
	return identifier.New(t.ModelID, t.HyperparametersID, t.CheckpointID)
}

type TaskList struct {
	StartTaskID string   `json:"start_task_id,omitempty"`
	MaxItems    int      `json:"max_items"`
	TaskIDs     []string `json:"task_ids"`
}

type Job struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	UploadTo *url.URL  `json:"-"`
}

type Status struct {
	Status string `json:"status"`
}

func (s Status) Serving() bool {
	return s.Status == statusServing
}

// Filter narrows a task listing. Empty fields are not sent.
type Filter struct {
	ModelID           string
	HyperparametersID string
	CheckpointID      string
	MaxItems          int
	StartTaskID       string
}

func (f Filter) query() map[string]string {
	q := map[string]string{}
	if f.ModelID != "" {
		q["modelId"] = f.ModelID
	}
	if f.HyperparametersID != "" {
		q["hyperparametersId"] = f.HyperparametersID
	}
	if f.CheckpointID != "" {
		q["checkpointId"] = f.CheckpointID
	}
	if f.MaxItems > 0 {
		q["maxItems"] = strconv.Itoa(f.MaxItems)
	}
	if f.StartTaskID != "" {
		q["startTaskId"] = f.StartTaskID
	}

	return q
}

func decodeStatus(data []byte) (Status, error) {
	o, err := payload.Decode(statusEntity, data)
	if err != nil {
		return Status{}, err
	}
	s, err := o.String("status")
	if err != nil {
		return Status{}, err
	}

	return Status{Status: s}, nil
}

func decodeTaskList(data []byte) (TaskList, error) {
	o, err := payload.Decode(taskListEntity, data)
	if err != nil {
		return TaskList{}, err
	}

	var (
		list     TaskList
		maxItems int64
	)
	if list.StartTaskID, err = o.OptionalString("startTaskId"); err != nil {
		return TaskList{}, err
	}
	if maxItems, err = o.Int("maxItems"); err != nil {
		return TaskList{}, err
	}
	list.MaxItems = int(maxItems)
	if list.TaskIDs, err = o.Strings("taskIds"); err != nil {
		return TaskList{}, err
	}

	return list, nil
}

func decodeTask(data []byte) (Task, error) {
	o, err := payload.Decode(taskEntity, data)
	if err != nil {
		return Task{}, err
	}

	var t Task
	if t.ModelID, err = o.NonEmptyString("modelId"); err != nil {
		return Task{}, err
	}
	if t.HyperparametersID, err = o.NonEmptyString("hyperparametersId"); err != nil {
		return Task{}, err
	}
	if t.CheckpointID, err = o.NonEmptyString("checkpointId"); err != nil {
		return Task{}, err
	}
	if t.TaskID, err = o.NonEmptyString("taskId"); err != nil {
		return Task{}, err
	}
	if t.Active, err = o.Bool("active"); err != nil {
		return Task{}, err
	}
	if t.Deadline, err = o.Time("deadline"); err != nil {
		return Task{}, err
	}
	if t.Link, err = o.URL("link"); err != nil {
		return Task{}, err
	}
	if t.CheckpointLink, err = o.URL("checkpointLink"); err != nil {
		return Task{}, err
	}

	return t, nil
}

// decodeJob requires jobId and uploadTo only for approved jobs; a rejected
// job carries nothing the device can act on.
func decodeJob(data []byte) (Job, error) {
	o, err := payload.Decode(jobEntity, data)
	if err != nil {
		return Job{}, err
	}

	status, err := o.String("status")
	if err != nil {
		return Job{}, err
	}
	if status != statusApproved {
		id, err := o.OptionalString("jobId")
		if err != nil {
			return Job{}, err
		}

		return Job{JobID: id, Status: JobStatusUnknown}, nil
	}

	job := Job{Status: JobStatusApproved}
	if job.JobID, err = o.NonEmptyString("jobId"); err != nil {
		return Job{}, err
	}
	if job.UploadTo, err = o.URL("uploadTo"); err != nil {
		return Job{}, err
	}

	return job, nil
}
