package federated

import (
	"fmt"
	"slices"
	"time"
)

// Action is one step of a task pipeline.
type Action uint8

const (
	ActionNone Action = iota
	ActionGetTasks
	ActionGetTask
	ActionStartTask
	ActionDownloadTaskBundle
	ActionUnpackageTaskBundle
	ActionLoadTask
	ActionLoadModel
	ActionTrainModel
	ActionUploadTaskResults
)

var actionNames = map[Action]string{
	ActionNone:                "None",
	ActionGetTasks:            "GetTasks",
	ActionGetTask:             "GetTask",
	ActionStartTask:           "StartTask",
	ActionDownloadTaskBundle:  "DownloadTaskBundle",
	ActionUnpackageTaskBundle: "UnpackageTaskBundle",
	ActionLoadTask:            "LoadTask",
	ActionLoadModel:           "LoadModel",
	ActionTrainModel:          "TrainModel",
	ActionUploadTaskResults:   "UploadTaskResults",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}

	return fmt.Sprintf("Action(%d)", a)
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// validTransitions lists, per action, the action that may follow it once it
// has succeeded. A task pipeline enters at GetTask after the model-level
// GetTasks listing.
var validTransitions = map[Action][]Action{
	ActionNone:                {ActionGetTasks, ActionGetTask},
	ActionGetTasks:            {ActionGetTask},
	ActionGetTask:             {ActionStartTask},
	ActionStartTask:           {ActionDownloadTaskBundle},
	ActionDownloadTaskBundle:  {ActionUnpackageTaskBundle},
	ActionUnpackageTaskBundle: {ActionLoadTask},
	ActionLoadTask:            {ActionLoadModel},
	ActionLoadModel:           {ActionTrainModel},
	ActionTrainModel:          {ActionUploadTaskResults},
	ActionUploadTaskResults:   {},
}

func ValidateTransition(from, to Action) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	return slices.Contains(allowed, to)
}

// PipelineState tracks one in-flight task run.
type PipelineState struct {
	TaskID    string    `json:"task_id"`
	ModelID   string    `json:"model_id"`
	JobID     string    `json:"job_id,omitempty"`
	Action    Action    `json:"action"`
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
}

func (s *PipelineState) advance(to Action) error {
	if !ValidateTransition(s.Action, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Action, to)
	}
	s.Action = to

	return nil
}
