// Package events publishes pipeline notifications over MQTT.
package events

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/absmach/fedlet/pkg/federated"
	"github.com/absmach/fedlet/pkg/mqtt"
)

const (
	publishTimeout = 5 * time.Second
	// progressStep is the smallest progress change worth a message.
	progressStep = 0.1
)

type ActionMessage struct {
	DeviceID  string    `json:"device_id"`
	TaskID    string    `json:"task_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

type TaskMessage struct {
	DeviceID  string    `json:"device_id"`
	TaskID    string    `json:"task_id"`
	State     string    `json:"state"`
	Action    string    `json:"action,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ProgressMessage struct {
	DeviceID string  `json:"device_id"`
	TaskID   string  `json:"task_id"`
	Action   string  `json:"action"`
	Progress float64 `json:"progress"`
}

const (
	StateBegan     = "began"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

var _ federated.Observer = (*MQTTObserver)(nil)

// MQTTObserver forwards notifications to the device topics. Progress is
// thinned to steps of progressStep plus the final value.
type MQTTObserver struct {
	pubsub   mqtt.PubSub
	topics   *TopicBuilder
	deviceID string
	logger   *slog.Logger

	mu   sync.Mutex
	last map[progressKey]float64
}

type progressKey struct {
	taskID string
	action federated.Action
}

func NewMQTTObserver(pubsub mqtt.PubSub, topics *TopicBuilder, deviceID string, logger *slog.Logger) *MQTTObserver {
	return &MQTTObserver{
		pubsub:   pubsub,
		topics:   topics,
		deviceID: deviceID,
		logger:   logger,
		last:     make(map[progressKey]float64),
	}
}

func (o *MQTTObserver) ActionStarted(taskID string, action federated.Action) {
	o.publish(o.topics.ActionTopic(), ActionMessage{
		DeviceID:  o.deviceID,
		TaskID:    taskID,
		Action:    action.String(),
		Timestamp: time.Now(),
	})
}

func (o *MQTTObserver) TaskBegan(taskID string) {
	o.publish(o.topics.TaskTopic(), TaskMessage{
		DeviceID:  o.deviceID,
		TaskID:    taskID,
		State:     StateBegan,
		Timestamp: time.Now(),
	})
}

func (o *MQTTObserver) TaskCompleted(taskID string) {
	o.forget(taskID)
	o.publish(o.topics.TaskTopic(), TaskMessage{
		DeviceID:  o.deviceID,
		TaskID:    taskID,
		State:     StateCompleted,
		Timestamp: time.Now(),
	})
}

func (o *MQTTObserver) TaskFailed(taskID string, action federated.Action, err error) {
	o.forget(taskID)

	msg := TaskMessage{
		DeviceID:  o.deviceID,
		TaskID:    taskID,
		State:     StateFailed,
		Action:    action.String(),
		Timestamp: time.Now(),
	}
	if err != nil {
		msg.Error = err.Error()
	}
	o.publish(o.topics.TaskTopic(), msg)
}

func (o *MQTTObserver) Progress(taskID string, action federated.Action, fraction float64) {
	key := progressKey{taskID: taskID, action: action}

	o.mu.Lock()
	prev, seen := o.last[key]
	if seen && fraction < 1 && math.Abs(fraction-prev) < progressStep {
		o.mu.Unlock()

		return
	}
	if seen && fraction == prev {
		o.mu.Unlock()

		return
	}
	o.last[key] = fraction
	o.mu.Unlock()

	o.publish(o.topics.ProgressTopic(), ProgressMessage{
		DeviceID: o.deviceID,
		TaskID:   taskID,
		Action:   action.String(),
		Progress: fraction,
	})
}

func (o *MQTTObserver) forget(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for key := range o.last {
		if key.taskID == taskID {
			delete(o.last, key)
		}
	}
}

func (o *MQTTObserver) publish(topic string, msg any) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := o.pubsub.Publish(ctx, topic, msg); err != nil {
		o.logger.Warn("failed to publish event", slog.String("topic", topic), slog.Any("error", err))
	}
}
