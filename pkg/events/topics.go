package events

import "fmt"

// TopicBuilder renders the MQTT topics a device publishes and listens on.
type TopicBuilder struct {
	domainID  string
	channelID string
	deviceID  string
}

func NewTopicBuilder(domainID, channelID, deviceID string) *TopicBuilder {
	return &TopicBuilder{
		domainID:  domainID,
		channelID: channelID,
		deviceID:  deviceID,
	}
}

func (tb *TopicBuilder) BaseTopic() string {
	return fmt.Sprintf("m/%s/c/%s", tb.domainID, tb.channelID)
}

func (tb *TopicBuilder) deviceTopic() string {
	return tb.BaseTopic() + "/fedlet/" + tb.deviceID
}

// CheckTopic carries requests to run a task pass now.
func (tb *TopicBuilder) CheckTopic() string {
	return tb.BaseTopic() + "/control/manager/check"
}

func (tb *TopicBuilder) AliveTopic() string {
	return tb.BaseTopic() + "/control/fedlet/alive"
}

func (tb *TopicBuilder) ActionTopic() string {
	return tb.deviceTopic() + "/action"
}

func (tb *TopicBuilder) TaskTopic() string {
	return tb.deviceTopic() + "/task"
}

func (tb *TopicBuilder) ProgressTopic() string {
	return tb.deviceTopic() + "/progress"
}

func (tb *TopicBuilder) AllTopics() string {
	return tb.deviceTopic() + "/#"
}
