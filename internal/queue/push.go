package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// MessagePublishedData is the CloudEvent payload of a Pub/Sub-triggered
// function (google.cloud.pubsub.topic.v1.messagePublished).
type MessagePublishedData struct {
	Message struct {
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodePushEvent returns the Pub/Sub message data carried by e.
func DecodePushEvent(e cloudevents.Event) ([]byte, error) {
	if len(e.Data()) == 0 {
		return nil, errors.New("event has no data")
	}
	var msg MessagePublishedData
	if err := json.Unmarshal(e.Data(), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode pubsub event %s: %w", e.ID(), err)
	}
	return msg.Message.Data, nil
}
