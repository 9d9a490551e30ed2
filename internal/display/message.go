// Package display forwards pipeline events to display front ends: a
// WebSocket feed served by the control API and an optional MQTT bridge.
// Both speak the same JSON envelope, see [Message].
package display

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrWong99/lingoxa/internal/bus"
)

// Message is the JSON envelope sent for every forwarded event.
type Message struct {
	Event string    `json:"event"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data,omitempty"`
}

// Encode marshals e into a [Message].
func Encode(e bus.Event) ([]byte, error) {
	data, err := json.Marshal(Message{Event: e.Topic, Time: e.Time, Data: e.Payload})
	if err != nil {
		return nil, fmt.Errorf("display: encode %q: %w", e.Topic, err)
	}
	return data, nil
}

// DefaultTopics are the events shown to front ends. Raw audio chunks are
// left out.
var DefaultTopics = []string{
	bus.TopicStreamOpened,
	bus.TopicStreamClosed,
	bus.TopicDecodeStarted,
	bus.TopicPartialTranscript,
	bus.TopicFinalSentence,
	bus.TopicTranslateStarted,
	bus.TopicFormattedUpdate,
	bus.TopicTranslationReady,
	bus.TopicContextUpdateStarted,
	bus.TopicContextUpdated,
}

// topicSet builds a lookup set, falling back to DefaultTopics.
func topicSet(topics []string) map[string]bool {
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	return set
}
