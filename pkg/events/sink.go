package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatfold/pkg/helpers"
)

const (
	SequenceNumberMetadataKey = "sequence_number"
	RunIDMetadataKey          = helpers.CorrelationIDMessageMetadataKey
	// EndOfStreamMetadataKey marks the message closing a run's stream.
	EndOfStreamMetadataKey = "end_of_stream"
)

// WatermillSink publishes updates to a watermill topic. Each message carries
// a sequence number and the run id taken from the publishing context as its
// correlation id.
type WatermillSink struct {
	publisher      message.Publisher
	topic          string
	mu             sync.Mutex
	sequenceNumber uint64
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: helpers.CorrelationPublisherDecorator{Publisher: publisher},
		topic:     topic,
	}
}

// PublishUpdate serializes u to JSON and publishes it. Use
// helpers.ContextWithCorrelationID to tag the message with a run id.
func (w *WatermillSink) PublishUpdate(ctx context.Context, u *Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal update to JSON")
		return err
	}

	err = w.publish(ctx, payload, nil)
	if err != nil {
		return err
	}
	log.Trace().Str("topic", w.topic).Object("update", u).Msg("Published update to watermill")
	return nil
}

// PublishEnd publishes the end-of-stream marker for the run in ctx.
func (w *WatermillSink) PublishEnd(ctx context.Context) error {
	return w.publish(ctx, []byte("{}"), map[string]string{EndOfStreamMetadataKey: "true"})
}

func (w *WatermillSink) publish(ctx context.Context, payload []byte, metadata map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(SequenceNumberMetadataKey, strconv.FormatUint(w.sequenceNumber, 10))
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}
	w.sequenceNumber++

	err := w.publisher.Publish(w.topic, msg)
	if err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish update to watermill")
		return err
	}
	return nil
}

// IsEndOfStream reports whether msg is an end-of-stream marker.
func IsEndOfStream(msg *message.Message) bool {
	return msg.Metadata.Get(EndOfStreamMetadataKey) == "true"
}

func (w *WatermillSink) Topic() string {
	return w.topic
}
