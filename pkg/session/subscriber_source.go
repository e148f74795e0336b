package session

import (
	"context"
	"io"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/chatfold/pkg/events"
	"github.com/go-go-golems/chatfold/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// subscriberSource reads the updates of one run from a watermill topic.
type subscriberSource struct {
	runID    string
	topic    string
	messages <-chan *message.Message
	cancel   context.CancelFunc
	once     sync.Once
}

var _ UpdateSource = (*subscriberSource)(nil)

// NewSubscriberSource subscribes to topic and yields the updates published
// with runID as their correlation id. Messages of other runs are acked and
// skipped. The stream ends with the end-of-stream marker of the run.
//
// The subscription is made before NewSubscriberSource returns, so updates
// published afterwards are not lost.
func NewSubscriberSource(ctx context.Context, sub message.Subscriber, topic string, runID string) (UpdateSource, error) {
	if sub == nil {
		return nil, errors.New("subscriber is nil")
	}
	subCtx, cancel := context.WithCancel(ctx)
	messages, err := sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "could not subscribe to %s", topic)
	}
	return &subscriberSource{
		runID:    runID,
		topic:    topic,
		messages: messages,
		cancel:   cancel,
	}, nil
}

func (s *subscriberSource) Next(ctx context.Context) (*events.Update, error) {
	for {
		var msg *message.Message
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok = <-s.messages:
		}
		if !ok {
			return nil, io.EOF
		}
		msg.Ack()

		if s.runID != "" && helpers.CorrelationIDFromMessage(msg) != s.runID {
			continue
		}
		if events.IsEndOfStream(msg) {
			return nil, io.EOF
		}

		u, err := events.NewUpdateFromJson(msg.Payload)
		if err != nil {
			log.Warn().Err(err).
				Str("topic", s.topic).
				Str("message_id", msg.UUID).
				Str("run_id", s.runID).
				Msg("could not decode update, skipping")
			continue
		}
		return u, nil
	}
}

func (s *subscriberSource) Close() error {
	s.once.Do(s.cancel)
	return nil
}
