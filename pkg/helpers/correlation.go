package helpers

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog/log"
)

const CorrelationIDMessageMetadataKey = "correlation_id"

type correlationIDKeyType string

const correlationIDKey correlationIDKeyType = "correlation_id"

func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext returns the id stored in ctx. When none is set a
// new one prefixed with "gen_" is generated, so missing propagation shows up
// in the logs.
func CorrelationIDFromContext(ctx context.Context) string {
	v, ok := ctx.Value(correlationIDKey).(string)
	if ok && v != "" {
		return v
	}

	log.Ctx(ctx).Warn().Msg("correlation ID not found in context")

	return "gen_" + shortuuid.New()
}

// CorrelationIDFromMessage returns the correlation id set on msg, if any.
func CorrelationIDFromMessage(msg *message.Message) string {
	return msg.Metadata.Get(CorrelationIDMessageMetadataKey)
}

// CorrelationPublisherDecorator sets the correlation id on published
// messages from their context, leaving ids already present untouched.
type CorrelationPublisherDecorator struct {
	message.Publisher
}

func (c CorrelationPublisherDecorator) Publish(topic string, messages ...*message.Message) error {
	for i := range messages {
		if messages[i].Metadata.Get(CorrelationIDMessageMetadataKey) != "" {
			continue
		}
		messages[i].Metadata.Set(CorrelationIDMessageMetadataKey, CorrelationIDFromContext(messages[i].Context()))
	}

	return c.Publisher.Publish(topic, messages...)
}
