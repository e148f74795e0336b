package helpers

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	published []*message.Message
}

func (r *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	r.published = append(r.published, messages...)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func TestCorrelationPublisherDecorator(t *testing.T) {
	rec := &recordingPublisher{}
	pub := CorrelationPublisherDecorator{Publisher: rec}

	tagged := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	tagged.SetContext(ContextWithCorrelationID(context.Background(), "run-1"))

	preset := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	preset.Metadata.Set(CorrelationIDMessageMetadataKey, "keep")

	untagged := message.NewMessage(watermill.NewUUID(), []byte(`{}`))

	require.NoError(t, pub.Publish("topic", tagged, preset, untagged))
	require.Len(t, rec.published, 3)
	assert.Equal(t, "run-1", CorrelationIDFromMessage(rec.published[0]))
	assert.Equal(t, "keep", CorrelationIDFromMessage(rec.published[1]))
	assert.Regexp(t, `^gen_`, CorrelationIDFromMessage(rec.published[2]))
}
