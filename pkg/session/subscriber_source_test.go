package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/chatfold/pkg/events"
	"github.com/go-go-golems/chatfold/pkg/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberSource_FiltersByRun(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := NewSubscriberSource(ctx, pubSub, "updates", "run-1")
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	sink := events.NewWatermillSink(pubSub, "updates")
	published := make(chan error, 1)
	go func() {
		other := helpers.ContextWithCorrelationID(ctx, "run-2")
		mine := helpers.ContextWithCorrelationID(ctx, "run-1")
		for _, f := range []func() error{
			func() error { return sink.PublishUpdate(other, events.TextUpdate("not mine")) },
			func() error { return sink.PublishUpdate(mine, events.TextUpdate("mine")) },
			func() error {
				msg := message.NewMessage(watermill.NewUUID(), []byte("garbage"))
				msg.Metadata.Set(helpers.CorrelationIDMessageMetadataKey, "run-1")
				return pubSub.Publish("updates", msg)
			},
			func() error { return sink.PublishEnd(other) },
			func() error { return sink.PublishUpdate(mine, events.TextUpdate("also mine")) },
			func() error { return sink.PublishEnd(mine) },
		} {
			if err := f(); err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	var texts []string
	for {
		u, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		texts = append(texts, u.Contents[0].Text)
	}
	assert.Equal(t, []string{"mine", "also mine"}, texts)
	require.NoError(t, <-published)
}

func TestSubscriberSource_ContextDone(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()

	src, err := NewSubscriberSource(context.Background(), pubSub, "updates", "run-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSubscriberSource_NilSubscriber(t *testing.T) {
	_, err := NewSubscriberSource(context.Background(), nil, "updates", "run-1")
	assert.Error(t, err)
}

func TestSession_OverSubscriberSource(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()

	sink := events.NewWatermillSink(pubSub, "updates")
	agent := AgentFunc(func(ctx context.Context, req *Request) (UpdateSource, error) {
		src, err := NewSubscriberSource(ctx, pubSub, "updates", req.RunID)
		if err != nil {
			return nil, err
		}
		go func() {
			_ = sink.PublishUpdate(ctx, events.ConversationUpdate("conv-bus"))
			_ = sink.PublishUpdate(ctx, events.TextUpdate("over the bus"))
			_ = sink.PublishEnd(ctx)
		}()
		return src, nil
	})

	s := NewSession(agent)
	defer func() { _ = s.Close() }()

	h, err := s.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	outcome, err := waitRun(t, h)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	assert.Equal(t, "conv-bus", s.ConversationID())
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "over the bus", msgs[1].Text())
}
