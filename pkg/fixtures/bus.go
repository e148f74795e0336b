package fixtures

import (
	"context"
	"io"

	"github.com/go-go-golems/chatfold/pkg/events"
	"github.com/go-go-golems/chatfold/pkg/session"
	"github.com/pkg/errors"
)

// BusAgent replays a script through a watermill topic. Each turn is published
// with the run id as correlation id and read back through a subscriber
// source, so the session sees the same stream a remote producer would send.
type BusAgent struct {
	cursor *turnCursor
	router *events.EventRouter
	sink   *events.WatermillSink
	topic  string
	config agentConfig
}

var _ session.Agent = (*BusAgent)(nil)

func NewBusAgent(script *Script, router *events.EventRouter, topic string, options ...AgentOption) (*BusAgent, error) {
	if router == nil {
		return nil, errors.New("event router is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is empty")
	}
	return &BusAgent{
		cursor: &turnCursor{script: script},
		router: router,
		sink:   events.NewWatermillSink(router.Publisher, topic),
		topic:  topic,
		config: newAgentConfig("bus-agent", options...),
	}, nil
}

func (a *BusAgent) Topic() string {
	return a.topic
}

func (a *BusAgent) Remaining() int {
	return a.cursor.remaining()
}

func (a *BusAgent) Stream(ctx context.Context, req *session.Request) (session.UpdateSource, error) {
	i, turn, err := a.cursor.take()
	if err != nil {
		return nil, err
	}

	src, err := session.NewSubscriberSource(ctx, a.router.Subscriber, a.topic, req.RunID)
	if err != nil {
		return nil, err
	}

	updates := turn.Updates
	stall := turn.CancelAfter > 0 && turn.CancelAfter < len(updates)
	if stall {
		updates = updates[:turn.CancelAfter]
	}

	logger := a.config.logger.With().Int("turn", i).Str("run_id", req.RunID).Logger()
	go func() {
		for _, u := range updates {
			if err := a.sink.PublishUpdate(ctx, u); err != nil {
				logger.Error().Err(err).Msg("could not publish update")
				return
			}
		}
		if stall {
			logger.Debug().Int("published", len(updates)).Msg("turn stalls before its end marker")
			return
		}
		if err := a.sink.PublishEnd(ctx); err != nil {
			logger.Error().Err(err).Msg("could not publish end of stream")
		}
	}()

	return &busSource{
		src:     src,
		turn:    i,
		total:   len(updates),
		stall:   stall,
		onStall: a.config.onStall,
	}, nil
}

// busSource counts the updates of a stalling turn and blocks once all were
// received, as no end marker will follow.
type busSource struct {
	src     session.UpdateSource
	turn    int
	total   int
	read    int
	stall   bool
	stalled bool
	onStall StallFunc
}

func (b *busSource) Next(ctx context.Context) (*events.Update, error) {
	if b.stall && b.read >= b.total {
		return nil, waitStalled(ctx, b.turn, &b.stalled, b.onStall)
	}
	u, err := b.src.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) && b.stall {
			return nil, waitStalled(ctx, b.turn, &b.stalled, b.onStall)
		}
		return nil, err
	}
	b.read++
	return u, nil
}

func (b *busSource) Close() error {
	return b.src.Close()
}
