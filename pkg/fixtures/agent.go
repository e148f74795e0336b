package fixtures

import (
	"context"
	"io"
	"sync"

	"github.com/go-go-golems/chatfold/pkg/events"
	"github.com/go-go-golems/chatfold/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrScriptExhausted = errors.New("script has no turns left")

// StallFunc is called once a turn reached its cancel_after point. It runs on
// the goroutine reading the stream, so it may call Session.Cancel.
type StallFunc func(ctx context.Context, turn int)

type AgentOption func(*agentConfig)

type agentConfig struct {
	onStall StallFunc
	logger  zerolog.Logger
}

func WithStallFunc(f StallFunc) AgentOption {
	return func(c *agentConfig) {
		c.onStall = f
	}
}

func WithAgentLogger(logger zerolog.Logger) AgentOption {
	return func(c *agentConfig) {
		c.logger = logger
	}
}

func newAgentConfig(component string, options ...AgentOption) agentConfig {
	c := agentConfig{
		logger: log.With().Str("component", component).Logger(),
	}
	for _, o := range options {
		o(&c)
	}
	return c
}

// turnCursor hands out the turns of a script in order.
type turnCursor struct {
	mu     sync.Mutex
	script *Script
	next   int
}

func (c *turnCursor) take() (int, *Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.script.Turns) {
		return 0, nil, ErrScriptExhausted
	}
	i := c.next
	c.next++
	return i, c.script.Turns[i], nil
}

func (c *turnCursor) remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.script.Turns) - c.next
}

// ScriptedAgent answers every request with the next turn of a script.
type ScriptedAgent struct {
	cursor *turnCursor
	config agentConfig
}

var _ session.Agent = (*ScriptedAgent)(nil)

func NewScriptedAgent(script *Script, options ...AgentOption) *ScriptedAgent {
	return &ScriptedAgent{
		cursor: &turnCursor{script: script},
		config: newAgentConfig("scripted-agent", options...),
	}
}

func (a *ScriptedAgent) Remaining() int {
	return a.cursor.remaining()
}

func (a *ScriptedAgent) Stream(ctx context.Context, req *session.Request) (session.UpdateSource, error) {
	i, turn, err := a.cursor.take()
	if err != nil {
		return nil, err
	}
	if turn.User != "" && turn.User != req.Text {
		a.config.logger.Warn().Int("turn", i).Str("expected", turn.User).Str("got", req.Text).Msg("user text does not match script")
	}
	a.config.logger.Debug().Int("turn", i).Int("updates", len(turn.Updates)).Str("run_id", req.RunID).Msg("replaying turn")

	updates := turn.Updates
	stall := turn.CancelAfter > 0 && turn.CancelAfter < len(updates)
	if stall {
		updates = updates[:turn.CancelAfter]
	}
	return &scriptedSource{
		turn:    i,
		updates: updates,
		stall:   stall,
		onStall: a.config.onStall,
	}, nil
}

type scriptedSource struct {
	turn    int
	updates []*events.Update
	pos     int
	stall   bool
	stalled bool
	onStall StallFunc
}

func (s *scriptedSource) Next(ctx context.Context) (*events.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos < len(s.updates) {
		u := s.updates[s.pos]
		s.pos++
		return u, nil
	}
	if !s.stall {
		return nil, io.EOF
	}
	return nil, waitStalled(ctx, s.turn, &s.stalled, s.onStall)
}

func (s *scriptedSource) Close() error {
	return nil
}

// waitStalled blocks until ctx is done, calling onStall the first time.
func waitStalled(ctx context.Context, turn int, stalled *bool, onStall StallFunc) error {
	if !*stalled {
		*stalled = true
		if onStall != nil {
			onStall(ctx, turn)
		}
	}
	<-ctx.Done()
	return ctx.Err()
}
