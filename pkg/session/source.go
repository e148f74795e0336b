package session

import (
	"context"
	"io"
	"sync"

	"github.com/go-go-golems/chatfold/pkg/conversation"
	"github.com/go-go-golems/chatfold/pkg/events"
)

// Request describes one run handed to an Agent.
type Request struct {
	SessionID      string
	RunID          string
	ConversationID string
	// Messages is the history including the new user message.
	Messages conversation.Conversation
	Text     string
}

// Agent opens the update stream answering a request. Stream must not block
// on the response itself, reading happens through the returned source.
type Agent interface {
	Stream(ctx context.Context, req *Request) (UpdateSource, error)
}

type AgentFunc func(ctx context.Context, req *Request) (UpdateSource, error)

func (f AgentFunc) Stream(ctx context.Context, req *Request) (UpdateSource, error) {
	return f(ctx, req)
}

// UpdateSource is a pull-style stream of updates. Next returns io.EOF once
// the stream is exhausted and ctx.Err() when ctx is done.
type UpdateSource interface {
	Next(ctx context.Context) (*events.Update, error)
	Close() error
}

type sliceSource struct {
	mu      sync.Mutex
	updates []*events.Update
	pos     int
}

// NewSliceSource replays a fixed list of updates.
func NewSliceSource(updates ...*events.Update) UpdateSource {
	return &sliceSource{updates: updates}
}

func (s *sliceSource) Next(ctx context.Context) (*events.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.updates) {
		return nil, io.EOF
	}
	u := s.updates[s.pos]
	s.pos++
	return u, nil
}

func (s *sliceSource) Close() error {
	return nil
}

// ChannelItem is either an update or a terminal error.
type ChannelItem struct {
	Update *events.Update
	Err    error
}

type channelSource struct {
	ch        <-chan ChannelItem
	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannelSource reads updates from ch until it is closed. An item with Err
// set ends the stream with that error.
func NewChannelSource(ch <-chan ChannelItem) UpdateSource {
	return &channelSource{ch: ch, closed: make(chan struct{})}
}

func (c *channelSource) Next(ctx context.Context) (*events.Update, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, io.EOF
	case it, ok := <-c.ch:
		if !ok {
			return nil, io.EOF
		}
		if it.Err != nil {
			return nil, it.Err
		}
		return it.Update, nil
	}
}

func (c *channelSource) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
