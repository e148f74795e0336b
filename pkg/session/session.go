// Package session exposes a conversation as a single-run-at-a-time actor.
//
// A Session owns one reducer. Every mutation (SendMessage, Cancel, Reset and
// the updates of the active run) is executed on the session goroutine, so the
// reducer never needs locking. Readers use the published View, which is
// replaced atomically after every change.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-go-golems/chatfold/pkg/conversation"
	"github.com/go-go-golems/chatfold/pkg/domain"
	"github.com/go-go-golems/chatfold/pkg/events"
	"github.com/go-go-golems/chatfold/pkg/plan"
	"github.com/go-go-golems/chatfold/pkg/reducer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionNil    = errors.New("session is nil")
	ErrSessionClosed = errors.New("session is closed")
	ErrAgentNil      = errors.New("session agent is nil")
)

type Session struct {
	SessionID string

	agent   Agent
	reducer *reducer.Reducer
	logger  zerolog.Logger

	reducerOptions []reducer.Option

	cmds      chan func()
	items     chan runItem
	quit      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	version uint64
	view    atomic.Pointer[View]

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int

	// owned by the session goroutine
	active *activeRun
}

type activeRun struct {
	id     string
	cancel context.CancelFunc
	handle *RunHandle
}

// runItem is what a pump forwards to the session goroutine. Exactly one of
// update, err and done is set.
type runItem struct {
	runID  string
	update *events.Update
	err    error
	done   bool
}

type Option func(*Session)

func WithSessionID(id string) Option {
	return func(s *Session) {
		s.SessionID = id
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithDomains(domains *domain.Registry) Option {
	return func(s *Session) {
		s.reducerOptions = append(s.reducerOptions, reducer.WithDomains(domains))
	}
}

func WithToolRules(rules *reducer.ToolRules) Option {
	return func(s *Session) {
		s.reducerOptions = append(s.reducerOptions, reducer.WithToolRules(rules))
	}
}

// WithObserver subscribes o before the session starts.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		s.observers[s.nextObs] = o
		s.nextObs++
	}
}

// NewSession starts the session goroutine. The plan domain is registered
// unless WithDomains is given. Close releases the goroutine.
func NewSession(agent Agent, options ...Option) *Session {
	s := &Session{
		SessionID: uuid.NewString(),
		agent:     agent,
		logger:    log.Logger,
		cmds:      make(chan func()),
		items:     make(chan runItem),
		quit:      make(chan struct{}),
		closed:    make(chan struct{}),
		observers: map[int]Observer{},
	}
	for _, o := range options {
		o(s)
	}
	s.logger = s.logger.With().Str("component", "session").Str("session_id", s.SessionID).Logger()

	reducerOptions := append([]reducer.Option{
		reducer.WithDomains(domain.NewRegistry(plan.NewDomain())),
		reducer.WithLogger(s.logger.With().Str("component", "reducer").Logger()),
	}, s.reducerOptions...)
	s.reducer = reducer.New(reducerOptions...)
	s.reducer.SetOnChange(s.publish)
	s.view.Store(newView(0, s.reducer.State()))

	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.closed)
	for {
		select {
		case f := <-s.cmds:
			f()
		case it := <-s.items:
			s.handleItem(it)
		case <-s.quit:
			s.stopActive()
			return
		}
	}
}

// do runs f on the session goroutine and waits for it to finish.
func (s *Session) do(ctx context.Context, f func()) error {
	if s == nil {
		return ErrSessionNil
	}
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		f()
	}
	select {
	case s.cmds <- cmd:
	case <-s.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// publish stores a new view and notifies observers. It runs on the session
// goroutine as the reducer change hook.
func (s *Session) publish() {
	s.version++
	s.view.Store(newView(s.version, s.reducer.State()))

	s.obsMu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.obsMu.Unlock()

	for _, o := range observers {
		o.StateChanged()
	}
}

// SendMessage starts a new run for text. A run still in flight is cancelled
// first and its partial output kept. ctx bounds the whole run. Failures of
// the agent are reported through the handle, not as an error here.
func (s *Session) SendMessage(ctx context.Context, text string) (*RunHandle, error) {
	if s == nil {
		return nil, ErrSessionNil
	}
	if s.agent == nil {
		return nil, ErrAgentNil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var h *RunHandle
	err := s.do(ctx, func() {
		h = s.startRun(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Session) startRun(ctx context.Context, text string) *RunHandle {
	s.stopActive()

	runID := uuid.NewString()
	s.reducer.Begin(runID, text)

	st := s.reducer.State()
	req := &Request{
		SessionID:      s.SessionID,
		RunID:          runID,
		ConversationID: st.ConversationID,
		Messages:       append(conversation.Conversation(nil), st.History...),
		Text:           text,
	}

	runCtx, cancel := context.WithCancel(WithRunMeta(ctx, s.SessionID, runID))
	h := newRunHandle(s.SessionID, runID, text, cancel)
	s.active = &activeRun{id: runID, cancel: cancel, handle: h}

	s.logger.Debug().Str("run_id", runID).Str("conversation_id", req.ConversationID).Msg("starting run")
	go s.pump(runCtx, req)
	return h
}

// pump reads the run's source and forwards items to the session goroutine.
// The final item is always delivered so the session learns about runs
// ending on their own context.
func (s *Session) pump(ctx context.Context, req *Request) {
	send := func(it runItem) bool {
		it.runID = req.RunID
		if it.update != nil {
			select {
			case s.items <- it:
				return true
			case <-ctx.Done():
				return false
			case <-s.closed:
				return false
			}
		}
		select {
		case s.items <- it:
		case <-s.closed:
		}
		return false
	}

	src, err := s.agent.Stream(ctx, req)
	if err != nil {
		send(runItem{err: err})
		return
	}
	defer func() {
		if err := src.Close(); err != nil {
			s.logger.Warn().Err(err).Str("run_id", req.RunID).Msg("could not close update source")
		}
	}()

	for {
		u, err := src.Next(ctx)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		switch {
		case errors.Is(err, io.EOF):
			send(runItem{done: true})
			return
		case err != nil:
			send(runItem{err: err})
			return
		case u == nil:
			continue
		}
		if !send(runItem{update: u}) {
			send(runItem{err: ctx.Err()})
			return
		}
	}
}

func (s *Session) handleItem(it runItem) {
	if s.active == nil || s.active.id != it.runID {
		s.logger.Debug().Str("run_id", it.runID).Msg("item from superseded run dropped")
		return
	}
	switch {
	case it.update != nil:
		s.reducer.ApplyUpdate(it.update)
	case it.done:
		s.finishActive(OutcomeCompleted, nil)
	case errors.Is(it.err, context.Canceled), errors.Is(it.err, context.DeadlineExceeded):
		s.finishActive(OutcomeCancelled, it.err)
	default:
		s.finishActive(OutcomeFailed, it.err)
	}
}

func (s *Session) finishActive(outcome Outcome, err error) {
	r := s.active
	s.active = nil
	r.cancel()

	switch outcome {
	case OutcomeCompleted:
		s.reducer.Finalize()
	case OutcomeFailed:
		s.reducer.Fail(err)
		s.reducer.Finalize()
	default:
		s.reducer.Cancel()
	}
	s.logger.Debug().Str("run_id", r.id).Str("outcome", outcome.String()).Err(err).Msg("run finished")
	r.handle.setResult(outcome, err)
}

// stopActive cancels the active run, if any, keeping its partial output.
func (s *Session) stopActive() {
	if s.active == nil {
		return
	}
	s.finishActive(OutcomeCancelled, context.Canceled)
}

// Cancel stops the active run. Cancelling an idle session is a no-op.
func (s *Session) Cancel() {
	err := s.do(context.Background(), s.stopActive)
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		s.logger.Warn().Err(err).Msg("cancel failed")
	}
}

// Reset cancels the active run and clears history, domain state and the
// conversation id.
func (s *Session) Reset() {
	err := s.do(context.Background(), func() {
		s.stopActive()
		s.reducer.Reset()
	})
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		s.logger.Warn().Err(err).Msg("reset failed")
	}
}

// Close cancels the active run and stops the session goroutine.
func (s *Session) Close() error {
	if s == nil {
		return ErrSessionNil
	}
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.closed
	return nil
}

// Subscribe registers o and returns a function removing it again.
func (s *Session) Subscribe(o Observer) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = o
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Session) View() *View {
	return s.view.Load()
}

func (s *Session) Messages() conversation.Conversation {
	return s.View().Messages
}

func (s *Session) InProgress() *conversation.Message {
	return s.View().InProgress
}

// State returns the current value of a domain, nil when there is none.
func (s *Session) State(domainName string) any {
	return s.View().Domains[domainName]
}

// Plan returns the current plan, nil when none was received.
func (s *Session) Plan() *plan.Plan {
	p, _ := s.State(plan.DomainName).(*plan.Plan)
	return p
}

func (s *Session) ConversationID() string {
	return s.View().ConversationID
}

func (s *Session) Phase() reducer.Phase {
	return s.View().Phase
}

func (s *Session) IsRunning() bool {
	return s.View().Running()
}
