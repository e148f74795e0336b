package session

import (
	"context"
	"errors"
	"sync"
)

var ErrRunHandleNil = errors.New("run handle is nil")

type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeCompleted
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// RunHandle represents a single run started with SendMessage.
//
// It is cancelable and waitable. Cancelling goes through the run context, the
// session flushes partial output before Wait returns.
type RunHandle struct {
	SessionID string
	RunID     string
	Text      string

	done chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	outcome Outcome
	err     error
}

func newRunHandle(sessionID, runID, text string, cancel context.CancelFunc) *RunHandle {
	return &RunHandle{
		SessionID: sessionID,
		RunID:     runID,
		Text:      text,
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

// setResult records the outcome once, later calls are ignored.
func (h *RunHandle) setResult(outcome Outcome, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return
	default:
	}
	h.outcome = outcome
	h.err = err
	h.cancel = nil
	close(h.done)
}

// Cancel cancels the run. It is safe to call multiple times.
func (h *RunHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the run is over and its output has been folded into
// the session.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run is over.
func (h *RunHandle) Wait() (Outcome, error) {
	if h == nil {
		return OutcomeFailed, ErrRunHandleNil
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.err
}

func (h *RunHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
