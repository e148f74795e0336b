package correlation

import (
	"sync"

	"github.com/rs/zerolog"
)

// Kind distinguishes the two sides of a tool exchange.
type Kind int

const (
	KindToolCall Kind = iota
	KindToolResult
)

func (k Kind) String() string {
	switch k {
	case KindToolCall:
		return "tool-call"
	case KindToolResult:
		return "tool-result"
	}
	return "unknown"
}

// Stats is a snapshot of the tracker counters.
type Stats struct {
	Calls      int `json:"calls" yaml:"calls"`
	Results    int `json:"results" yaml:"results"`
	Suppressed int `json:"suppressed" yaml:"suppressed"`
}

func (s Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Int("calls", s.Calls).Int("results", s.Results).Int("suppressed", s.Suppressed)
}

// Tracker remembers which tool call ids were already surfaced, separately
// for calls and results, so that a replayed stream does not produce
// duplicate entries.
type Tracker struct {
	mu         sync.Mutex
	calls      map[string]struct{}
	results    map[string]struct{}
	suppressed int
}

func NewTracker() *Tracker {
	return &Tracker{
		calls:   make(map[string]struct{}),
		results: make(map[string]struct{}),
	}
}

// ShouldEmit returns true the first time (callID, kind) is seen and false
// for every repetition. Empty call ids cannot be correlated and are always
// emitted.
func (t *Tracker) ShouldEmit(callID string, kind Kind) bool {
	if callID == "" {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.calls
	if kind == KindToolResult {
		set = t.results
	}
	if _, ok := set[callID]; ok {
		t.suppressed++
		return false
	}
	set[callID] = struct{}{}
	return true
}

// Seen reports whether (callID, kind) was already emitted.
func (t *Tracker) Seen(callID string, kind Kind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.calls
	if kind == KindToolResult {
		set = t.results
	}
	_, ok := set[callID]
	return ok
}

// Reset forgets every id. The suppressed counter is kept.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = make(map[string]struct{})
	t.results = make(map[string]struct{})
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Calls:      len(t.calls),
		Results:    len(t.results),
		Suppressed: t.suppressed,
	}
}
