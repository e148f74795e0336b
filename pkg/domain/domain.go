// Package domain describes pieces of shared, agent-maintained state (a plan,
// a recipe, a document) that the reducer keeps next to the message history.
//
// A Domain knows how to recognize its own snapshot documents and patch
// arrays, how to decode a snapshot, and how to apply a delta to the value it
// produced. The reducer never interprets domain state itself.
package domain

import (
	"encoding/json"
	"sync"

	"github.com/go-go-golems/chatfold/pkg/patch"
	"github.com/pkg/errors"
)

var ErrUnknownDomain = errors.New("unknown domain")

// DeltaResult describes how a delta changed a domain value.
type DeltaResult struct {
	Patch patch.Report
	// Resynced is set when the delta changed the shape of the state (for
	// example the number of items) and the value was replaced wholesale.
	Resynced bool
	// Changed lists the item indices replaced in place. Empty when Resynced.
	Changed []int
}

func (r DeltaResult) Modified() bool {
	return r.Resynced || len(r.Changed) > 0
}

type Domain interface {
	Name() string
	// DetectSnapshot reports whether raw looks like a full snapshot of this domain.
	DetectSnapshot(raw json.RawMessage) bool
	// DetectDelta reports whether the operations target this domain.
	DetectDelta(ops []patch.Operation) bool
	DecodeSnapshot(raw json.RawMessage) (any, error)
	// ApplyDelta returns the next value. current may be nil when no snapshot
	// was received yet. Implementations must return current unchanged when
	// nothing applied.
	ApplyDelta(current any, ops []patch.Operation) (any, DeltaResult, error)
}

// Registry is an ordered set of domains. Detection walks domains in
// registration order and the first match wins.
type Registry struct {
	mu      sync.RWMutex
	domains []Domain
	byName  map[string]Domain
}

func NewRegistry(domains ...Domain) *Registry {
	r := &Registry{byName: map[string]Domain{}}
	for _, d := range domains {
		_ = r.Register(d)
	}
	return r
}

func (r *Registry) Register(d Domain) error {
	if d == nil {
		return errors.New("domain is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[d.Name()]; ok {
		return errors.Errorf("domain %q already registered", d.Name())
	}
	r.domains = append(r.domains, d)
	r.byName[d.Name()] = d
	return nil
}

func (r *Registry) Get(name string) (Domain, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]string, 0, len(r.domains))
	for _, d := range r.domains {
		ret = append(ret, d.Name())
	}
	return ret
}

// DetectSnapshot returns the name of the first domain claiming raw.
func (r *Registry) DetectSnapshot(raw json.RawMessage) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.domains {
		if d.DetectSnapshot(raw) {
			return d.Name(), true
		}
	}
	return "", false
}

func (r *Registry) DetectDelta(ops []patch.Operation) (string, bool) {
	if r == nil || len(ops) == 0 {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.domains {
		if d.DetectDelta(ops) {
			return d.Name(), true
		}
	}
	return "", false
}
