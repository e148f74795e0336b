package plan

import (
	"encoding/json"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// ParseStatus accepts the spellings seen from different producers
// ("Completed", "in_progress", "inProgress", ...).
func ParseStatus(s string) (Status, error) {
	switch Status(strcase.ToKebab(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusCompleted:
		return StatusCompleted, nil
	}
	return "", errors.Errorf("unknown step status %q", s)
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "step status must be a string")
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

type Step struct {
	Description string `json:"description" yaml:"description"`
	Status      Status `json:"status" yaml:"status"`
	Detail      string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Plan is an ordered list of steps maintained by the agent.
type Plan struct {
	Steps []*Step `json:"steps" yaml:"steps"`
}

func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Steps)
}

// Completed counts completed steps.
func (p *Plan) Completed() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, s := range p.Steps {
		if s != nil && s.Status == StatusCompleted {
			n++
		}
	}
	return n
}

func (p *Plan) Done() bool {
	return p.Len() > 0 && p.Completed() == p.Len()
}

// Merge builds the value that replaces prev after a delta produced next.
// When the step count is unchanged, steps equal to their predecessor keep the
// previous pointer so renderers can skip them. The returned indices are the
// steps that changed. When the count differs the next plan is used as is.
func Merge(prev, next *Plan) (*Plan, []int, bool) {
	if prev == nil || next == nil || len(prev.Steps) != len(next.Steps) {
		return next, nil, true
	}
	ret := &Plan{Steps: make([]*Step, len(prev.Steps))}
	var changed []int
	for i := range prev.Steps {
		p, n := prev.Steps[i], next.Steps[i]
		if p != nil && n != nil && *p == *n {
			ret.Steps[i] = p
			continue
		}
		ret.Steps[i] = n
		changed = append(changed, i)
	}
	return ret, changed, false
}
