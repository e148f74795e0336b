package plan

import (
	"bytes"
	"encoding/json"

	"github.com/go-go-golems/chatfold/pkg/domain"
	"github.com/go-go-golems/chatfold/pkg/patch"
	"github.com/pkg/errors"
)

const DomainName = "plan"

// Domain implements domain.Domain for step-by-step plans.
type Domain struct {
	// SkipValidation disables JSON schema validation of snapshots.
	SkipValidation bool
}

var _ domain.Domain = (*Domain)(nil)

func NewDomain() *Domain {
	return &Domain{}
}

func (d *Domain) Name() string { return DomainName }

// DetectSnapshot matches JSON objects carrying a "steps" array.
func (d *Domain) DetectSnapshot(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	steps, ok := probe["steps"]
	if !ok {
		return false
	}
	steps = bytes.TrimSpace(steps)
	return len(steps) > 0 && steps[0] == '['
}

// DetectDelta matches patches where any operation targets /steps.
func (d *Domain) DetectDelta(ops []patch.Operation) bool {
	for _, p := range patch.Paths(ops) {
		if p.HasPrefix("steps") {
			return true
		}
	}
	return false
}

func (d *Domain) DecodeSnapshot(raw json.RawMessage) (any, error) {
	if !d.SkipValidation {
		if err := Validate(raw); err != nil {
			return nil, err
		}
	}
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "could not decode plan snapshot")
	}
	for i, s := range p.Steps {
		if s == nil {
			return nil, errors.Errorf("plan step %d is null", i)
		}
	}
	return &p, nil
}

func (d *Domain) ApplyDelta(current any, ops []patch.Operation) (any, domain.DeltaResult, error) {
	var res domain.DeltaResult
	prev, ok := current.(*Plan)
	if current != nil && !ok {
		return current, res, errors.Errorf("plan domain cannot patch %T", current)
	}
	if prev == nil {
		return current, res, errors.New("no plan snapshot to patch")
	}

	next, report := patch.ApplyChecked(prev, ops, d.checkPatched)
	res.Patch = report
	if !report.Changed() || next == nil {
		return current, res, nil
	}

	merged, changed, resynced := Merge(prev, next)
	res.Changed = changed
	res.Resynced = resynced
	if !res.Modified() {
		return current, res, nil
	}
	return merged, res, nil
}

// checkPatched rejects a patched document that is no longer a valid plan.
func (d *Domain) checkPatched(doc []byte) error {
	if !d.SkipValidation {
		if err := Validate(doc); err != nil {
			return err
		}
	}
	var steps struct {
		Steps []json.RawMessage `json:"steps"`
	}
	if err := json.Unmarshal(doc, &steps); err != nil {
		return errors.Wrap(err, "could not decode patched plan")
	}
	for i, s := range steps.Steps {
		if string(bytes.TrimSpace(s)) == "null" {
			return errors.Errorf("plan step %d is null", i)
		}
	}
	return nil
}
