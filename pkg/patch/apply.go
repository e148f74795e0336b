package patch

import (
	"bytes"
	"encoding/json"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

var (
	ErrUnsupportedOp = errors.New("unsupported patch operation")
	ErrMissingValue  = errors.New("operation requires a value")
)

// Skip records an operation that was not applied.
type Skip struct {
	Index  int       `json:"index" yaml:"index"`
	Op     Operation `json:"op" yaml:"op"`
	Reason string    `json:"reason" yaml:"reason"`
}

// Report summarizes a patch application.
type Report struct {
	Applied int    `json:"applied" yaml:"applied"`
	Skipped []Skip `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

func (r Report) Changed() bool {
	return r.Applied > 0
}

// ApplyDocument applies ops in order to a copy of a generic JSON document
// (maps, slices and scalars as produced by encoding/json). An operation that
// does not resolve is skipped and processing continues with the next one.
// doc itself is never modified.
func ApplyDocument(doc any, ops []Operation) (any, Report) {
	return applyEach(doc, ops, nil)
}

// Apply patches a typed snapshot. It is ApplyChecked without a check.
func Apply[T any](snapshot T, ops []Operation) (T, Report) {
	return ApplyChecked(snapshot, ops, nil)
}

// ApplyChecked patches a typed snapshot one operation at a time. The snapshot
// is round-tripped through JSON to obtain a structural copy. After each
// operation the document must still decode into T and, when check is not
// nil, pass check; otherwise that operation alone is skipped and the next one
// starts from the last accepted document. When nothing applies the original
// snapshot is returned untouched.
func ApplyChecked[T any](snapshot T, ops []Operation, check func(doc []byte) error) (T, Report) {
	var report Report
	if len(ops) == 0 {
		return snapshot, report
	}

	b, err := json.Marshal(snapshot)
	if err != nil {
		return snapshot, skipAll(ops, errors.Wrap(err, "could not encode snapshot"))
	}
	doc, err := decodeValue(b)
	if err != nil {
		return snapshot, skipAll(ops, errors.Wrap(err, "could not decode snapshot"))
	}

	ret := snapshot
	_, report = applyEach(doc, ops, func(patched any) error {
		out, err := json.Marshal(patched)
		if err != nil {
			return errors.Wrap(err, "could not encode patched document")
		}
		if check != nil {
			if err := check(out); err != nil {
				return err
			}
		}
		var next T
		if err := json.Unmarshal(out, &next); err != nil {
			return errors.Wrap(err, "patched document does not fit snapshot type")
		}
		ret = next
		return nil
	})
	return ret, report
}

// applyEach runs ops against a copy of doc. When accept is set, every
// successfully applied operation is offered to it and a rejected one is
// skipped like an unresolvable one.
func applyEach(doc any, ops []Operation, accept func(any) error) (any, Report) {
	var report Report
	if len(ops) == 0 {
		return doc, report
	}

	cur := clone.Clone(doc)
	for i, op := range ops {
		work := cur
		if accept != nil {
			// applyOne writes into its input
			work = clone.Clone(cur)
		}
		next, err := applyOne(work, op)
		if err == nil && accept != nil {
			err = accept(next)
		}
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{Index: i, Op: op, Reason: err.Error()})
			continue
		}
		cur = next
		report.Applied++
	}
	if report.Applied == 0 {
		return doc, report
	}
	return cur, report
}

func skipAll(ops []Operation, err error) Report {
	r := Report{Skipped: make([]Skip, 0, len(ops))}
	for i, op := range ops {
		r.Skipped = append(r.Skipped, Skip{Index: i, Op: op, Reason: err.Error()})
	}
	return r
}

func decodeValue(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func applyOne(doc any, op Operation) (any, error) {
	if !op.Op.Supported() {
		return nil, errors.Wrapf(ErrUnsupportedOp, "%q", op.Op)
	}
	p, err := ParsePointer(op.Path)
	if err != nil {
		return nil, err
	}

	var value any
	if op.Op == OpReplace || op.Op == OpAdd {
		if !op.HasValue && len(op.Value) == 0 {
			return nil, errors.Wrapf(ErrMissingValue, "%s %s", op.Op, op.Path)
		}
		raw := op.Value
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		value, err = decodeValue(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "bad value for %s", op.Path)
		}
	}

	if len(p) == 0 {
		switch op.Op {
		case OpReplace, OpAdd:
			return value, nil
		default:
			return nil, errors.Wrap(ErrUnsupportedOp, "cannot remove the document root")
		}
	}

	return mutate(doc, p, func(parent any, tok string) (any, error) {
		switch op.Op {
		case OpReplace:
			return replaceIn(parent, tok, value)
		case OpAdd:
			return addIn(parent, tok, value)
		case OpRemove:
			return removeIn(parent, tok)
		}
		return nil, errors.Wrapf(ErrUnsupportedOp, "%q", op.Op)
	})
}

// mutate descends along p and calls leaf on the container holding the last
// token. Containers are only written after leaf succeeded, so a failing
// operation leaves the document as it was.
func mutate(node any, p Pointer, leaf func(parent any, tok string) (any, error)) (any, error) {
	if len(p) == 1 {
		return leaf(node, p[0])
	}
	head := p[0]
	switch n := node.(type) {
	case map[string]any:
		child, ok := n[head]
		if !ok {
			return nil, errors.Wrapf(ErrPathNotFound, "missing field %q", head)
		}
		nc, err := mutate(child, p[1:], leaf)
		if err != nil {
			return nil, err
		}
		n[head] = nc
		return n, nil
	case []any:
		idx, err := parseIndex(head, len(n), false)
		if err != nil {
			return nil, err
		}
		nc, err := mutate(n[idx], p[1:], leaf)
		if err != nil {
			return nil, err
		}
		n[idx] = nc
		return n, nil
	}
	return nil, errors.Wrapf(ErrPathNotFound, "cannot descend into scalar at %q", head)
}

func replaceIn(parent any, tok string, value any) (any, error) {
	switch n := parent.(type) {
	case map[string]any:
		if _, ok := n[tok]; !ok {
			return nil, errors.Wrapf(ErrPathNotFound, "missing field %q", tok)
		}
		n[tok] = value
		return n, nil
	case []any:
		idx, err := parseIndex(tok, len(n), false)
		if err != nil {
			return nil, err
		}
		n[idx] = value
		return n, nil
	}
	return nil, errors.Wrapf(ErrPathNotFound, "cannot replace %q in scalar", tok)
}

func addIn(parent any, tok string, value any) (any, error) {
	switch n := parent.(type) {
	case map[string]any:
		n[tok] = value
		return n, nil
	case []any:
		idx, err := parseIndex(tok, len(n), true)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(n)+1)
		out = append(out, n[:idx]...)
		out = append(out, value)
		out = append(out, n[idx:]...)
		return out, nil
	}
	return nil, errors.Wrapf(ErrPathNotFound, "cannot add %q to scalar", tok)
}

func removeIn(parent any, tok string) (any, error) {
	switch n := parent.(type) {
	case map[string]any:
		if _, ok := n[tok]; !ok {
			return nil, errors.Wrapf(ErrPathNotFound, "missing field %q", tok)
		}
		delete(n, tok)
		return n, nil
	case []any:
		idx, err := parseIndex(tok, len(n), false)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(n)-1)
		out = append(out, n[:idx]...)
		out = append(out, n[idx+1:]...)
		return out, nil
	}
	return nil, errors.Wrapf(ErrPathNotFound, "cannot remove %q from scalar", tok)
}

// Resolve returns the value addressed by path in doc.
func Resolve(doc any, path string) (any, error) {
	p, err := ParsePointer(path)
	if err != nil {
		return nil, err
	}
	return resolve(doc, p)
}
