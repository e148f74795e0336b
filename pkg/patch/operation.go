package patch

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

type Op string

const (
	OpReplace Op = "replace"
	OpAdd     Op = "add"
	OpRemove  Op = "remove"
	OpMove    Op = "move"
	OpCopy    Op = "copy"
	OpTest    Op = "test"
)

// Supported reports whether the engine applies this op. move, copy and test
// are parsed but skipped.
func (o Op) Supported() bool {
	switch o {
	case OpReplace, OpAdd, OpRemove:
		return true
	}
	return false
}

// Operation is a single JSON Patch operation. HasValue distinguishes an
// explicit null value from a missing one.
type Operation struct {
	Op       Op              `json:"op" yaml:"op"`
	Path     string          `json:"path" yaml:"path"`
	From     string          `json:"from,omitempty" yaml:"from,omitempty"`
	Value    json.RawMessage `json:"value,omitempty" yaml:"value,omitempty"`
	HasValue bool            `json:"-" yaml:"-"`
}

func Replace(path string, value any) Operation {
	b, err := json.Marshal(value)
	if err != nil {
		b = []byte("null")
	}
	return Operation{Op: OpReplace, Path: path, Value: b, HasValue: true}
}

func Add(path string, value any) Operation {
	op := Replace(path, value)
	op.Op = OpAdd
	return op
}

func Remove(path string) Operation {
	return Operation{Op: OpRemove, Path: path}
}

// ParseOperations decodes a patch array. Property names (op, path, value,
// from) are matched case-insensitively and the op value is lower-cased.
// Entries that are not objects or lack op/path are dropped, and their
// positions are returned in dropped. A single object is accepted as a
// one-element patch.
func ParseOperations(raw []byte) (ops []Operation, dropped []int, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil, errors.New("empty patch document")
	}

	var items []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, nil, errors.Wrap(err, "could not decode patch array")
		}
	case '{':
		items = []json.RawMessage{raw}
	case '"':
		// producers occasionally double-encode the patch as a JSON string
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, nil, errors.Wrap(err, "could not decode patch string")
		}
		return ParseOperations([]byte(s))
	default:
		return nil, nil, errors.Errorf("patch must be a JSON array, got %q", string(raw[:1]))
	}

	ops = make([]Operation, 0, len(items))
	for i, item := range items {
		op, ok := parseOperation(item)
		if !ok {
			dropped = append(dropped, i)
			continue
		}
		ops = append(ops, op)
	}
	return ops, dropped, nil
}

func parseOperation(item json.RawMessage) (Operation, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return Operation{}, false
	}

	var ret Operation
	var haveOp, havePath bool
	for k, v := range fields {
		switch strings.ToLower(k) {
		case "op":
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return Operation{}, false
			}
			ret.Op = Op(strings.ToLower(strings.TrimSpace(s)))
			haveOp = ret.Op != ""
		case "path":
			if err := json.Unmarshal(v, &ret.Path); err != nil {
				return Operation{}, false
			}
			havePath = true
		case "from":
			if err := json.Unmarshal(v, &ret.From); err != nil {
				return Operation{}, false
			}
		case "value":
			ret.Value = append(json.RawMessage(nil), v...)
			ret.HasValue = true
		}
	}
	if !haveOp || !havePath {
		return Operation{}, false
	}
	return ret, true
}

// Paths returns the parsed pointers of all operations whose path is valid.
func Paths(ops []Operation) []Pointer {
	ret := make([]Pointer, 0, len(ops))
	for _, op := range ops {
		p, err := ParsePointer(op.Path)
		if err != nil {
			continue
		}
		ret = append(ret, p)
	}
	return ret
}
