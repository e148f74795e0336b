package conversation

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// wirePart is the flattened, type-tagged encoding of a Part.
type wirePart struct {
	Type      PartType        `json:"type" yaml:"type"`
	Text      string          `json:"text,omitempty" yaml:"text,omitempty"`
	CallID    string          `json:"call_id,omitempty" yaml:"call_id,omitempty"`
	Name      string          `json:"name,omitempty" yaml:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty" yaml:"-"`
	Result    json.RawMessage `json:"result,omitempty" yaml:"-"`
	Orphaned  bool            `json:"orphaned,omitempty" yaml:"orphaned,omitempty"`
	MediaType string          `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	Data      []byte          `json:"data,omitempty" yaml:"data,omitempty"`
	Message   string          `json:"message,omitempty" yaml:"message,omitempty"`

	// yaml cannot represent json.RawMessage as structured data, so raw JSON
	// is carried as a string there.
	ArgumentsYAML string `json:"-" yaml:"arguments,omitempty"`
	ResultYAML    string `json:"-" yaml:"result,omitempty"`
}

type wireMessage struct {
	ID    string     `json:"id" yaml:"id"`
	Role  Role       `json:"role" yaml:"role"`
	Parts []wirePart `json:"parts" yaml:"parts"`
	Time  time.Time  `json:"time" yaml:"time"`
}

func partToWire(p Part) wirePart {
	switch v := p.(type) {
	case *TextPart:
		return wirePart{Type: PartTypeText, Text: v.Text}
	case *ToolCallPart:
		return wirePart{Type: PartTypeToolCall, CallID: v.CallID, Name: v.Name, Arguments: v.Arguments, ArgumentsYAML: string(v.Arguments)}
	case *ToolResultPart:
		return wirePart{Type: PartTypeToolResult, CallID: v.CallID, Result: v.Result, ResultYAML: string(v.Result), Orphaned: v.Orphaned}
	case *DataPart:
		return wirePart{Type: PartTypeData, MediaType: v.MediaType, Data: v.Data}
	case *ErrorPart:
		return wirePart{Type: PartTypeError, Message: v.Message}
	}
	return wirePart{}
}

func partFromWire(w wirePart) (Part, error) {
	switch w.Type {
	case PartTypeText:
		return &TextPart{Text: w.Text}, nil
	case PartTypeToolCall:
		args := w.Arguments
		if len(args) == 0 && w.ArgumentsYAML != "" {
			args = json.RawMessage(w.ArgumentsYAML)
		}
		return &ToolCallPart{CallID: w.CallID, Name: w.Name, Arguments: args}, nil
	case PartTypeToolResult:
		res := w.Result
		if len(res) == 0 && w.ResultYAML != "" {
			res = json.RawMessage(w.ResultYAML)
		}
		return &ToolResultPart{CallID: w.CallID, Result: res, Orphaned: w.Orphaned}, nil
	case PartTypeData:
		return &DataPart{MediaType: w.MediaType, Data: w.Data}, nil
	case PartTypeError:
		return &ErrorPart{Message: w.Message}, nil
	}
	return nil, errors.Errorf("unknown part type %q", w.Type)
}

func (m *Message) toWire() wireMessage {
	ret := wireMessage{ID: m.ID, Role: m.Role, Time: m.Time, Parts: make([]wirePart, 0, len(m.Parts))}
	for _, p := range m.Parts {
		ret.Parts = append(ret.Parts, partToWire(p))
	}
	return ret
}

func (m *Message) fromWire(w wireMessage) error {
	m.ID = w.ID
	m.Role = w.Role
	m.Time = w.Time
	m.Parts = make([]Part, 0, len(w.Parts))
	for i, wp := range w.Parts {
		p, err := partFromWire(wp)
		if err != nil {
			return errors.Wrapf(err, "part %d", i)
		}
		m.Parts = append(m.Parts, p)
	}
	return nil
}

func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.toWire())
}

func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	return m.fromWire(w)
}

func (m *Message) MarshalYAML() (interface{}, error) {
	return m.toWire(), nil
}

func (m *Message) UnmarshalYAML(value *yaml.Node) error {
	var w wireMessage
	if err := value.Decode(&w); err != nil {
		return err
	}
	return m.fromWire(w)
}
