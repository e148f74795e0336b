package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleAssistant, RoleUser, RoleTool:
		return true
	}
	return false
}

type PartType string

const (
	PartTypeText       PartType = "text"
	PartTypeToolCall   PartType = "tool-call"
	PartTypeToolResult PartType = "tool-result"
	PartTypeData       PartType = "data"
	PartTypeError      PartType = "error"
)

// Part is one content element of a message. The set of implementations is closed.
type Part interface {
	PartType() PartType
	String() string
	isPart()
}

type TextPart struct {
	Text string `json:"text" yaml:"text"`
}

func (*TextPart) PartType() PartType { return PartTypeText }
func (t *TextPart) String() string  { return t.Text }
func (*TextPart) isPart()           {}

type ToolCallPart struct {
	CallID    string          `json:"call_id" yaml:"call_id"`
	Name      string          `json:"name" yaml:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

func (*ToolCallPart) PartType() PartType { return PartTypeToolCall }
func (t *ToolCallPart) String() string {
	return fmt.Sprintf("%s(%s) [%s]", t.Name, string(t.Arguments), t.CallID)
}
func (*ToolCallPart) isPart() {}

// ToolResultPart carries the outcome of a tool call. Orphaned is set when no
// tool call with the same CallID was observed before the result arrived.
type ToolResultPart struct {
	CallID   string          `json:"call_id" yaml:"call_id"`
	Result   json.RawMessage `json:"result,omitempty" yaml:"result,omitempty"`
	Orphaned bool            `json:"orphaned,omitempty" yaml:"orphaned,omitempty"`
}

func (*ToolResultPart) PartType() PartType { return PartTypeToolResult }
func (t *ToolResultPart) String() string {
	return fmt.Sprintf("result[%s]: %s", t.CallID, string(t.Result))
}
func (*ToolResultPart) isPart() {}

type DataPart struct {
	MediaType string `json:"media_type" yaml:"media_type"`
	Data      []byte `json:"data" yaml:"data"`
}

func (*DataPart) PartType() PartType { return PartTypeData }
func (d *DataPart) String() string {
	return fmt.Sprintf("data[%s]: %d bytes", d.MediaType, len(d.Data))
}
func (*DataPart) isPart() {}

// ErrorPart marks a message whose producing run failed or reported an error.
type ErrorPart struct {
	Message string `json:"message" yaml:"message"`
}

func (*ErrorPart) PartType() PartType { return PartTypeError }
func (e *ErrorPart) String() string  { return "error: " + e.Message }
func (*ErrorPart) isPart()           {}

var (
	_ Part = (*TextPart)(nil)
	_ Part = (*ToolCallPart)(nil)
	_ Part = (*ToolResultPart)(nil)
	_ Part = (*DataPart)(nil)
	_ Part = (*ErrorPart)(nil)
)

// Message is a single entry of the conversation history.
type Message struct {
	ID    string    `json:"id" yaml:"id"`
	Role  Role      `json:"role" yaml:"role"`
	Parts []Part    `json:"parts" yaml:"parts"`
	Time  time.Time `json:"time" yaml:"time"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		if id != "" {
			m.ID = id
		}
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func WithParts(parts ...Part) MessageOption {
	return func(m *Message) {
		m.Parts = append(m.Parts, parts...)
	}
}

func NewMessage(role Role, options ...MessageOption) *Message {
	ret := &Message{
		ID:   uuid.NewString(),
		Role: role,
		Time: time.Now(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func NewTextMessage(role Role, text string, options ...MessageOption) *Message {
	options = append([]MessageOption{WithParts(&TextPart{Text: text})}, options...)
	return NewMessage(role, options...)
}

// AppendText appends delta to the trailing text part, creating one if the
// last part is not text.
func (m *Message) AppendText(delta string) {
	if n := len(m.Parts); n > 0 {
		if tp, ok := m.Parts[n-1].(*TextPart); ok {
			tp.Text += delta
			return
		}
	}
	m.Parts = append(m.Parts, &TextPart{Text: delta})
}

func (m *Message) AppendPart(p Part) {
	m.Parts = append(m.Parts, p)
}

// Text concatenates all text parts of the message.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

func (m *Message) IsEmpty() bool {
	if m == nil {
		return true
	}
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok && tp.Text == "" {
			continue
		}
		return false
	}
	return true
}

// ToolCalls returns the tool call parts in order of appearance.
func (m *Message) ToolCalls() []*ToolCallPart {
	var ret []*ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(*ToolCallPart); ok {
			ret = append(ret, tc)
		}
	}
	return ret
}

func (m *Message) HasError() bool {
	for _, p := range m.Parts {
		if _, ok := p.(*ErrorPart); ok {
			return true
		}
	}
	return false
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	return clone.Clone(m).(*Message)
}

func (m *Message) String() string {
	parts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("[%s]: %s", m.Role, strings.Join(parts, " | "))
}

type Conversation []*Message

// LastOfRole returns the most recent message with the given role.
func (c Conversation) LastOfRole(role Role) *Message {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == role {
			return c[i]
		}
	}
	return nil
}
