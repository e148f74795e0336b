package events

import (
	"encoding/json"
	"strings"

	"github.com/go-go-golems/chatfold/pkg/conversation"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
	ContentData       ContentKind = "data"
	ContentError      ContentKind = "error"
)

// kindAliases maps the snake-cased spellings used by various agent
// frameworks onto the canonical kinds.
var kindAliases = map[string]ContentKind{
	"text":            ContentText,
	"text_content":    ContentText,
	"tool_call":       ContentToolCall,
	"function_call":   ContentToolCall,
	"tool_use":        ContentToolCall,
	"tool_result":     ContentToolResult,
	"function_result": ContentToolResult,
	"data":            ContentData,
	"data_content":    ContentData,
	"error":           ContentError,
	"error_content":   ContentError,
}

// NormalizeKind maps a content kind as sent by a producer onto one of the
// known kinds. Unknown kinds are returned snake-cased and unchanged otherwise.
func NormalizeKind(k ContentKind) ContentKind {
	s := strcase.ToSnake(strings.TrimSpace(string(k)))
	if c, ok := kindAliases[s]; ok {
		return c
	}
	return ContentKind(s)
}

// Content is one item of an inbound update.
type Content struct {
	Kind      ContentKind     `json:"kind" yaml:"kind"`
	Text      string          `json:"text,omitempty" yaml:"text,omitempty"`
	CallID    string          `json:"call_id,omitempty" yaml:"call_id,omitempty"`
	Name      string          `json:"name,omitempty" yaml:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty" yaml:"result,omitempty"`
	MediaType string          `json:"media_type,omitempty" yaml:"media_type,omitempty"`
	// Data holds the payload of a data item. A JSON string is taken to
	// contain the document as text.
	Data    json.RawMessage `json:"data,omitempty" yaml:"data,omitempty"`
	Message string          `json:"message,omitempty" yaml:"message,omitempty"`
}

// Update is one raw item delivered by the transport.
type Update struct {
	Role           conversation.Role      `json:"role,omitempty" yaml:"role,omitempty"`
	MessageID      string                 `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	Contents       []Content              `json:"contents,omitempty" yaml:"contents,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func NewUpdateFromJson(b []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, errors.Wrap(err, "could not decode update")
	}
	return &u, nil
}

func (u *Update) MarshalZerologObject(e *zerolog.Event) {
	if u.Role != "" {
		e.Str("role", string(u.Role))
	}
	if u.MessageID != "" {
		e.Str("message_id", u.MessageID)
	}
	if u.ConversationID != "" {
		e.Str("conversation_id", u.ConversationID)
	}
	kinds := make([]string, 0, len(u.Contents))
	for _, c := range u.Contents {
		kinds = append(kinds, string(c.Kind))
	}
	e.Strs("contents", kinds)
}

func TextUpdate(text string) *Update {
	return &Update{
		Role:     conversation.RoleAssistant,
		Contents: []Content{{Kind: ContentText, Text: text}},
	}
}

func ToolCallUpdate(callID, name string, args json.RawMessage) *Update {
	return &Update{
		Role:     conversation.RoleAssistant,
		Contents: []Content{{Kind: ContentToolCall, CallID: callID, Name: name, Arguments: args}},
	}
}

func ToolResultUpdate(callID string, result json.RawMessage) *Update {
	return &Update{
		Role:     conversation.RoleTool,
		Contents: []Content{{Kind: ContentToolResult, CallID: callID, Result: result}},
	}
}

func DataUpdate(mediaType string, data json.RawMessage) *Update {
	return &Update{
		Role:     conversation.RoleAssistant,
		Contents: []Content{{Kind: ContentData, MediaType: mediaType, Data: data}},
	}
}

func ConversationUpdate(conversationID string) *Update {
	return &Update{Role: conversation.RoleAssistant, ConversationID: conversationID}
}

func ErrorUpdate(message string) *Update {
	return &Update{
		Role:     conversation.RoleAssistant,
		Contents: []Content{{Kind: ContentError, Message: message}},
	}
}
