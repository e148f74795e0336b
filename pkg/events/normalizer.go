package events

import (
	"bytes"
	"encoding/json"
	"mime"
	"strings"

	"github.com/go-go-golems/chatfold/pkg/domain"
	"github.com/go-go-golems/chatfold/pkg/patch"
	"github.com/rs/zerolog"
)

const (
	MediaTypeJSON      = "application/json"
	MediaTypeJSONPatch = "application/json-patch+json"
)

type payloadClass int

const (
	payloadOther payloadClass = iota
	payloadSnapshot
	payloadDelta
	payloadAmbiguous
)

// classifyMediaType maps a media type onto the kind of document it announces.
// Parameters such as charset are ignored.
func classifyMediaType(mediaType string) payloadClass {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if mt == "" {
		return payloadAmbiguous
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	} else if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	switch {
	case mt == MediaTypeJSONPatch:
		return payloadDelta
	case mt == MediaTypeJSON, mt == "text/json":
		return payloadSnapshot
	case strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"):
		return payloadSnapshot
	case mt == "text/plain", mt == "application/octet-stream", mt == "*/*":
		return payloadAmbiguous
	}
	return payloadOther
}

// UnwrapJSON returns the document inside raw. A JSON string is unquoted so
// producers that double-encode payloads are handled.
func UnwrapJSON(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return bytes.TrimSpace([]byte(s))
		}
	}
	return raw
}

// Normalizer turns raw updates into normalized events. It has no state and
// Normalize has no side effects besides debug logging.
type Normalizer struct {
	domains *domain.Registry
	logger  zerolog.Logger
}

type NormalizerOption func(*Normalizer)

func WithNormalizerLogger(logger zerolog.Logger) NormalizerOption {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

func NewNormalizer(domains *domain.Registry, options ...NormalizerOption) *Normalizer {
	ret := &Normalizer{
		domains: domains,
		logger:  zerolog.Nop(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (n *Normalizer) Domains() *domain.Registry {
	return n.domains
}

// Normalize classifies every content item of u in order. A conversation id on
// the update is reported before any of its contents.
func (n *Normalizer) Normalize(u *Update) []Event {
	if u == nil {
		return nil
	}
	ret := make([]Event, 0, len(u.Contents)+1)
	if u.ConversationID != "" {
		ret = append(ret, NewConversationIDEvent(n.metadata(u, -1), u.ConversationID))
	}
	for i, c := range u.Contents {
		ev := n.classify(n.metadata(u, i), c)
		if ev == nil {
			continue
		}
		if un, ok := ev.(*EventUnclassified); ok {
			n.logger.Debug().Object("event", un).Msg("unclassified content ignored")
		}
		ret = append(ret, ev)
	}
	return ret
}

func (n *Normalizer) metadata(u *Update, index int) EventMetadata {
	return EventMetadata{MessageID: u.MessageID, Role: string(u.Role), Index: index}
}

func (n *Normalizer) classify(md EventMetadata, c Content) Event {
	kind := NormalizeKind(c.Kind)
	if kind == "" && c.Text != "" {
		kind = ContentText
	}

	switch kind {
	case ContentText:
		if c.Text == "" {
			return nil
		}
		return NewTextDeltaEvent(md, c.Text)
	case ContentToolCall:
		return NewToolCallEvent(md, c.CallID, c.Name, c.Arguments)
	case ContentToolResult:
		return NewToolResultEvent(md, c.CallID, c.Result)
	case ContentError:
		msg := c.Message
		if msg == "" {
			msg = c.Text
		}
		return NewErrorEvent(md, msg)
	case ContentData:
		return n.classifyData(md, c)
	}
	if c.Text != "" {
		return NewTextDeltaEvent(md, c.Text)
	}
	return NewUnclassifiedEvent(md, "unknown content kind "+string(c.Kind), rawContent(c))
}

func (n *Normalizer) classifyData(md EventMetadata, c Content) Event {
	doc := UnwrapJSON(c.Data)
	if len(doc) == 0 {
		return NewUnclassifiedEvent(md, "empty data payload", rawContent(c))
	}

	class := classifyMediaType(c.MediaType)
	if class == payloadAmbiguous {
		switch doc[0] {
		case '{':
			class = payloadSnapshot
		case '[':
			class = payloadDelta
		default:
			class = payloadOther
		}
	}

	switch class {
	case payloadSnapshot:
		if doc[0] != '{' || !json.Valid(doc) {
			return NewUnclassifiedEvent(md, "snapshot payload is not a JSON object", rawContent(c))
		}
		name, ok := n.domains.DetectSnapshot(doc)
		if !ok {
			return NewUnclassifiedEvent(md, "no domain matches snapshot", rawContent(c))
		}
		return NewStateSnapshotEvent(md, name, doc)
	case payloadDelta:
		ops, _, err := patch.ParseOperations(doc)
		if err != nil {
			return NewUnclassifiedEvent(md, "malformed patch: "+err.Error(), rawContent(c))
		}
		name, ok := n.domains.DetectDelta(ops)
		if !ok {
			return NewUnclassifiedEvent(md, "no domain matches patch", rawContent(c))
		}
		return NewStateDeltaEvent(md, name, doc)
	}
	if strings.TrimSpace(c.MediaType) == "" {
		return NewUnclassifiedEvent(md, "data without media type", rawContent(c))
	}
	return NewDataEvent(md, c.MediaType, doc)
}

func rawContent(c Content) json.RawMessage {
	b, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return b
}
