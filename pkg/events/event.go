package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeConversationID EventType = "conversation-id"
	EventTypeTextDelta      EventType = "text-delta"
	EventTypeToolCall       EventType = "tool-call"
	EventTypeToolResult     EventType = "tool-result"
	EventTypeStateSnapshot  EventType = "state-snapshot"
	EventTypeStateDelta     EventType = "state-delta"
	EventTypeError          EventType = "error"
	EventTypeData           EventType = "data"
	EventTypeUnclassified   EventType = "unclassified"
)

// Event is a normalized, semantically classified update item.
type Event interface {
	Type() EventType
	Metadata() EventMetadata
	zerolog.LogObjectMarshaler
}

// EventMetadata points back at the update item an event was derived from.
type EventMetadata struct {
	MessageID string `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	Role      string `json:"role,omitempty" yaml:"role,omitempty"`
	// Index is the position of the content item within its update, -1 for
	// events derived from the update itself.
	Index int `json:"index" yaml:"index"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	if em.MessageID != "" {
		e.Str("message_id", em.MessageID)
	}
	if em.Role != "" {
		e.Str("role", em.Role)
	}
	e.Int("index", em.Index)
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

type EventConversationIDAssigned struct {
	EventImpl
	ConversationID string `json:"conversation_id"`
}

func NewConversationIDEvent(metadata EventMetadata, id string) *EventConversationIDAssigned {
	return &EventConversationIDAssigned{
		EventImpl:      EventImpl{Type_: EventTypeConversationID, Metadata_: metadata},
		ConversationID: id,
	}
}

func (e *EventConversationIDAssigned) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("conversation_id", e.ConversationID)
}

type EventTextDelta struct {
	EventImpl
	Delta string `json:"delta"`
}

func NewTextDeltaEvent(metadata EventMetadata, delta string) *EventTextDelta {
	return &EventTextDelta{
		EventImpl: EventImpl{Type_: EventTypeTextDelta, Metadata_: metadata},
		Delta:     delta,
	}
}

func (e *EventTextDelta) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("delta_len", len(e.Delta))
}

type EventToolCallAnnounced struct {
	EventImpl
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func NewToolCallEvent(metadata EventMetadata, callID, name string, args json.RawMessage) *EventToolCallAnnounced {
	return &EventToolCallAnnounced{
		EventImpl: EventImpl{Type_: EventTypeToolCall, Metadata_: metadata},
		CallID:    callID,
		Name:      name,
		Arguments: args,
	}
}

func (e *EventToolCallAnnounced) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("call_id", e.CallID).Str("name", e.Name)
}

type EventToolCallResolved struct {
	EventImpl
	CallID string          `json:"call_id"`
	Result json.RawMessage `json:"result,omitempty"`
}

func NewToolResultEvent(metadata EventMetadata, callID string, result json.RawMessage) *EventToolCallResolved {
	return &EventToolCallResolved{
		EventImpl: EventImpl{Type_: EventTypeToolResult, Metadata_: metadata},
		CallID:    callID,
		Result:    result,
	}
}

func (e *EventToolCallResolved) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("call_id", e.CallID).Int("result_len", len(e.Result))
}

// EventStateSnapshot carries a full replacement document for a domain.
type EventStateSnapshot struct {
	EventImpl
	Domain   string          `json:"domain"`
	Snapshot json.RawMessage `json:"snapshot"`
}

func NewStateSnapshotEvent(metadata EventMetadata, domain string, snapshot json.RawMessage) *EventStateSnapshot {
	return &EventStateSnapshot{
		EventImpl: EventImpl{Type_: EventTypeStateSnapshot, Metadata_: metadata},
		Domain:    domain,
		Snapshot:  snapshot,
	}
}

func (e *EventStateSnapshot) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("domain", e.Domain).Int("snapshot_len", len(e.Snapshot))
}

// EventStateDelta carries a patch document for a domain.
type EventStateDelta struct {
	EventImpl
	Domain string          `json:"domain"`
	Patch  json.RawMessage `json:"patch"`
}

func NewStateDeltaEvent(metadata EventMetadata, domain string, patch json.RawMessage) *EventStateDelta {
	return &EventStateDelta{
		EventImpl: EventImpl{Type_: EventTypeStateDelta, Metadata_: metadata},
		Domain:    domain,
		Patch:     patch,
	}
}

func (e *EventStateDelta) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("domain", e.Domain).Int("patch_len", len(e.Patch))
}

// EventError is an error reported in-band by the agent or by the transport.
type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, message string) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: message,
	}
}

func (e *EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error_string", e.ErrorString)
}

// EventData carries a non-JSON data item, such as an image, that is kept on
// the message as is.
type EventData struct {
	EventImpl
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

func NewDataEvent(metadata EventMetadata, mediaType string, data []byte) *EventData {
	return &EventData{
		EventImpl: EventImpl{Type_: EventTypeData, Metadata_: metadata},
		MediaType: mediaType,
		Data:      data,
	}
}

func (e *EventData) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("media_type", e.MediaType).Int("data_len", len(e.Data))
}

// EventUnclassified wraps a content item that could not be assigned a
// meaning. Consumers ignore it.
type EventUnclassified struct {
	EventImpl
	Reason string          `json:"reason"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

func NewUnclassifiedEvent(metadata EventMetadata, reason string, raw json.RawMessage) *EventUnclassified {
	return &EventUnclassified{
		EventImpl: EventImpl{Type_: EventTypeUnclassified, Metadata_: metadata},
		Reason:    reason,
		Raw:       raw,
	}
}

func (e *EventUnclassified) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("reason", e.Reason)
}

var (
	_ Event = &EventConversationIDAssigned{}
	_ Event = &EventTextDelta{}
	_ Event = &EventToolCallAnnounced{}
	_ Event = &EventToolCallResolved{}
	_ Event = &EventStateSnapshot{}
	_ Event = &EventStateDelta{}
	_ Event = &EventError{}
	_ Event = &EventData{}
	_ Event = &EventUnclassified{}
)

func decodeAs[T any, PT interface {
	*T
	Event
}](b []byte) (Event, error) {
	var ret T
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	return PT(&ret), nil
}

// NewEventFromJson decodes an event serialized with encoding/json.
func NewEventFromJson(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, errors.Wrap(err, "could not decode event header")
	}

	switch hdr.Type {
	case EventTypeConversationID:
		return decodeAs[EventConversationIDAssigned](b)
	case EventTypeTextDelta:
		return decodeAs[EventTextDelta](b)
	case EventTypeToolCall:
		return decodeAs[EventToolCallAnnounced](b)
	case EventTypeToolResult:
		return decodeAs[EventToolCallResolved](b)
	case EventTypeStateSnapshot:
		return decodeAs[EventStateSnapshot](b)
	case EventTypeStateDelta:
		return decodeAs[EventStateDelta](b)
	case EventTypeError:
		return decodeAs[EventError](b)
	case EventTypeData:
		return decodeAs[EventData](b)
	case EventTypeUnclassified:
		return decodeAs[EventUnclassified](b)
	}
	return nil, errors.Errorf("unknown event type %q", hdr.Type)
}
