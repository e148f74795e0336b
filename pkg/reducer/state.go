package reducer

import (
	"github.com/go-go-golems/chatfold/pkg/conversation"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseStreaming
	PhaseFinalizing
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseCancelled:
		return "cancelled"
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Active reports whether a run is in flight.
func (p Phase) Active() bool {
	return p == PhaseSending || p == PhaseStreaming
}

// State is the complete conversation state owned by one reducer. Messages in
// History are never modified once appended.
type State struct {
	Phase          Phase
	RunID          string
	ConversationID string
	History        conversation.Conversation
	InProgress     *conversation.Message
	// Domains holds the current value per domain name. Values are replaced,
	// never modified in place.
	Domains map[string]any
	// CallOwners maps a tool call id to the id of the message holding the call.
	CallOwners map[string]string
	// CallNames maps a tool call id to the announced tool name.
	CallNames map[string]string
}

func NewState() *State {
	return &State{
		Domains:    map[string]any{},
		CallOwners: map[string]string{},
		CallNames:  map[string]string{},
	}
}

func (s *State) clear() {
	*s = *NewState()
}
