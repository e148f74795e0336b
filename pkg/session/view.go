package session

import (
	"github.com/go-go-golems/chatfold/pkg/conversation"
	"github.com/go-go-golems/chatfold/pkg/reducer"
)

// View is an immutable snapshot of the session state. Callers must not
// modify the messages or domain values it references.
type View struct {
	Version        uint64                    `json:"version" yaml:"version"`
	Phase          reducer.Phase             `json:"phase" yaml:"phase"`
	RunID          string                    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	ConversationID string                    `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	Messages       conversation.Conversation `json:"messages" yaml:"messages"`
	InProgress     *conversation.Message     `json:"in_progress,omitempty" yaml:"in_progress,omitempty"`
	Domains        map[string]any            `json:"domains,omitempty" yaml:"domains,omitempty"`
}

func (v *View) Running() bool {
	return v != nil && v.Phase.Active()
}

func newView(version uint64, s *reducer.State) *View {
	ret := &View{
		Version:        version,
		Phase:          s.Phase,
		RunID:          s.RunID,
		ConversationID: s.ConversationID,
		Messages:       append(conversation.Conversation(nil), s.History...),
		InProgress:     s.InProgress.Clone(),
		Domains:        make(map[string]any, len(s.Domains)),
	}
	for k, v := range s.Domains {
		ret.Domains[k] = v
	}
	return ret
}
