// Package reducer folds normalized agent events into conversation state.
//
// A Reducer is not safe for concurrent use. It is meant to be owned by a
// single goroutine (see pkg/session) which serializes every call.
package reducer

import (
	"encoding/json"

	"github.com/go-go-golems/chatfold/pkg/conversation"
	"github.com/go-go-golems/chatfold/pkg/correlation"
	"github.com/go-go-golems/chatfold/pkg/domain"
	"github.com/go-go-golems/chatfold/pkg/events"
	"github.com/go-go-golems/chatfold/pkg/patch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Reducer struct {
	state      *State
	domains    *domain.Registry
	normalizer *events.Normalizer
	tracker    *correlation.Tracker
	rules      *ToolRules
	logger     zerolog.Logger
	onChange   func()
}

type Option func(*Reducer)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reducer) {
		r.logger = logger
	}
}

func WithToolRules(rules *ToolRules) Option {
	return func(r *Reducer) {
		r.rules = rules
	}
}

func WithDomains(domains *domain.Registry) Option {
	return func(r *Reducer) {
		r.domains = domains
	}
}

func WithTracker(tracker *correlation.Tracker) Option {
	return func(r *Reducer) {
		r.tracker = tracker
	}
}

// WithOnChange installs the hook invoked after every state mutation.
func WithOnChange(f func()) Option {
	return func(r *Reducer) {
		r.onChange = f
	}
}

// New creates a reducer over a fresh state. Domains default to an empty
// registry, so without WithDomains every snapshot and delta is ignored.
func New(options ...Option) *Reducer {
	ret := &Reducer{
		state:  NewState(),
		rules:  DefaultToolRules(),
		logger: log.Logger.With().Str("component", "reducer").Logger(),
	}
	for _, o := range options {
		o(ret)
	}
	if ret.domains == nil {
		ret.domains = domain.NewRegistry()
	}
	if ret.tracker == nil {
		ret.tracker = correlation.NewTracker()
	}
	ret.normalizer = events.NewNormalizer(ret.domains, events.WithNormalizerLogger(ret.logger))
	return ret
}

// State returns the live state. It must only be read by the owner of the
// reducer.
func (r *Reducer) State() *State {
	return r.state
}

func (r *Reducer) Tracker() *correlation.Tracker {
	return r.tracker
}

func (r *Reducer) Domains() *domain.Registry {
	return r.domains
}

func (r *Reducer) SetOnChange(f func()) {
	r.onChange = f
}

func (r *Reducer) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

func (r *Reducer) setPhase(p Phase) {
	if r.state.Phase == p {
		return
	}
	r.logger.Debug().
		Str("from", r.state.Phase.String()).
		Str("to", p.String()).
		Str("run_id", r.state.RunID).
		Msg("phase transition")
	r.state.Phase = p
	r.changed()
}

// Begin starts a new run: a user message is appended to the history and an
// empty assistant message starts accumulating. An active run is cancelled
// first.
func (r *Reducer) Begin(runID string, text string) {
	if r.state.Phase != PhaseIdle {
		r.Cancel()
	}
	r.tracker.Reset()
	r.state.RunID = runID
	r.state.History = append(r.state.History, conversation.NewTextMessage(conversation.RoleUser, text))
	r.state.InProgress = conversation.NewMessage(conversation.RoleAssistant)
	r.state.Phase = PhaseSending
	r.logger.Debug().Str("run_id", runID).Msg("run started")
	r.changed()
}

func (r *Reducer) accepting() bool {
	return r.state.Phase.Active()
}

// ApplyUpdate normalizes u and applies the resulting events in order.
func (r *Reducer) ApplyUpdate(u *events.Update) {
	if u == nil {
		return
	}
	if !r.accepting() {
		r.logger.Debug().Object("update", u).Str("phase", r.state.Phase.String()).Msg("update outside of a run dropped")
		return
	}
	for _, ev := range r.normalizer.Normalize(u) {
		r.ApplyEvent(ev)
	}
}

// ApplyEvent applies one normalized event. Events arriving outside of a run
// are dropped.
func (r *Reducer) ApplyEvent(ev events.Event) {
	if ev == nil {
		return
	}
	if !r.accepting() {
		r.logger.Debug().Object("event", ev).Str("phase", r.state.Phase.String()).Msg("event outside of a run dropped")
		return
	}
	if r.state.Phase == PhaseSending {
		r.setPhase(PhaseStreaming)
	}

	switch e := ev.(type) {
	case *events.EventConversationIDAssigned:
		if e.ConversationID == "" || e.ConversationID == r.state.ConversationID {
			return
		}
		r.state.ConversationID = e.ConversationID
		r.changed()

	case *events.EventTextDelta:
		if e.Delta == "" {
			return
		}
		r.openAssistant().AppendText(e.Delta)
		r.changed()

	case *events.EventToolCallAnnounced:
		r.applyToolCall(e)

	case *events.EventToolCallResolved:
		r.applyToolResult(e)

	case *events.EventStateSnapshot:
		r.applySnapshot(e.Domain, e.Snapshot)

	case *events.EventStateDelta:
		r.applyDelta(e.Domain, e.Patch)

	case *events.EventError:
		r.openAssistant().AppendPart(&conversation.ErrorPart{Message: e.ErrorString})
		r.changed()

	case *events.EventData:
		r.openAssistant().AppendPart(&conversation.DataPart{MediaType: e.MediaType, Data: e.Data})
		r.changed()

	case *events.EventUnclassified:
		r.logger.Debug().Object("event", e).Msg("unclassified event ignored")

	default:
		r.logger.Warn().Str("type", string(ev.Type())).Msg("unknown event type ignored")
	}
}

// openAssistant returns the in-progress assistant message, opening a new
// one when none is open.
func (r *Reducer) openAssistant() *conversation.Message {
	if r.state.InProgress == nil {
		r.state.InProgress = conversation.NewMessage(conversation.RoleAssistant)
	}
	return r.state.InProgress
}

// closeInProgress moves a non-empty in-progress message into the history
// and clears it.
func (r *Reducer) closeInProgress() {
	m := r.state.InProgress
	r.state.InProgress = nil
	if m == nil || m.IsEmpty() {
		return
	}
	r.state.History = append(r.state.History, m)
}

func (r *Reducer) applyToolCall(e *events.EventToolCallAnnounced) {
	if !r.tracker.ShouldEmit(e.CallID, correlation.KindToolCall) {
		r.logger.Debug().Str("call_id", e.CallID).Msg("duplicate tool call suppressed")
		return
	}
	m := r.openAssistant()
	m.AppendPart(&conversation.ToolCallPart{
		CallID:    e.CallID,
		Name:      e.Name,
		Arguments: e.Arguments,
	})
	if e.CallID != "" {
		r.state.CallOwners[e.CallID] = m.ID
		r.state.CallNames[e.CallID] = e.Name
	}
	r.changed()
}

func (r *Reducer) applyToolResult(e *events.EventToolCallResolved) {
	if !r.tracker.ShouldEmit(e.CallID, correlation.KindToolResult) {
		r.logger.Debug().Str("call_id", e.CallID).Msg("duplicate tool result suppressed")
		return
	}

	_, known := r.state.CallOwners[e.CallID]
	orphaned := e.CallID == "" || !known
	if orphaned {
		r.logger.Warn().Str("call_id", e.CallID).Msg("tool result without matching tool call")
	}

	r.closeInProgress()
	r.state.History = append(r.state.History, conversation.NewMessage(
		conversation.RoleTool,
		conversation.WithParts(&conversation.ToolResultPart{
			CallID:   e.CallID,
			Result:   e.Result,
			Orphaned: orphaned,
		}),
	))
	r.changed()

	if orphaned {
		return
	}
	name := r.state.CallNames[e.CallID]
	rule, ok := r.rules.Match(name)
	if !ok {
		return
	}
	r.forwardToolResult(name, rule, e.Result)
}

func (r *Reducer) forwardToolResult(tool string, rule ToolRule, result json.RawMessage) {
	doc := events.UnwrapJSON(result)
	l := r.logger.With().Str("tool", tool).Str("mode", string(rule.Mode)).Logger()
	if len(doc) == 0 || !json.Valid(doc) {
		l.Warn().Msg("tool result is not valid JSON, not applied to state")
		return
	}

	switch rule.Mode {
	case ToolModeSnapshot:
		name := rule.Domain
		if name == "" {
			var ok bool
			name, ok = r.domains.DetectSnapshot(doc)
			if !ok {
				l.Warn().Msg("no domain matches tool result snapshot")
				return
			}
		}
		r.applySnapshot(name, doc)
	case ToolModeDelta:
		name := rule.Domain
		if name == "" {
			ops, _, err := patch.ParseOperations(doc)
			if err != nil {
				l.Warn().Err(err).Msg("tool result is not a patch")
				return
			}
			var ok bool
			name, ok = r.domains.DetectDelta(ops)
			if !ok {
				l.Warn().Msg("no domain matches tool result patch")
				return
			}
		}
		r.applyDelta(name, doc)
	}
}

func (r *Reducer) applySnapshot(name string, raw json.RawMessage) {
	d, ok := r.domains.Get(name)
	if !ok {
		r.logger.Warn().Str("domain", name).Msg("snapshot for unknown domain ignored")
		return
	}
	v, err := d.DecodeSnapshot(raw)
	if err != nil {
		r.logger.Warn().Err(err).Str("domain", name).Msg("invalid snapshot ignored")
		return
	}
	r.state.Domains[name] = v
	r.logger.Debug().Str("domain", name).Msg("snapshot applied")
	r.changed()
}

func (r *Reducer) applyDelta(name string, raw json.RawMessage) {
	d, ok := r.domains.Get(name)
	if !ok {
		r.logger.Warn().Str("domain", name).Msg("delta for unknown domain ignored")
		return
	}
	ops, dropped, err := patch.ParseOperations(raw)
	if err != nil {
		r.logger.Warn().Err(err).Str("domain", name).Msg("malformed delta ignored")
		return
	}
	if len(dropped) > 0 {
		r.logger.Warn().Ints("dropped", dropped).Str("domain", name).Msg("malformed patch operations dropped")
	}
	current, ok := r.state.Domains[name]
	if !ok || current == nil {
		r.logger.Warn().Str("domain", name).Msg("delta without snapshot ignored")
		return
	}

	next, res, err := d.ApplyDelta(current, ops)
	if err != nil {
		r.logger.Warn().Err(err).Str("domain", name).Msg("delta could not be applied")
		return
	}
	for _, s := range res.Patch.Skipped {
		r.logger.Warn().
			Str("domain", name).
			Int("index", s.Index).
			Str("op", string(s.Op.Op)).
			Str("path", s.Op.Path).
			Str("reason", s.Reason).
			Msg("patch operation skipped")
	}
	if !res.Modified() {
		return
	}
	r.state.Domains[name] = next
	r.logger.Debug().
		Str("domain", name).
		Bool("resynced", res.Resynced).
		Ints("changed", res.Changed).
		Msg("delta applied")
	r.changed()
}

// Fail records a failure of the event source as an error part on the
// in-progress message. The run stays open until Finalize.
func (r *Reducer) Fail(err error) {
	if err == nil || !r.accepting() {
		return
	}
	r.logger.Warn().Err(err).Str("run_id", r.state.RunID).Msg("run failed")
	r.openAssistant().AppendPart(&conversation.ErrorPart{Message: err.Error()})
	r.changed()
}

// Finalize ends the current run after its event source is exhausted.
func (r *Reducer) Finalize() {
	if !r.accepting() {
		return
	}
	r.setPhase(PhaseFinalizing)
	r.closeInProgress()
	r.tracker.Reset()
	r.state.RunID = ""
	r.setPhase(PhaseIdle)
}

// Cancel stops the current run, keeping any partial output. It returns false
// when no run was active.
func (r *Reducer) Cancel() bool {
	if r.state.Phase == PhaseIdle {
		return false
	}
	r.logger.Debug().Str("run_id", r.state.RunID).Msg("run cancelled")
	r.closeInProgress()
	r.tracker.Reset()
	r.state.RunID = ""
	r.setPhase(PhaseCancelled)
	r.setPhase(PhaseIdle)
	return true
}

// Reset clears history, domain state, conversation id and call tracking.
func (r *Reducer) Reset() {
	r.tracker.Reset()
	r.state.clear()
	r.logger.Debug().Msg("conversation reset")
	r.changed()
}
