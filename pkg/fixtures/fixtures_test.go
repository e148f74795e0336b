package fixtures

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/chatfold/pkg/conversation"
	"github.com/go-go-golems/chatfold/pkg/events"
	"github.com/go-go-golems/chatfold/pkg/plan"
	"github.com/go-go-golems/chatfold/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, s *session.Session, text string) session.Outcome {
	t.Helper()
	h, err := s.SendMessage(context.Background(), text)
	require.NoError(t, err)
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q", text)
	}
	outcome, _ := h.Wait()
	return outcome
}

func TestLoadScript_Formats(t *testing.T) {
	for _, path := range []string{"testdata/plan.yaml", "testdata/plan.json", "testdata/plan.ndjson"} {
		t.Run(path, func(t *testing.T) {
			s, err := LoadScript(path)
			require.NoError(t, err)
			assert.Equal(t, "plan", s.Name)
			require.NotEmpty(t, s.Turns)
			assert.Equal(t, "Create a plan", s.Turns[0].User)
		})
	}
}

func TestParseYAML_PayloadsBecomeJSON(t *testing.T) {
	s, err := LoadScript("testdata/plan.yaml")
	require.NoError(t, err)
	require.Len(t, s.Turns, 3)

	result := s.Turns[0].Updates[3].Contents[0].Result
	assert.JSONEq(t, `{"steps":[{"description":"A","status":"pending"},{"description":"B","status":"pending"}]}`, string(result))
	assert.Equal(t, 3, s.Turns[2].CancelAfter)
}

func TestParseNDJSON(t *testing.T) {
	s, err := ParseNDJSON(strings.NewReader(`
{"contents": [{"kind": "text", "text": "implicit turn"}]}

{"user": "second", "cancel_after": 2}
{"contents": [{"kind": "text", "text": "x"}]}
`))
	require.NoError(t, err)
	require.Len(t, s.Turns, 2)
	assert.Equal(t, "", s.Turns[0].User)
	assert.Len(t, s.Turns[0].Updates, 1)
	assert.Equal(t, "second", s.Turns[1].User)
	assert.Equal(t, 2, s.Turns[1].CancelAfter)

	_, err = ParseNDJSON(strings.NewReader("{not json}\n"))
	assert.Error(t, err)
}

func TestScript_Validate(t *testing.T) {
	_, err := ParseJSON([]byte(`{"turns": []}`))
	assert.Error(t, err)
	_, err = ParseJSON([]byte(`{"turns": [{"user": "x", "cancel_after": -1}]}`))
	assert.Error(t, err)
	_, err = ParseYAML([]byte("turns:\n  - user: x\n    updates: [null]\n"))
	assert.Error(t, err)
}

func TestScriptedAgent_ReplaysPlanConversation(t *testing.T) {
	script, err := LoadScript("testdata/plan.yaml")
	require.NoError(t, err)

	var s *session.Session
	agent := NewScriptedAgent(script, WithStallFunc(func(ctx context.Context, turn int) {
		s.Cancel()
	}))
	s = session.NewSession(agent)
	defer func() { _ = s.Close() }()

	assert.Equal(t, session.OutcomeCompleted, run(t, s, "Create a plan"))
	p := s.Plan()
	require.NotNil(t, p)
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, "conv-1", s.ConversationID())

	assert.Equal(t, session.OutcomeCompleted, run(t, s, "Finish the first step"))
	p = s.Plan()
	require.Len(t, p.Steps, 2)
	assert.Equal(t, plan.StatusCompleted, p.Steps[0].Status)
	// the replayed result is suppressed
	assert.Equal(t, plan.StatusPending, p.Steps[1].Status)

	assert.Equal(t, session.OutcomeCancelled, run(t, s, "Tell me a story"))
	msgs := s.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, conversation.RoleAssistant, last.Role)
	assert.Equal(t, "Once upon a time", last.Text())
	assert.Equal(t, 0, agent.Remaining())

	h, err := s.SendMessage(context.Background(), "more")
	require.NoError(t, err)
	outcome, err := h.Wait()
	assert.Equal(t, session.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

func TestScriptedAgent_JSONScriptWithStringResult(t *testing.T) {
	script, err := LoadScript("testdata/plan.json")
	require.NoError(t, err)

	s := session.NewSession(NewScriptedAgent(script))
	defer func() { _ = s.Close() }()

	assert.Equal(t, session.OutcomeCompleted, run(t, s, "Create a plan"))
	p := s.Plan()
	require.NotNil(t, p)
	assert.Equal(t, "A", p.Steps[0].Description)
}

func TestBusAgent_ReplaysThroughRouter(t *testing.T) {
	script, err := LoadScript("testdata/plan.ndjson")
	require.NoError(t, err)

	router, err := events.NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	_, err = NewBusAgent(script, nil, "updates")
	assert.Error(t, err)
	_, err = NewBusAgent(script, router, "")
	assert.Error(t, err)

	var s *session.Session
	agent, err := NewBusAgent(script, router, "updates", WithStallFunc(func(ctx context.Context, turn int) {
		s.Cancel()
	}))
	require.NoError(t, err)
	assert.Equal(t, "updates", agent.Topic())

	s = session.NewSession(agent)
	defer func() { _ = s.Close() }()

	assert.Equal(t, session.OutcomeCompleted, run(t, s, "Create a plan"))
	assert.Equal(t, "conv-1", s.ConversationID())
	require.NotNil(t, s.Plan())
	assert.Equal(t, plan.StatusPending, s.Plan().Steps[0].Status)

	assert.Equal(t, session.OutcomeCancelled, run(t, s, "Patch it"))
	assert.Equal(t, plan.StatusCompleted, s.Plan().Steps[0].Status)
	for _, m := range s.Messages() {
		assert.NotContains(t, m.Text(), "never seen")
	}
}
