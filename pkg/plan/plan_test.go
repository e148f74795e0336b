package plan

import (
	"encoding/json"
	"testing"

	"github.com/go-go-golems/chatfold/pkg/patch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoPending = `{"steps":[{"description":"A","status":"pending"},{"description":"B","status":"pending"}]}`

func decode(t *testing.T, raw string) *Plan {
	t.Helper()
	v, err := NewDomain().DecodeSnapshot(json.RawMessage(raw))
	require.NoError(t, err)
	return v.(*Plan)
}

func ops(t *testing.T, raw string) []patch.Operation {
	t.Helper()
	o, _, err := patch.ParseOperations([]byte(raw))
	require.NoError(t, err)
	return o
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{
		"pending":     StatusPending,
		"Pending":     StatusPending,
		"completed":   StatusCompleted,
		"Completed":   StatusCompleted,
		"in_progress": StatusInProgress,
		"in-progress": StatusInProgress,
		"inProgress":  StatusInProgress,
		"InProgress":  StatusInProgress,
	} {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStatus("exploded")
	require.Error(t, err)
}

func TestStatus_EncodesHyphenated(t *testing.T) {
	p := decode(t, `{"steps":[{"description":"A","status":"in_progress"}]}`)
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps":[{"description":"A","status":"in-progress"}]}`, string(b))
}

func TestDetectSnapshot(t *testing.T) {
	d := NewDomain()
	assert.True(t, d.DetectSnapshot(json.RawMessage(twoPending)))
	assert.True(t, d.DetectSnapshot(json.RawMessage(` {"steps":[]}`)))
	assert.False(t, d.DetectSnapshot(json.RawMessage(`{"steps":"nope"}`)))
	assert.False(t, d.DetectSnapshot(json.RawMessage(`{"recipe":{}}`)))
	assert.False(t, d.DetectSnapshot(json.RawMessage(`[1,2]`)))
	assert.False(t, d.DetectSnapshot(json.RawMessage(`{broken`)))
}

func TestDetectDelta(t *testing.T) {
	d := NewDomain()
	assert.True(t, d.DetectDelta(ops(t, `[{"op":"replace","path":"/steps/0/status","value":"completed"}]`)))
	assert.False(t, d.DetectDelta(ops(t, `[{"op":"replace","path":"/title","value":"x"}]`)))
	assert.False(t, d.DetectDelta(nil))
}

func TestDecodeSnapshot_Validates(t *testing.T) {
	d := NewDomain()
	p := decode(t, twoPending)
	require.Equal(t, 2, p.Len())
	assert.Equal(t, StatusPending, p.Steps[0].Status)

	_, err := d.DecodeSnapshot(json.RawMessage(`{"steps":[{"status":"pending"}]}`))
	require.Error(t, err, "description is required")

	_, err = d.DecodeSnapshot(json.RawMessage(`{"steps":[{"description":"A","status":"sideways"}]}`))
	require.Error(t, err)

	_, err = d.DecodeSnapshot(json.RawMessage(`{"steps":[null]}`))
	require.Error(t, err)

	p = decode(t, `{"steps":[{"description":"A","status":"Completed","detail":"d","extra":true}]}`)
	assert.Equal(t, StatusCompleted, p.Steps[0].Status)
	assert.Equal(t, "d", p.Steps[0].Detail)
}

func TestApplyDelta_InPlaceKeepsUnchangedSteps(t *testing.T) {
	d := NewDomain()
	prev := decode(t, twoPending)

	next, res, err := d.ApplyDelta(prev, ops(t, `[{"op":"replace","path":"/steps/0/status","value":"completed"}]`))
	require.NoError(t, err)
	assert.False(t, res.Resynced)
	assert.Equal(t, []int{0}, res.Changed)

	np := next.(*Plan)
	require.Equal(t, 2, np.Len())
	assert.Equal(t, StatusCompleted, np.Steps[0].Status)
	assert.Same(t, prev.Steps[1], np.Steps[1])
	assert.Equal(t, StatusPending, prev.Steps[0].Status, "previous plan must stay intact")
}

func TestApplyDelta_CountChangeResyncs(t *testing.T) {
	d := NewDomain()
	prev := decode(t, twoPending)

	next, res, err := d.ApplyDelta(prev, ops(t, `[{"op":"add","path":"/steps/-","value":{"description":"C","status":"pending"}}]`))
	require.NoError(t, err)
	assert.True(t, res.Resynced)
	assert.Empty(t, res.Changed)
	assert.Equal(t, 3, next.(*Plan).Len())
	assert.Equal(t, 2, prev.Len())
}

func TestApplyDelta_NoopReturnsCurrent(t *testing.T) {
	d := NewDomain()
	prev := decode(t, twoPending)

	next, res, err := d.ApplyDelta(prev, ops(t, `[{"op":"replace","path":"/steps/9/status","value":"completed"}]`))
	require.NoError(t, err)
	assert.Same(t, prev, next)
	assert.False(t, res.Modified())
	assert.Len(t, res.Patch.Skipped, 1)

	next, res, err = d.ApplyDelta(prev, ops(t, `[{"op":"replace","path":"/steps/0/status","value":"pending"}]`))
	require.NoError(t, err)
	assert.Same(t, prev, next, "replacing with an equal value is not a change")
	assert.False(t, res.Modified())
}

func TestApplyDelta_WithoutSnapshot(t *testing.T) {
	d := NewDomain()
	next, _, err := d.ApplyDelta(nil, ops(t, `[{"op":"replace","path":"/steps/0/status","value":"completed"}]`))
	require.Error(t, err)
	assert.Nil(t, next)

	_, _, err = d.ApplyDelta("not a plan", nil)
	require.Error(t, err)
}

func TestApplyDelta_InvalidStatusKeepsPlan(t *testing.T) {
	d := NewDomain()
	prev := decode(t, twoPending)
	next, res, err := d.ApplyDelta(prev, ops(t, `[{"op":"replace","path":"/steps/0/status","value":"sideways"}]`))
	require.NoError(t, err)
	assert.Same(t, prev, next)
	assert.False(t, res.Modified())
}

func TestApplyDelta_InvalidOperationDoesNotBlockOthers(t *testing.T) {
	d := NewDomain()
	for _, bad := range []string{
		`{"op":"replace","path":"/steps/0/status","value":"sideways"}`,
		`{"op":"replace","path":"/steps/0/description","value":5}`,
	} {
		prev := decode(t, twoPending)
		next, res, err := d.ApplyDelta(prev, ops(t, `[`+bad+`,{"op":"replace","path":"/steps/1/status","value":"completed"}]`))
		require.NoError(t, err, bad)
		assert.Equal(t, 1, res.Patch.Applied, bad)
		require.Len(t, res.Patch.Skipped, 1, bad)
		assert.Equal(t, 0, res.Patch.Skipped[0].Index, bad)
		assert.Equal(t, []int{1}, res.Changed, bad)

		np := next.(*Plan)
		assert.Same(t, prev.Steps[0], np.Steps[0], bad)
		assert.Equal(t, StatusCompleted, np.Steps[1].Status, bad)
	}
}

func TestApplyDelta_SchemaViolationIsSkipped(t *testing.T) {
	d := NewDomain()
	prev := decode(t, twoPending)
	next, res, err := d.ApplyDelta(prev, ops(t, `[
		{"op":"replace","path":"/steps/0","value":{"detail":"x"}},
		{"op":"add","path":"/steps/-","value":null},
		{"op":"replace","path":"/steps/1/detail","value":"noted"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Patch.Applied)
	require.Len(t, res.Patch.Skipped, 2)
	assert.Equal(t, 0, res.Patch.Skipped[0].Index)
	assert.Equal(t, 1, res.Patch.Skipped[1].Index)

	np := next.(*Plan)
	require.Equal(t, 2, np.Len())
	assert.Equal(t, "A", np.Steps[0].Description)
	assert.Equal(t, StatusPending, np.Steps[0].Status)
	assert.Equal(t, "noted", np.Steps[1].Detail)
}

func TestApplyDelta_SkipValidationStillRejectsNullSteps(t *testing.T) {
	d := &Domain{SkipValidation: true}
	prev := decode(t, twoPending)
	next, res, err := d.ApplyDelta(prev, ops(t, `[{"op":"replace","path":"/steps/0","value":null}]`))
	require.NoError(t, err)
	assert.Same(t, prev, next)
	assert.False(t, res.Modified())
}

func TestSchema(t *testing.T) {
	b, err := Schema()
	require.NoError(t, err)
	var s map[string]any
	require.NoError(t, json.Unmarshal(b, &s))
	assert.Equal(t, "object", s["type"])
	assert.NotContains(t, s, "$schema")
}

func TestPlanCounters(t *testing.T) {
	p := decode(t, `{"steps":[{"description":"A","status":"completed"},{"description":"B","status":"completed"}]}`)
	assert.Equal(t, 2, p.Completed())
	assert.True(t, p.Done())
	var empty *Plan
	assert.False(t, empty.Done())
}
