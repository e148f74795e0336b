package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-go-golems/chatfold/pkg/patch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keyDomain claims documents holding its key and patches below /key.
type keyDomain struct {
	key string
}

func (k keyDomain) Name() string { return k.key }

func (k keyDomain) DetectSnapshot(raw json.RawMessage) bool {
	return bytes.Contains(raw, []byte(`"`+k.key+`"`))
}

func (k keyDomain) DetectDelta(ops []patch.Operation) bool {
	for _, op := range ops {
		if strings.HasPrefix(op.Path, "/"+k.key) {
			return true
		}
	}
	return false
}

func (k keyDomain) DecodeSnapshot(raw json.RawMessage) (any, error) {
	var v map[string]any
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (k keyDomain) ApplyDelta(current any, ops []patch.Operation) (any, DeltaResult, error) {
	next, report := patch.ApplyDocument(current, ops)
	return next, DeltaResult{Patch: report, Resynced: report.Changed()}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(keyDomain{"steps"}, keyDomain{"items"})
	assert.Equal(t, []string{"steps", "items"}, r.Names())
	assert.Error(t, r.Register(keyDomain{"steps"}))
	assert.Error(t, r.Register(nil))

	d, ok := r.Get("items")
	require.True(t, ok)
	assert.Equal(t, "items", d.Name())
	_, ok = r.Get("recipe")
	assert.False(t, ok)

	name, ok := r.DetectSnapshot(json.RawMessage(`{"items":[]}`))
	assert.True(t, ok)
	assert.Equal(t, "items", name)
	_, ok = r.DetectSnapshot(json.RawMessage(`{"other":1}`))
	assert.False(t, ok)

	name, ok = r.DetectDelta([]patch.Operation{patch.Replace("/steps/0/status", "completed")})
	assert.True(t, ok)
	assert.Equal(t, "steps", name)
	_, ok = r.DetectDelta(nil)
	assert.False(t, ok)
}

func TestRegistry_Nil(t *testing.T) {
	var r *Registry
	assert.Nil(t, r.Names())
	_, ok := r.Get("steps")
	assert.False(t, ok)
	_, ok = r.DetectSnapshot(json.RawMessage(`{"steps":[]}`))
	assert.False(t, ok)
	_, ok = r.DetectDelta([]patch.Operation{patch.Remove("/steps/0")})
	assert.False(t, ok)
}

func TestDeltaResult_Modified(t *testing.T) {
	assert.False(t, DeltaResult{}.Modified())
	assert.True(t, DeltaResult{Resynced: true}.Modified())
	assert.True(t, DeltaResult{Changed: []int{1}}.Modified())
}
