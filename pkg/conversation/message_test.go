package conversation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMessage_AppendTextExtendsTrailingTextPart(t *testing.T) {
	m := NewMessage(RoleAssistant)
	m.AppendText("Hel")
	m.AppendText("lo")
	require.Len(t, m.Parts, 1)
	assert.Equal(t, "Hello", m.Text())

	m.AppendPart(&ToolCallPart{CallID: "c1", Name: "lookup"})
	m.AppendText(" again")
	require.Len(t, m.Parts, 3)
	assert.Equal(t, "Hello again", m.Text())
	_, ok := m.Parts[2].(*TextPart)
	assert.True(t, ok)
}

func TestMessage_IsEmpty(t *testing.T) {
	var nilMsg *Message
	assert.True(t, nilMsg.IsEmpty())

	m := NewMessage(RoleAssistant)
	assert.True(t, m.IsEmpty())
	m.AppendText("")
	assert.True(t, m.IsEmpty())
	m.AppendPart(&ErrorPart{Message: "boom"})
	assert.False(t, m.IsEmpty())
	assert.True(t, m.HasError())
}

func TestMessage_CloneIsDeep(t *testing.T) {
	m := NewTextMessage(RoleAssistant, "abc")
	m.AppendPart(&ToolCallPart{CallID: "c1", Name: "n", Arguments: json.RawMessage(`{"a":1}`)})

	c := m.Clone()
	c.AppendText("def")
	c.Parts[1].(*ToolCallPart).Name = "changed"

	assert.Equal(t, "abc", m.Text())
	assert.Equal(t, "n", m.Parts[1].(*ToolCallPart).Name)
	assert.Equal(t, m.ID, c.ID)
}

func TestMessage_JSONRoundTripKeepsPartTypes(t *testing.T) {
	m := NewTextMessage(RoleAssistant, "plan:")
	m.AppendPart(&ToolCallPart{CallID: "c1", Name: "create_plan", Arguments: json.RawMessage(`{"x":1}`)})
	m.AppendPart(&ToolResultPart{CallID: "c1", Result: json.RawMessage(`{"ok":true}`), Orphaned: true})
	m.AppendPart(&ErrorPart{Message: "net down"})

	b, err := json.Marshal(m)
	require.NoError(t, err)

	var out Message
	require.NoError(t, json.Unmarshal(b, &out))
	require.Len(t, out.Parts, 4)
	assert.Equal(t, PartTypeText, out.Parts[0].PartType())
	tc := out.Parts[1].(*ToolCallPart)
	assert.Equal(t, "create_plan", tc.Name)
	assert.JSONEq(t, `{"x":1}`, string(tc.Arguments))
	tr := out.Parts[2].(*ToolResultPart)
	assert.True(t, tr.Orphaned)
	assert.Equal(t, "net down", out.Parts[3].(*ErrorPart).Message)
}

func TestMessage_YAMLKeepsRawJSONAsString(t *testing.T) {
	m := NewMessage(RoleTool, WithParts(&ToolResultPart{CallID: "c9", Result: json.RawMessage(`[1,2]`)}))
	b, err := yaml.Marshal(m)
	require.NoError(t, err)

	var out Message
	require.NoError(t, yaml.Unmarshal(b, &out))
	require.Len(t, out.Parts, 1)
	assert.Equal(t, "[1,2]", string(out.Parts[0].(*ToolResultPart).Result))
}

func TestMessage_UnknownPartTypeFails(t *testing.T) {
	var out Message
	err := json.Unmarshal([]byte(`{"id":"x","role":"user","parts":[{"type":"hologram"}]}`), &out)
	require.Error(t, err)
}

func TestConversation_LastOfRole(t *testing.T) {
	c := Conversation{
		NewTextMessage(RoleUser, "a"),
		NewTextMessage(RoleAssistant, "b"),
		NewTextMessage(RoleUser, "c"),
	}
	assert.Equal(t, "c", c.LastOfRole(RoleUser).Text())
	assert.Nil(t, c.LastOfRole(RoleTool))
}
