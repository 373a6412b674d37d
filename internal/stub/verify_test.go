package stub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_DefaultStubPasses(t *testing.T) {
	m := newDefault(t)
	require.NoError(t, m.Verify())
}

func TestVerify_CustomRulePasses(t *testing.T) {
	rule := ChatRule{Keyword: "invoice", Match: "Invoices: 3 unpaid", Fallback: "No invoices", MessageIndex: 2}
	m, err := New(DefaultSettings(), WithChatRule(rule), WithGlobal("OtherAI"))
	require.NoError(t, err)

	require.NoError(t, m.Verify())
}

func TestVerifyScript_MissingGlobal(t *testing.T) {
	err := verifyScript(`window.Somebody = {};`, "ReskinAI", DefaultChatRule())
	require.Error(t, err)

	var shapeErr *ShapeError
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, []string{"ReskinAI"}, shapeErr.Missing)
}

func TestVerifyScript_MissingCapabilities(t *testing.T) {
	script := `window.ReskinAI = {
  GROQ_FREE_MODELS: [],
  loadSettings: async () => ({}),
  chat: async () => ""
};`
	err := verifyScript(script, "ReskinAI", DefaultChatRule())
	require.Error(t, err)

	var shapeErr *ShapeError
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, []string{"saveSettings", "testConnection", "triageBatch"}, shapeErr.Missing)
	assert.Contains(t, err.Error(), "missing: saveSettings, testConnection, triageBatch")
}

func TestVerifyScript_MutatingSaveIsRejected(t *testing.T) {
	script := `(() => {
  const settings = { model: "m" };
  window.ReskinAI = {
    GROQ_FREE_MODELS: ["m"],
    loadSettings: async () => ({ ...settings }),
    saveSettings: async (patch) => Object.assign(settings, patch),
    testConnection: async () => ({ ok: true }),
    triageBatch: async () => [],
    chat: async (messages) => String(messages[1].content).includes("yesterday")
      ? "Yesterday: security alert from alerts@example.com"
      : "Summary OK"
  };
})();`
	err := verifyScript(script, "ReskinAI", DefaultChatRule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutated the settings snapshot")
}

func TestVerifyScript_WrongChatAnswer(t *testing.T) {
	script := `window.ReskinAI = {
  GROQ_FREE_MODELS: [],
  loadSettings: async () => ({ model: "m" }),
  saveSettings: async (patch) => ({ model: "m", ...patch }),
  testConnection: async () => ({ ok: true }),
  triageBatch: async () => [],
  chat: async () => "Summary OK"
};`
	err := verifyScript(script, "ReskinAI", DefaultChatRule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `chat with "yesterday"`)
}

func TestVerifyScript_SyntaxError(t *testing.T) {
	err := verifyScript(`window.ReskinAI = {`, "ReskinAI", DefaultChatRule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script failed")
}

func TestVerifyScript_RejectsOutOfRangeMessageIndex(t *testing.T) {
	script, err := newDefault(t).Script()
	require.NoError(t, err)

	rule := DefaultChatRule()
	rule.MessageIndex = MaxMessageIndex + 1
	err = verifyScript(script, "ReskinAI", rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message index 65 outside 0..64")
}
