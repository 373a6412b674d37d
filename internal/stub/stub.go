// Package stub synthesizes the deterministic stand-in for the AI provider
// module that the page scripts bind to at load time.
//
// The stub is rendered as a self-contained script defining a single global
// (ReskinAI by default) and must be evaluated in the page before any script
// under test. Every value it returns is derived from the settings snapshot
// and the chat input; nothing touches the network.
package stub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/template"
)

// DefaultGlobal is the window property the scripts under test look up.
const DefaultGlobal = "ReskinAI"

// Capabilities lists the async functions the stub global exposes.
var Capabilities = []string{"loadSettings", "saveSettings", "testConnection", "triageBatch", "chat"}

// Settings is the provider configuration snapshot. It is a value type:
// copying it never aliases state.
type Settings struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	ConsentTriage  bool   `json:"consentTriage" yaml:"consent_triage"`
	Provider       string `json:"provider" yaml:"provider"`
	APIKey         string `json:"apiKey" yaml:"api_key"`
	Model          string `json:"model" yaml:"model"`
	BatchSize      int    `json:"batchSize" yaml:"batch_size"`
	TimeoutMs      int    `json:"timeoutMs" yaml:"timeout_ms"`
	RetryCount     int    `json:"retryCount" yaml:"retry_count"`
	RetryBackoffMs int    `json:"retryBackoffMs" yaml:"retry_backoff_ms"`
	MaxInputChars  int    `json:"maxInputChars" yaml:"max_input_chars"`
}

// DefaultSettings returns the snapshot the page harnesses have always used.
func DefaultSettings() Settings {
	return Settings{
		Enabled:        false,
		ConsentTriage:  false,
		Provider:       "groq",
		APIKey:         "test",
		Model:          "llama-3.1-8b-instant",
		BatchSize:      5,
		TimeoutMs:      30000,
		RetryCount:     0,
		RetryBackoffMs: 300,
		MaxInputChars:  2200,
	}
}

// ChatRule selects between two canned chat responses.
type ChatRule struct {
	// Keyword is searched for in the content of messages[MessageIndex].
	Keyword string `json:"keyword" yaml:"keyword"`
	// Match is returned when the keyword is present.
	Match string `json:"match" yaml:"match"`
	// Fallback is returned otherwise, including when the message is missing.
	Fallback string `json:"fallback" yaml:"fallback"`
	// MessageIndex is the message inspected; index 0 is the system prompt.
	// It must not exceed MaxMessageIndex.
	MessageIndex int `json:"messageIndex" yaml:"message_index"`
}

// MaxMessageIndex bounds ChatRule.MessageIndex. schema.cue carries the
// same limit.
const MaxMessageIndex = 64

// DefaultChatRule answers "yesterday" questions with a dated summary.
func DefaultChatRule() ChatRule {
	return ChatRule{
		Keyword:      "yesterday",
		Match:        "Yesterday: security alert from alerts@example.com",
		Fallback:     "Summary OK",
		MessageIndex: 1,
	}
}

// Message is one chat turn as passed to chat(messages).
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Module is an immutable stub definition.
type Module struct {
	global   string
	settings Settings
	models   []string
	rule     ChatRule
}

// Option customizes a Module at construction.
type Option func(*Module)

// WithChatRule replaces the default chat rule.
func WithChatRule(rule ChatRule) Option {
	return func(m *Module) { m.rule = rule }
}

// WithModels replaces the allowed model list.
func WithModels(models ...string) Option {
	return func(m *Module) { m.models = slices.Clone(models) }
}

// WithGlobal changes the window property the stub is published under.
func WithGlobal(name string) Option {
	return func(m *Module) { m.global = name }
}

// New validates settings and the chat rule and returns the stub module.
func New(settings Settings, opts ...Option) (*Module, error) {
	m := &Module{
		global:   DefaultGlobal,
		settings: settings,
		models:   []string{"llama-3.1-8b-instant"},
		rule:     DefaultChatRule(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if strings.TrimSpace(m.global) == "" {
		return nil, fmt.Errorf("stub global name is required")
	}
	if err := validate("#Settings", m.settings); err != nil {
		return nil, err
	}
	if err := validate("#ChatRule", m.rule); err != nil {
		return nil, err
	}
	return m, nil
}

// Global returns the window property name of the stub.
func (m *Module) Global() string {
	return m.global
}

// Settings returns a copy of the snapshot.
func (m *Module) Settings() Settings {
	return m.settings
}

// Models returns a copy of the allowed model list.
func (m *Module) Models() []string {
	return slices.Clone(m.models)
}

// ChatRule returns the chat rule.
func (m *Module) ChatRule() ChatRule {
	return m.rule
}

// Save merges patch over the snapshot and returns the merged copy. The
// module's snapshot is never modified. Unknown keys are rejected.
func (m *Module) Save(patch map[string]any) (Settings, error) {
	base, err := json.Marshal(m.settings)
	if err != nil {
		return Settings{}, fmt.Errorf("encode settings: %w", err)
	}
	merged := map[string]any{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	for k, v := range patch {
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return Settings{}, fmt.Errorf("encode patch: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var out Settings
	if err := dec.Decode(&out); err != nil {
		return Settings{}, fmt.Errorf("apply patch: %w", err)
	}
	return out, nil
}

// Chat returns the canned response for messages, mirroring the in-page
// chat function.
func (m *Module) Chat(messages []Message) string {
	if m.rule.MessageIndex < len(messages) &&
		strings.Contains(messages[m.rule.MessageIndex].Content, m.rule.Keyword) {
		return m.rule.Match
	}
	return m.rule.Fallback
}

var scriptTemplate = template.Must(template.New("stub").Parse(`(() => {
  "use strict";
  const settings = Object.freeze({{.Settings}});
  const rule = Object.freeze({{.Rule}});
  window[{{.Global}}] = {
    GROQ_FREE_MODELS: Object.freeze({{.Models}}),
    loadSettings: async () => ({ ...settings }),
    saveSettings: async (patch) => ({ ...settings, ...(patch || {}) }),
    testConnection: async () => ({ ok: true }),
    triageBatch: async () => [],
    chat: async (messages) => {
      const msg = Array.isArray(messages) ? messages[rule.messageIndex] : null;
      const text = msg ? String(msg.content || "") : "";
      return text.includes(rule.keyword) ? rule.match : rule.fallback;
    }
  };
})();
`))

// Script renders the stub as a script ready for page injection.
func (m *Module) Script() (string, error) {
	models := m.models
	if models == nil {
		models = []string{}
	}
	fields := map[string]any{
		"Global":   m.global,
		"Settings": m.settings,
		"Rule":     m.rule,
		"Models":   models,
	}
	data := make(map[string]string, len(fields))
	for name, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode stub %s: %w", strings.ToLower(name), err)
		}
		data[name] = string(raw)
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render stub: %w", err)
	}
	return buf.String(), nil
}
