package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pageharness/internal/stub"
)

// Scenario is one self-contained page check: a fixture, the scripts loaded
// into it, the interactions performed and the predicates over what was
// captured.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Fixture is the HTML file loaded into the page. Relative paths resolve
	// against the repository root.
	Fixture string `yaml:"fixture"`

	// Fragment is appended to the fixture URL as a routing fragment.
	Fragment string `yaml:"fragment,omitempty"`

	// Anchors are selectors the static fixture must contain. Checked before
	// a browser is launched.
	Anchors []string `yaml:"anchors,omitempty"`

	// Stub configures the injected AI module. Omitted means the default
	// stub; "none" disables injection.
	Stub StubSpec `yaml:"stub,omitempty"`

	// Scripts are loaded in list order after the stub.
	Scripts []ScriptRef `yaml:"scripts"`

	// Steps run strictly in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after every step succeeded.
	Assertions []Assertion `yaml:"assertions"`
}

// ScriptRef is one script under test.
type ScriptRef struct {
	// Path to the source file.
	Path string `yaml:"path"`

	// Provides names the global the script must define.
	Provides string `yaml:"provides,omitempty"`

	// Requires lists globals that must exist before the script loads.
	Requires []string `yaml:"requires,omitempty"`
}

// StubSpec configures the stub module for a scenario.
type StubSpec struct {
	Disabled bool
	Global   string
	Settings stub.Settings
	Models   []string
	Chat     stub.ChatRule

	hasModels bool
}

var (
	stubKeys     = []string{"global", "settings", "models", "chat"}
	settingsKeys = []string{
		"enabled", "consent_triage", "provider", "api_key", "model",
		"batch_size", "timeout_ms", "retry_count", "retry_backoff_ms", "max_input_chars",
	}
	chatKeys = []string{"keyword", "match", "fallback", "message_index"}
)

// DefaultStubSpec returns the stub used when a scenario does not configure one.
func DefaultStubSpec() StubSpec {
	return StubSpec{
		Global:   stub.DefaultGlobal,
		Settings: stub.DefaultSettings(),
		Chat:     stub.DefaultChatRule(),
	}
}

// UnmarshalYAML accepts "none" or a mapping whose settings and chat entries
// override the defaults field by field.
func (s *StubSpec) UnmarshalYAML(node *yaml.Node) error {
	*s = DefaultStubSpec()

	if node.Kind == yaml.ScalarNode {
		if node.Value == "none" {
			s.Disabled = true
			return nil
		}
		return fmt.Errorf("line %d: stub must be a mapping or \"none\", got %q", node.Line, node.Value)
	}
	if err := checkKeys(node, "stub", stubKeys); err != nil {
		return err
	}

	var raw struct {
		Global   string    `yaml:"global"`
		Settings yaml.Node `yaml:"settings"`
		Models   *[]string `yaml:"models"`
		Chat     yaml.Node `yaml:"chat"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.Global != "" {
		s.Global = raw.Global
	}
	if raw.Models != nil {
		s.Models = *raw.Models
		s.hasModels = true
	}
	// Decoding into the prefilled defaults only overwrites keys present.
	if raw.Settings.Kind != 0 {
		if err := checkKeys(&raw.Settings, "stub.settings", settingsKeys); err != nil {
			return err
		}
		if err := raw.Settings.Decode(&s.Settings); err != nil {
			return err
		}
	}
	if raw.Chat.Kind != 0 {
		if err := checkKeys(&raw.Chat, "stub.chat", chatKeys); err != nil {
			return err
		}
		if err := raw.Chat.Decode(&s.Chat); err != nil {
			return err
		}
	}
	return nil
}

func checkKeys(node *yaml.Node, where string, allowed []string) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s must be a mapping", node.Line, where)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		if !slices.Contains(allowed, key.Value) {
			return fmt.Errorf("line %d: field %s not found in %s", key.Line, key.Value, where)
		}
	}
	return nil
}

// Module builds the stub module. Returns nil when the stub is disabled.
func (s StubSpec) Module() (*stub.Module, error) {
	if s.Disabled {
		return nil, nil
	}
	opts := []stub.Option{stub.WithGlobal(s.Global), stub.WithChatRule(s.Chat)}
	if s.hasModels {
		opts = append(opts, stub.WithModels(s.Models...))
	}
	return stub.New(s.Settings, opts...)
}

// Step actions.
const (
	ActionWait     = "wait"
	ActionFill     = "fill"
	ActionClick    = "click"
	ActionSettle   = "settle"
	ActionWaitText = "wait_text"
	ActionText     = "text"
	ActionCall     = "call"
	ActionEvaluate = "evaluate"
)

// Step is one interaction. Which fields apply depends on Action.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Selector targets wait, fill, click, wait_text and text.
	Selector string `yaml:"selector,omitempty"`

	// Value is the text typed by fill, or the substring wait_text waits for.
	Value string `yaml:"value,omitempty"`

	// Pending lists placeholder texts wait_text keeps polling through, such
	// as a "Thinking..." line shown while an answer is in flight.
	Pending []string `yaml:"pending,omitempty"`

	// Timeout bounds every step that touches the DOM: wait, fill, click,
	// wait_text and text. Zero uses the configured default.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Duration is the settle delay.
	Duration time.Duration `yaml:"duration,omitempty"`

	// Global and Function name the page function invoked by call.
	Global   string `yaml:"global,omitempty"`
	Function string `yaml:"function,omitempty"`

	// Args are passed to the function as JSON-encoded positional arguments.
	Args []any `yaml:"args,omitempty"`

	// ResultField names the field holding the call's return value.
	// Defaults to "ok".
	ResultField string `yaml:"result_field,omitempty"`

	// Collect are extra expressions evaluated after the call, in order.
	Collect []Collect `yaml:"collect,omitempty"`

	// Expr is the expression run by evaluate.
	Expr string `yaml:"expr,omitempty"`

	// Capture names the InteractionResult recorded by text, call and
	// evaluate. Evaluate without a capture discards its value.
	Capture string `yaml:"capture,omitempty"`
}

// Collect is one named expression captured alongside a call result.
type Collect struct {
	Field string `yaml:"field"`
	Expr  string `yaml:"expr"`
}

// Target describes what the step acts on, for logs and the trace.
func (s Step) Target() string {
	switch s.Action {
	case ActionCall:
		return s.Global + "." + s.Function
	case ActionSettle:
		return s.Duration.String()
	case ActionEvaluate:
		return s.Capture
	}
	return s.Selector
}

// Assertion types.
const (
	AssertContains    = "contains"
	AssertNotContains = "not_contains"
	AssertEqualsFold  = "equals_fold"
	AssertEquals      = "equals"
	AssertTruthy      = "truthy"
)

// Assertion is a predicate over one captured field.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Result is the capture name the assertion reads.
	Result string `yaml:"result"`

	// Field selects a field of an object result. Empty selects a scalar.
	Field string `yaml:"field,omitempty"`

	// Value is the expected value or substring.
	Value string `yaml:"value,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	scenario := Scenario{Stub: DefaultStubSpec()}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// Resolve returns a copy with fixture and script paths made absolute
// against root.
func (s *Scenario) Resolve(root string) *Scenario {
	out := *s
	out.Fixture = resolvePath(root, s.Fixture)
	out.Scripts = make([]ScriptRef, len(s.Scripts))
	for i, ref := range s.Scripts {
		ref.Path = resolvePath(root, ref.Path)
		out.Scripts[i] = ref
	}
	return &out
}

func resolvePath(root, path string) string {
	if filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Fixture == "" {
		return fmt.Errorf("fixture is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, ref := range s.Scripts {
		if ref.Path == "" {
			return fmt.Errorf("scripts[%d]: path is required", i)
		}
	}

	captures := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
		if step.Capture != "" {
			captures[step.Capture] = true
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
		if !captures[assertion.Result] {
			return fmt.Errorf("assertions[%d]: result %q is not captured by any step", i, assertion.Result)
		}
	}

	return nil
}

// validateStep validates a single step based on its action.
func validateStep(index int, s *Step) error {
	if s.Action == "" {
		return fmt.Errorf("steps[%d]: action is required", index)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("steps[%d]: timeout must be non-negative", index)
	}
	if len(s.Pending) > 0 && s.Action != ActionWaitText {
		return fmt.Errorf("steps[%d]: pending applies only to wait_text", index)
	}
	for j, text := range s.Pending {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("steps[%d].pending[%d]: must not be blank", index, j)
		}
	}

	switch s.Action {
	case ActionWait, ActionFill, ActionClick, ActionWaitText:
		if s.Selector == "" {
			return fmt.Errorf("steps[%d]: selector is required for %s", index, s.Action)
		}
	case ActionText:
		if s.Selector == "" {
			return fmt.Errorf("steps[%d]: selector is required for text", index)
		}
		if s.Capture == "" {
			return fmt.Errorf("steps[%d]: capture is required for text", index)
		}
	case ActionSettle:
		if s.Duration <= 0 {
			return fmt.Errorf("steps[%d]: duration must be positive for settle", index)
		}
	case ActionCall:
		if s.Global == "" || s.Function == "" {
			return fmt.Errorf("steps[%d]: global and function are required for call", index)
		}
		if s.Capture == "" {
			return fmt.Errorf("steps[%d]: capture is required for call", index)
		}
		for j, c := range s.Collect {
			if c.Field == "" || c.Expr == "" {
				return fmt.Errorf("steps[%d].collect[%d]: field and expr are required", index, j)
			}
		}
	case ActionEvaluate:
		if s.Expr == "" {
			return fmt.Errorf("steps[%d]: expr is required for evaluate", index)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Result == "" {
		return fmt.Errorf("assertions[%d]: result is required", index)
	}

	switch a.Type {
	case AssertContains, AssertNotContains, AssertEqualsFold:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for %s", index, a.Type)
		}
	case AssertEquals, AssertTruthy:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
