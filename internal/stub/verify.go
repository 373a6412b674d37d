package stub

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ShapeError reports a stub script whose exposed surface does not match what
// the scripts under test bind to.
type ShapeError struct {
	Global  string
	Missing []string
	Reason  string
}

func (e *ShapeError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("stub window.%s is missing: %s", e.Global, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("stub window.%s: %s", e.Global, e.Reason)
}

const probeSource = `
var __stubProbe = { missing: [], done: false };
(function () {
  var g = window[%[1]s];
  if (!g) { __stubProbe.missing.push(%[1]s); __stubProbe.done = true; return; }
  var names = %[2]s;
  for (var i = 0; i < names.length; i++) {
    if (typeof g[names[i]] !== "function") __stubProbe.missing.push(names[i]);
  }
  if (!Array.isArray(g.GROQ_FREE_MODELS)) __stubProbe.missing.push("GROQ_FREE_MODELS");
  if (__stubProbe.missing.length) { __stubProbe.done = true; return; }
  Promise.all([
    g.chat(%[3]s),
    g.chat(%[4]s),
    g.loadSettings(),
    g.saveSettings({ model: "__probe__" }),
    g.loadSettings()
  ]).then(function (r) {
    __stubProbe.match = r[0];
    __stubProbe.fallback = r[1];
    __stubProbe.modelBefore = r[2].model;
    __stubProbe.savedModel = r[3].model;
    __stubProbe.modelAfter = r[4].model;
    __stubProbe.done = true;
  }, function (e) {
    __stubProbe.error = String(e);
    __stubProbe.done = true;
  });
})();
`

type probeResult struct {
	Missing     []string `json:"missing"`
	Done        bool     `json:"done"`
	Error       string   `json:"error"`
	Match       string   `json:"match"`
	Fallback    string   `json:"fallback"`
	ModelBefore string   `json:"modelBefore"`
	SavedModel  string   `json:"savedModel"`
	ModelAfter  string   `json:"modelAfter"`
}

// Verify runs the rendered script in an isolated JavaScript runtime and
// checks the capability surface, the chat rule and copy-on-write settings
// before the script is sent to a browser.
func (m *Module) Verify() error {
	script, err := m.Script()
	if err != nil {
		return err
	}
	return verifyScript(script, m.global, m.rule)
}

func verifyScript(script, global string, rule ChatRule) error {
	vm := goja.New()
	if err := vm.Set("window", vm.NewObject()); err != nil {
		return fmt.Errorf("prepare sandbox: %w", err)
	}

	if _, err := vm.RunString(script); err != nil {
		return &ShapeError{Global: global, Reason: fmt.Sprintf("script failed: %v", err)}
	}

	if rule.MessageIndex < 0 || rule.MessageIndex > MaxMessageIndex {
		return fmt.Errorf("chat rule message index %d outside 0..%d", rule.MessageIndex, MaxMessageIndex)
	}
	hit := make([]Message, rule.MessageIndex+1)
	hit[rule.MessageIndex] = Message{Role: "user", Content: "probe " + rule.Keyword}
	miss := make([]Message, rule.MessageIndex+1)
	miss[rule.MessageIndex] = Message{Role: "user"}

	src := fmt.Sprintf(probeSource, mustJSON(global), mustJSON(Capabilities), mustJSON(hit), mustJSON(miss))
	if _, err := vm.RunString(src); err != nil {
		return &ShapeError{Global: global, Reason: fmt.Sprintf("probe failed: %v", err)}
	}

	// Round-trip through JSON so exported goja values land in typed fields.
	raw, err := json.Marshal(vm.Get("__stubProbe").Export())
	if err != nil {
		return fmt.Errorf("read probe: %w", err)
	}
	var res probeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode probe: %w", err)
	}

	switch {
	case len(res.Missing) > 0:
		return &ShapeError{Global: global, Missing: res.Missing}
	case !res.Done:
		return &ShapeError{Global: global, Reason: "capabilities did not settle"}
	case res.Error != "":
		return &ShapeError{Global: global, Reason: "capability rejected: " + res.Error}
	case res.Match != rule.Match:
		return &ShapeError{Global: global, Reason: fmt.Sprintf("chat with %q answered %q, want %q", rule.Keyword, res.Match, rule.Match)}
	case res.Fallback != rule.Fallback:
		return &ShapeError{Global: global, Reason: fmt.Sprintf("chat without %q answered %q, want %q", rule.Keyword, res.Fallback, rule.Fallback)}
	case res.SavedModel != "__probe__":
		return &ShapeError{Global: global, Reason: "saveSettings did not return the merged patch"}
	case res.ModelAfter != res.ModelBefore:
		return &ShapeError{Global: global, Reason: "saveSettings mutated the settings snapshot"}
	}
	return nil
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("stub: encode %T: %v", v, err))
	}
	return string(raw)
}
