package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/roach88/pageharness/internal/browser"
	"github.com/roach88/pageharness/internal/stub"
)

// Phases of a capability check.
const (
	PhaseBeforeLoad = "before-load"
	PhaseAfterLoad  = "after-load"
	PhaseCall       = "call"
)

// ReasonMissingModule is the reason a guarded call reports when its target
// global or function does not exist.
const ReasonMissingModule = "missing-module"

// MissingCapabilityError reports a global that was absent when a script
// required it, or that a script failed to define.
type MissingCapabilityError struct {
	Global string
	Script string
	Phase  string
}

func (e *MissingCapabilityError) Error() string {
	switch e.Phase {
	case PhaseBeforeLoad:
		return fmt.Sprintf("missing capability: window.%s is undefined before loading %s", e.Global, e.Script)
	case PhaseAfterLoad:
		return fmt.Sprintf("missing capability: %s did not define window.%s", e.Script, e.Global)
	default:
		return fmt.Sprintf("missing dependency: window.%s is not loaded (%s)", e.Global, ReasonMissingModule)
	}
}

// globalExpr is the existence probe for window[name].
func globalExpr(name string) string {
	quoted, _ := json.Marshal(name)
	return fmt.Sprintf(`typeof window[%s] !== "undefined"`, quoted)
}

// globalDefined reports whether window[name] is defined in the page.
func globalDefined(ctx context.Context, page browser.Page, name string) (bool, error) {
	raw, err := page.Evaluate(ctx, globalExpr(name))
	if err != nil {
		return false, fmt.Errorf("check window.%s: %w", name, err)
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, fmt.Errorf("check window.%s: decode %q: %w", name, raw, err)
	}
	return ok, nil
}

// InjectStub evaluates the stub module in the page and confirms its global
// exists. It must run before any script under test.
func InjectStub(ctx context.Context, page browser.Page, m *stub.Module) error {
	script, err := m.Script()
	if err != nil {
		return err
	}
	if err := page.AddScript(ctx, script); err != nil {
		return fmt.Errorf("inject stub: %w", err)
	}

	ok, err := globalDefined(ctx, page, m.Global())
	if err != nil {
		return err
	}
	if !ok {
		return &MissingCapabilityError{Global: m.Global(), Script: "stub", Phase: PhaseAfterLoad}
	}
	return nil
}

// InjectSource reads the script verbatim and evaluates it in the page.
func InjectSource(ctx context.Context, page browser.Page, ref ScriptRef) error {
	source, err := os.ReadFile(ref.Path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	if err := page.AddScript(ctx, string(source)); err != nil {
		return fmt.Errorf("load %s: %w", ref.Path, err)
	}
	return nil
}

// LoadScripts injects refs in order. Before each script its required
// globals must exist; after it, its provided global must exist.
func LoadScripts(ctx context.Context, page browser.Page, refs []ScriptRef) error {
	for _, ref := range refs {
		if err := loadScript(ctx, page, ref); err != nil {
			return err
		}
	}
	return nil
}

func loadScript(ctx context.Context, page browser.Page, ref ScriptRef) error {
	for _, name := range ref.Requires {
		ok, err := globalDefined(ctx, page, name)
		if err != nil {
			return err
		}
		if !ok {
			return &MissingCapabilityError{Global: name, Script: ref.Path, Phase: PhaseBeforeLoad}
		}
	}

	if err := InjectSource(ctx, page, ref); err != nil {
		return err
	}

	if ref.Provides == "" {
		return nil
	}
	ok, err := globalDefined(ctx, page, ref.Provides)
	if err != nil {
		return err
	}
	if !ok {
		return &MissingCapabilityError{Global: ref.Provides, Script: ref.Path, Phase: PhaseAfterLoad}
	}
	return nil
}
