// Package scenarios embeds the built-in page scenarios.
package scenarios

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/roach88/pageharness/internal/harness"
)

//go:embed *.yaml
var files embed.FS

// Names returns the built-in scenario names, sorted.
func Names() []string {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".yaml"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Load parses the built-in scenario called name.
func Load(name string) (*harness.Scenario, error) {
	data, err := files.ReadFile(path.Clean(name) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown scenario %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	sc, err := harness.ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", name, err)
	}
	return sc, nil
}

// LoadAll parses every built-in scenario in name order.
func LoadAll() ([]*harness.Scenario, error) {
	var out []*harness.Scenario
	for _, name := range Names() {
		sc, err := Load(name)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}
