package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/pageharness/internal/harness"
	"github.com/roach88/pageharness/internal/scenarios"
)

// LoadError describes a scenario source that could not be loaded.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadScenarios resolves command arguments into scenarios. An argument is a
// scenario file, a directory searched for *.yaml and *.yml files, or the name
// of a built-in scenario. No arguments selects every built-in. filter, when
// set, is a glob matched against scenario names.
func LoadScenarios(args []string, filter string) ([]*harness.Scenario, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", filter, err)
		}
	}

	var loaded []*harness.Scenario
	if len(args) == 0 {
		all, err := scenarios.LoadAll()
		if err != nil {
			return nil, &LoadError{Source: "built-in scenarios", Err: err}
		}
		loaded = all
	}

	for _, arg := range args {
		found, err := loadSource(arg)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, found...)
	}

	if filter == "" {
		return loaded, nil
	}
	kept := loaded[:0]
	for _, sc := range loaded {
		if ok, _ := filepath.Match(filter, sc.Name); ok {
			kept = append(kept, sc)
		}
	}
	return kept, nil
}

func loadSource(arg string) ([]*harness.Scenario, error) {
	info, statErr := os.Stat(arg)
	switch {
	case statErr == nil && info.IsDir():
		files, err := findScenarioFiles(arg)
		if err != nil {
			return nil, &LoadError{Source: arg, Err: err}
		}
		out := make([]*harness.Scenario, 0, len(files))
		for _, file := range files {
			sc, err := harness.LoadScenario(file)
			if err != nil {
				return nil, &LoadError{Source: file, Err: err}
			}
			out = append(out, sc)
		}
		return out, nil

	case statErr == nil || isScenarioFile(arg):
		sc, err := harness.LoadScenario(arg)
		if err != nil {
			return nil, &LoadError{Source: arg, Err: err}
		}
		return []*harness.Scenario{sc}, nil
	}

	sc, err := scenarios.Load(arg)
	if err != nil {
		return nil, &LoadError{Source: arg, Err: err}
	}
	return []*harness.Scenario{sc}, nil
}

// findScenarioFiles returns the scenario files under dir in path order.
func findScenarioFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isScenarioFile(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func isScenarioFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}
