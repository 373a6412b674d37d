package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pageharness/internal/scenarios"
)

// ScenarioInfo describes a built-in scenario.
type ScenarioInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Fixture     string `json:"fixture"`
	Steps       int    `json:"steps"`
	Assertions  int    `json:"assertions"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	all, err := scenarios.LoadAll()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, err)
	}

	infos := make([]ScenarioInfo, 0, len(all))
	for _, sc := range all {
		infos = append(infos, ScenarioInfo{
			Name:        sc.Name,
			Description: strings.TrimSpace(sc.Description),
			Fixture:     sc.Fixture,
			Steps:       len(sc.Steps),
			Assertions:  len(sc.Assertions),
		})
	}

	if f.JSON() {
		return f.Success(infos)
	}
	for _, info := range infos {
		fmt.Fprintf(f.Writer, "%-8s %s (%d steps, %d assertions)\n", info.Name, info.Fixture, info.Steps, info.Assertions)
		if opts.Verbose {
			fmt.Fprintf(f.Writer, "         %s\n", info.Description)
		}
	}
	return nil
}
