package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pageharness/internal/scenarios"
	"github.com/roach88/pageharness/internal/stub"
)

// StubOptions holds flags for the stub command.
type StubOptions struct {
	*RootOptions
	Scenario string
	Verify   bool
}

// StubInfo is the JSON payload of the stub command.
type StubInfo struct {
	Global   string        `json:"global"`
	Settings stub.Settings `json:"settings"`
	Rule     stub.ChatRule `json:"rule"`
	Verified bool          `json:"verified"`
	Script   string        `json:"script"`
}

// NewStubCommand creates the stub command.
func NewStubCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StubOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Print the ReskinAI stub script",
		Long: `Print the stub script injected before the scripts under test.

By default the stub is built from the default settings. With --scenario the
stub configured by that built-in scenario is printed. --verify runs the
script in an embedded JavaScript runtime first and fails if its surface or
chat behavior is wrong.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStub(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "built-in scenario whose stub to print")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "verify the script before printing it")

	return cmd
}

func runStub(opts *StubOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	module, err := stubModule(opts.Scenario)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, err)
	}

	if opts.Verify {
		if err := module.Verify(); err != nil {
			return f.Fail(ExitFailure, "E_STUB_SHAPE", err)
		}
		f.VerboseLog("Stub window.%s verified", module.Global())
	}

	script, err := module.Script()
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeHarness, err)
	}

	if f.JSON() {
		return f.Success(StubInfo{
			Global:   module.Global(),
			Settings: module.Settings(),
			Rule:     module.ChatRule(),
			Verified: opts.Verify,
			Script:   script,
		})
	}
	_, err = fmt.Fprint(f.Writer, script)
	return err
}

func stubModule(scenario string) (*stub.Module, error) {
	if scenario == "" {
		return stub.New(stub.DefaultSettings())
	}

	sc, err := scenarios.Load(scenario)
	if err != nil {
		return nil, err
	}
	module, err := sc.Stub.Module()
	if err != nil {
		return nil, err
	}
	if module == nil {
		return nil, fmt.Errorf("scenario %s runs without a stub", sc.Name)
	}
	return module, nil
}
