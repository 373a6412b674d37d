package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pageharness/internal/harness"
	"github.com/roach88/pageharness/internal/stub"
)

// ValidationError is one scenario that failed preflight.
type ValidationError struct {
	Scenario string `json:"scenario"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Checked int               `json:"checked"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [scenario-file | scenario-dir | built-in-name]...",
		Short: "Check scenarios without launching a browser",
		Long: `Check scenarios without launching a browser.

Parses each scenario, resolves fixture and script paths against the root,
checks the fixture contains every anchor and verifies the stub script in an
embedded JavaScript runtime. Faster than run for authoring feedback.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, err)
	}

	list, err := LoadScenarios(args, "")
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, err)
	}

	result := ValidationResult{Valid: true, Checked: len(list)}
	for _, sc := range list {
		f.VerboseLog("Validating scenario: %s", sc.Name)
		if err := harness.Preflight(sc, cfg.Root); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationError{
				Scenario: sc.Name,
				Code:     preflightCode(err),
				Message:  err.Error(),
			})
		}
	}

	if result.Valid {
		return outputValidateSuccess(f, result)
	}
	return outputValidationErrors(f, result)
}

// preflightCode classifies a preflight failure.
func preflightCode(err error) string {
	var (
		anchorErr *harness.AnchorError
		schemaErr *stub.SchemaError
		shapeErr  *stub.ShapeError
	)
	switch {
	case errors.As(err, &anchorErr):
		return "E_FIXTURE_ANCHOR"
	case errors.As(err, &schemaErr):
		return "E_STUB_SCHEMA"
	case errors.As(err, &shapeErr):
		return "E_STUB_SHAPE"
	default:
		return "E_FIXTURE"
	}
}

func outputValidateSuccess(f *OutputFormatter, result ValidationResult) error {
	if f.JSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "✓ %d scenario(s) valid\n", result.Checked)
	return nil
}

func outputValidationErrors(f *OutputFormatter, result ValidationResult) error {
	if f.JSON() {
		first := result.Errors[0]
		if err := f.Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: first.Code, Message: first.Message},
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer, "✗ Validation failed")
		fmt.Fprintln(f.Writer)
		for _, e := range result.Errors {
			fmt.Fprintf(f.Writer, "%s\n  %s: %s\n\n", e.Scenario, e.Code, e.Message)
		}
	}

	return &ExitError{
		Code:     ExitFailure,
		Message:  fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)),
		Reported: true,
	}
}
