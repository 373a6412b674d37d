package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pageharness/internal/browser"
	"github.com/roach88/pageharness/internal/config"
	"github.com/roach88/pageharness/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Filter          string
	ChromePath      string
	Headed          bool
	WaitTimeout     time.Duration
	ScenarioTimeout time.Duration
	Trace           bool
}

// RunSummary is the JSON payload of the run command.
type RunSummary struct {
	Scenarios []*harness.Result `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [scenario-file | scenario-dir | built-in-name]...",
		Short: "Run page scenarios in headless Chrome",
		Long: `Run page scenarios, each in a fresh headless Chrome session.

With no arguments every built-in scenario runs. Captured results are printed
as NAME value lines followed by PASS or FAIL per scenario.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (bad flags, unreadable scenario or config)

Examples:
  pageharness run
  pageharness run chat
  pageharness run ./scenarios --filter "triage*"
  pageharness run --root ../extension --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.ChromePath, "chrome-path", "", "Chrome executable (default: discovered)")
	cmd.Flags().BoolVar(&opts.Headed, "headed", false, "show the browser window")
	cmd.Flags().DurationVar(&opts.WaitTimeout, "wait-timeout", 0, "default bound for wait steps (default from config)")
	cmd.Flags().DurationVar(&opts.ScenarioTimeout, "scenario-timeout", 0, "bound for a whole scenario (0: none)")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print the step trace of each scenario")

	return cmd
}

// applyFlags overlays explicitly set flags on cfg.
func (o *RunOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("chrome-path") {
		cfg.ChromePath = o.ChromePath
	}
	if flags.Changed("headed") {
		cfg.Headless = !o.Headed
	}
	if flags.Changed("wait-timeout") {
		cfg.WaitTimeout = o.WaitTimeout
	}
	if flags.Changed("scenario-timeout") {
		cfg.ScenarioTimeout = o.ScenarioTimeout
	}
}

func runScenarios(opts *RunOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	opts.applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, err)
	}

	list, err := LoadScenarios(args, opts.Filter)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, err)
	}

	logger, err := opts.logger(cmd)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, err)
	}

	if len(list) == 0 {
		if f.JSON() {
			return f.Encode(CLIResponse{Status: "ok", RunID: logger.RunID(), Data: RunSummary{Scenarios: []*harness.Result{}}})
		}
		fmt.Fprintln(f.Writer, "No scenarios found.")
		return nil
	}

	// Console lines would corrupt the JSON envelope on stdout.
	console := f.Writer
	if f.JSON() {
		console = f.GetErrWriter()
	}

	launch := opts.Launch
	if launch == nil {
		launch = harness.BrowserLauncher(browser.Options{
			ExecPath:     cfg.ChromePath,
			Headless:     cfg.Headless,
			WindowWidth:  cfg.WindowWidth,
			WindowHeight: cfg.WindowHeight,
			Console:      console,
			Logger:       logger.Logger,
		})
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Debug("running scenarios", "count", len(list), "root", cfg.Root)
	results, err := harness.RunAll(ctx, list, launch, harness.Options{
		Root:            cfg.Root,
		WaitTimeout:     cfg.WaitTimeout,
		PollInterval:    cfg.PollInterval,
		ScenarioTimeout: cfg.ScenarioTimeout,
		Logger:          logger.Logger,
	})
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeHarness, err)
	}

	summary := RunSummary{Scenarios: results, Total: len(results)}
	for _, r := range results {
		if r.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	if f.JSON() {
		resp := CLIResponse{Status: "ok", RunID: logger.RunID(), Data: summary}
		if summary.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeScenarioFailed,
				Message: fmt.Sprintf("%d scenario(s) failed", summary.Failed),
			}
		}
		if err := f.Encode(resp); err != nil {
			return err
		}
	} else {
		outputRunText(f.Writer, results, summary, opts.Trace)
	}

	if summary.Failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d scenario(s) failed", summary.Failed), Reported: true}
	}
	return nil
}

func outputRunText(w io.Writer, results []*harness.Result, summary RunSummary, trace bool) {
	for _, r := range results {
		harness.Report(w, r)
		if !trace {
			continue
		}
		for _, s := range r.Steps {
			fmt.Fprintf(w, "  #%d step=%d %s %q %s %dms", s.Seq, s.Index, s.Kind, s.Target, s.Status, s.ElapsedMs)
			if s.Detail != "" {
				fmt.Fprintf(w, " (%s)", s.Detail)
			}
			fmt.Fprintln(w)
		}
	}

	if summary.Total > 1 {
		fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
	}
}
