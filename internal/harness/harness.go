package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/roach88/pageharness/internal/browser"
	"github.com/roach88/pageharness/internal/logging"
	"github.com/roach88/pageharness/internal/store"
	"github.com/roach88/pageharness/internal/stub"
)

// Defaults for Options fields left zero.
const (
	DefaultWaitTimeout  = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Step kinds recorded in the trace besides scenario step actions.
const (
	KindNavigate = "navigate"
	KindStub     = "stub"
	KindScript   = "script"
)

// Options configures scenario execution.
type Options struct {
	// Root resolves relative fixture and script paths.
	Root string

	// WaitTimeout bounds wait and wait_text steps without their own timeout.
	WaitTimeout time.Duration

	// PollInterval is the wait_text re-check interval.
	PollInterval time.Duration

	// ScenarioTimeout bounds a whole scenario. Zero means no bound beyond
	// the individual waits.
	ScenarioTimeout time.Duration

	// Logger receives harness diagnostics. Nil discards them.
	Logger *log.Logger
}

func (o Options) withDefaults() Options {
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

// Session is a page that must be released when the scenario ends.
type Session interface {
	browser.Page
	Release()
}

// Launcher starts a fresh session. It is called once per scenario.
type Launcher func(ctx context.Context) (Session, error)

// BrowserLauncher launches headless Chrome with opts.
func BrowserLauncher(opts browser.Options) Launcher {
	return func(ctx context.Context) (Session, error) {
		return browser.Acquire(ctx, opts)
	}
}

// Harness executes one scenario against one page.
type Harness struct {
	store    *store.Store
	page     browser.Page
	driver   *Driver
	logger   *log.Logger
	scenario string
}

// prepared is a scenario with resolved paths and a verified stub, ready to
// run without further disk or schema checks failing late.
type prepared struct {
	scenario *Scenario
	module   *stub.Module
}

// prepare resolves paths, checks fixture anchors and builds and verifies the
// stub. Everything here runs before a browser exists.
func prepare(sc *Scenario, root string) (*prepared, error) {
	resolved := sc.Resolve(root)

	if err := CheckFixtureAnchors(resolved.Fixture, resolved.Anchors); err != nil {
		return nil, err
	}

	module, err := resolved.Stub.Module()
	if err != nil {
		return nil, err
	}
	if module != nil {
		if err := module.Verify(); err != nil {
			return nil, err
		}
	}
	return &prepared{scenario: resolved, module: module}, nil
}

// Preflight runs every check Run performs before touching a page: path
// resolution against root, fixture anchors and stub verification.
func Preflight(sc *Scenario, root string) error {
	_, err := prepare(sc, root)
	return err
}

// Run executes scenario against page and returns the result. Scenario
// failures are reported in the result; the error is reserved for the
// harness itself failing.
//
// Execution order is fixed:
//  1. Navigate to the fixture (with its routing fragment)
//  2. Inject the stub module, unless disabled
//  3. Load scripts in list order with capability checks
//  4. Run steps in order, aborting on the first failure
//  5. Evaluate assertions if every step succeeded
func Run(ctx context.Context, scenario *Scenario, page browser.Page, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	p, err := prepare(scenario, opts.Root)
	if err != nil {
		result := NewResult(scenario.Name)
		result.Fail(err)
		return result, nil
	}
	return execute(ctx, p, page, opts)
}

// RunAll runs scenarios one after another, each in its own session from
// launch. A session is released before the next scenario starts.
func RunAll(ctx context.Context, scenarios []*Scenario, launch Launcher, opts Options) ([]*Result, error) {
	opts = opts.withDefaults()

	results := make([]*Result, 0, len(scenarios))
	for _, sc := range scenarios {
		result, err := runInSession(ctx, sc, launch, opts)
		if err != nil {
			return results, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func runInSession(ctx context.Context, sc *Scenario, launch Launcher, opts Options) (*Result, error) {
	logger := opts.Logger.With("scenario", sc.Name)

	p, err := prepare(sc, opts.Root)
	if err != nil {
		logger.Error("preflight failed", "err", err)
		result := NewResult(sc.Name)
		result.Fail(err)
		return result, nil
	}

	session, err := launch(ctx)
	if err != nil {
		logger.Error("browser launch failed", "err", err)
		result := NewResult(sc.Name)
		result.Fail(err)
		return result, nil
	}
	defer session.Release()

	return execute(ctx, p, session, opts)
}

func execute(ctx context.Context, p *prepared, page browser.Page, opts Options) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if opts.ScenarioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ScenarioTimeout)
		defer cancel()
	}

	sc := p.scenario
	logger := opts.Logger.With("scenario", sc.Name)
	h := &Harness{
		store:    st,
		page:     page,
		driver:   NewDriver(page, opts.WaitTimeout, opts.PollInterval, logger),
		logger:   logger,
		scenario: sc.Name,
	}

	result := NewResult(sc.Name)
	if err := h.setup(ctx, p); err != nil {
		result.Fail(err)
	} else if err := h.executeSteps(ctx, sc.Steps, result); err != nil {
		result.Fail(err)
	} else {
		for _, msg := range EvaluateAssertions(result, sc.Assertions) {
			result.AddError(msg)
		}
	}

	steps, err := st.ReadSteps(context.WithoutCancel(ctx), sc.Name)
	if err != nil {
		return nil, fmt.Errorf("read step trace: %w", err)
	}
	result.Steps = steps

	logger.Info("scenario finished", "pass", result.Pass, "errors", len(result.Errors))
	return result, nil
}

// setup navigates, injects the stub and loads the scripts under test.
func (h *Harness) setup(ctx context.Context, p *prepared) error {
	sc := p.scenario

	if err := h.track(ctx, -1, KindNavigate, sc.Fixture, func() error {
		return Navigate(ctx, h.page, sc.Fixture, sc.Fragment)
	}); err != nil {
		return err
	}

	if p.module != nil {
		if err := h.track(ctx, -1, KindStub, p.module.Global(), func() error {
			return InjectStub(ctx, h.page, p.module)
		}); err != nil {
			return err
		}
	}

	for _, ref := range sc.Scripts {
		if err := h.track(ctx, -1, KindScript, ref.Path, func() error {
			return loadScript(ctx, h.page, ref)
		}); err != nil {
			return err
		}
	}
	return nil
}

// executeSteps runs steps in order and stops at the first failure.
// Results captured by a failing step are still recorded.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		err := h.track(ctx, i, step.Action, step.Target(), func() error {
			res, err := h.driver.Do(ctx, i, step)
			if res != nil {
				result.Capture(*res)
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// track runs fn and appends its outcome to the step trace.
func (h *Harness) track(ctx context.Context, index int, kind, target string, fn func() error) error {
	start := time.Now()
	err := fn()

	rec := store.StepRecord{
		Scenario:  h.scenario,
		Index:     index,
		Kind:      kind,
		Target:    target,
		Status:    store.StatusOK,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		rec.Status = store.StatusFailed
		rec.Detail = err.Error()
	}

	// The trace outlives a cancelled scenario context.
	if _, werr := h.store.WriteStep(context.WithoutCancel(ctx), rec); werr != nil {
		h.logger.Warn("failed to record step", "kind", kind, "err", werr)
	}

	if err != nil {
		h.logger.Error("step failed", "step", index, "kind", kind, "target", target, "err", err)
	} else {
		h.logger.Debug("step completed", "step", index, "kind", kind, "target", target, "elapsed_ms", rec.ElapsedMs)
	}
	return err
}
