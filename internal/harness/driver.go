package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/roach88/pageharness/internal/browser"
	"github.com/roach88/pageharness/internal/logging"
)

// TimeoutError reports a bounded step that expired. It aborts the scenario.
type TimeoutError struct {
	Step     int
	Action   string
	Selector string
	Timeout  time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: step %d (%s %q) exceeded %s", e.Step, e.Action, e.Selector, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// StepError reports a step that failed for a reason other than a timeout.
type StepError struct {
	Step   int
	Action string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Action, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Driver performs scenario steps against a page, one at a time.
type Driver struct {
	page         browser.Page
	waitTimeout  time.Duration
	pollInterval time.Duration
	logger       *log.Logger
}

// NewDriver returns a driver with the given default wait bound and
// wait_text polling interval.
func NewDriver(page browser.Page, waitTimeout, pollInterval time.Duration, logger *log.Logger) *Driver {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Driver{
		page:         page,
		waitTimeout:  waitTimeout,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Do executes step. A returned InteractionResult is non-nil when the step
// captured something; it is returned even when err reports a missing
// dependency so the caller can print it.
func (d *Driver) Do(ctx context.Context, index int, step Step) (*InteractionResult, error) {
	switch step.Action {
	case ActionWait:
		timeout := d.timeout(step)
		if err := d.page.WaitSelector(ctx, step.Selector, timeout); err != nil {
			return nil, d.waitError(index, step, timeout, err)
		}
		return nil, nil

	case ActionFill:
		err := d.bounded(ctx, step, func(ctx context.Context) error {
			return d.page.Fill(ctx, step.Selector, step.Value)
		})
		return nil, d.waitError(index, step, d.timeout(step), err)

	case ActionClick:
		err := d.bounded(ctx, step, func(ctx context.Context) error {
			return d.page.Click(ctx, step.Selector)
		})
		return nil, d.waitError(index, step, d.timeout(step), err)

	case ActionSettle:
		t := time.NewTimer(step.Duration)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, d.wrap(index, step, ctx.Err())
		case <-t.C:
			return nil, nil
		}

	case ActionWaitText:
		timeout := d.timeout(step)
		err := d.page.Poll(ctx, waitTextExpr(step.Selector, step.Value, step.Pending), timeout, d.pollInterval)
		if err != nil {
			return nil, d.waitError(index, step, timeout, err)
		}
		return nil, nil

	case ActionText:
		var text string
		err := d.bounded(ctx, step, func(ctx context.Context) error {
			var err error
			text, err = d.page.TextContent(ctx, step.Selector)
			return err
		})
		if err != nil {
			return nil, d.waitError(index, step, d.timeout(step), err)
		}
		raw, err := json.Marshal(strings.TrimSpace(text))
		if err != nil {
			return nil, d.wrap(index, step, err)
		}
		return &InteractionResult{Name: step.Capture, Fields: []Field{{Value: raw}}}, nil

	case ActionCall:
		expr, err := callExpr(step)
		if err != nil {
			return nil, d.wrap(index, step, err)
		}
		res, err := d.evaluate(ctx, index, step, expr)
		if err != nil {
			return nil, err
		}
		if res.MissingModule() {
			return res, &MissingCapabilityError{Global: step.Global + "." + step.Function, Phase: PhaseCall}
		}
		return res, nil

	case ActionEvaluate:
		res, err := d.evaluate(ctx, index, step, step.Expr)
		if err != nil || step.Capture == "" {
			return nil, err
		}
		return res, nil
	}

	return nil, d.wrap(index, step, fmt.Errorf("unknown action %q", step.Action))
}

func (d *Driver) evaluate(ctx context.Context, index int, step Step, expr string) (*InteractionResult, error) {
	raw, err := d.page.Evaluate(ctx, expr)
	if err != nil {
		return nil, d.wrap(index, step, err)
	}
	d.logger.Debug("page evaluated", "step", index, "action", step.Action, "bytes", len(raw))
	res, err := decodeResult(step.Capture, raw)
	if err != nil {
		return nil, d.wrap(index, step, err)
	}
	return &res, nil
}

func (d *Driver) timeout(step Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return d.waitTimeout
}

// bounded runs fn under the step's timeout. Page queries retry until their
// node exists, so without a deadline a missing node would block forever.
func (d *Driver) bounded(ctx context.Context, step Step, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, d.timeout(step))
	defer cancel()
	return fn(stepCtx)
}

func (d *Driver) waitError(index int, step Step, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, browser.ErrWaitTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Step: index, Action: step.Action, Selector: step.Selector, Timeout: timeout, Err: err}
	}
	return d.wrap(index, step, err)
}

func (d *Driver) wrap(index int, step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: index, Action: step.Action, Err: err}
}

// waitTextExpr is truthy once selector has non-empty trimmed text that
// contains want and is not one of the pending placeholders.
func waitTextExpr(selector, want string, pending []string) string {
	if pending == nil {
		pending = []string{}
	}
	trimmed := make([]string, len(pending))
	for i, p := range pending {
		trimmed[i] = strings.TrimSpace(p)
	}
	sel, _ := json.Marshal(selector)
	val, _ := json.Marshal(want)
	wait, _ := json.Marshal(trimmed)
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  const text = el ? String(el.textContent || "").trim() : "";
  const pending = %s;
  return text !== "" && !pending.includes(text) && text.includes(%s);
})()`, sel, wait, val)
}

// callExpr builds an async expression that invokes
// window[global][function](...args) and returns the value under the result
// field followed by each collected expression. When the target is missing
// it returns {<field>: false, reason: "missing-module"} instead of throwing.
func callExpr(step Step) (string, error) {
	args := step.Args
	if args == nil {
		args = []any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}

	field := step.ResultField
	if field == "" {
		field = "ok"
	}
	quote := func(s string) string {
		raw, _ := json.Marshal(s)
		return string(raw)
	}

	var b strings.Builder
	b.WriteString("(async () => {\n")
	fmt.Fprintf(&b, "  const target = window[%s];\n", quote(step.Global))
	fmt.Fprintf(&b, "  if (!target || typeof target[%s] !== \"function\") {\n", quote(step.Function))
	fmt.Fprintf(&b, "    return { [%s]: false, reason: %s };\n", quote(field), quote(ReasonMissingModule))
	b.WriteString("  }\n")
	fmt.Fprintf(&b, "  const args = %s;\n", argsJSON)
	b.WriteString("  const out = {};\n")
	fmt.Fprintf(&b, "  out[%s] = await target[%s](...args);\n", quote(field), quote(step.Function))
	for _, c := range step.Collect {
		fmt.Fprintf(&b, "  out[%s] = await (%s);\n", quote(c.Field), strings.TrimSpace(c.Expr))
	}
	b.WriteString("  return out;\n")
	b.WriteString("})()")
	return b.String(), nil
}
