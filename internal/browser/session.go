package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"

	"github.com/roach88/pageharness/internal/logging"
)

// Options configures Chrome for a Session.
type Options struct {
	// ExecPath overrides Chrome discovery. Empty uses chromedp's lookup.
	ExecPath string

	// Headless runs Chrome without a window. The harness always sets it
	// outside of local debugging.
	Headless bool

	WindowWidth  int
	WindowHeight int

	// Console receives forwarded console lines. Nil discards them.
	Console io.Writer

	// Logger receives lifecycle records. Nil uses a discarding logger.
	Logger *log.Logger
}

// LaunchError reports that Chrome could not be started. It signals a broken
// environment, so callers abort the scenario instead of retrying.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch browser: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Session is one Chrome process with one tab. It implements Page.
type Session struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *log.Logger
	console     *lineWriter
	once        sync.Once
}

var _ Page = (*Session)(nil)

// Acquire starts Chrome and opens a tab. The returned Session must be
// released by the caller.
func Acquire(ctx context.Context, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		// file:// fixtures load sibling resources
		chromedp.Flag("allow-file-access-from-files", true),
	)
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...), "source", "chromedp")
		}),
	)

	s := &Session{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
		console:     &lineWriter{w: opts.Console},
	}

	chromedp.ListenTarget(tabCtx, s.handleEvent)

	// Run with no actions starts the process and attaches to the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		s.Release()
		return nil, &LaunchError{Err: err}
	}

	logger.Debug("browser session acquired", "headless", opts.Headless)
	return s, nil
}

// Release closes the tab and the Chrome process. Safe to call more than once.
func (s *Session) Release() {
	s.once.Do(func() {
		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("browser cancel returned error", "err", err)
		}
		s.cancelTab()
		s.cancelAlloc()
		s.logger.Debug("browser session released")
	})
}

// run executes actions against the tab. Deadlines from ctx apply; cancellation
// of the tab itself is owned by Release.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := mergeDeadline(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate implements Page.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// AddScript implements Page.
func (s *Session) AddScript(ctx context.Context, source string) error {
	if err := s.run(ctx, chromedp.Evaluate(source, nil)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

// WaitSelector implements Page.
func (s *Session) WaitSelector(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.run(waitCtx, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("selector %q after %s: %w", selector, timeout, ErrWaitTimeout)
	}
	return fmt.Errorf("wait for %q: %w", selector, err)
}

// Fill implements Page.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	err := s.run(ctx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

// Click implements Page.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// TextContent implements Page.
func (s *Session) TextContent(ctx context.Context, selector string) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.TextContent(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("text of %q: %w", selector, err)
	}
	return text, nil
}

// Evaluate implements Page.
func (s *Session) Evaluate(ctx context.Context, expr string) ([]byte, error) {
	var raw []byte
	err := s.run(ctx, chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return raw, nil
}

// Poll implements Page.
func (s *Session) Poll(ctx context.Context, expr string, timeout, interval time.Duration) error {
	var ok bool
	err := s.run(ctx, chromedp.Poll(expr, &ok,
		chromedp.WithPollingTimeout(timeout),
		chromedp.WithPollingInterval(interval),
	))
	if err == nil {
		return nil
	}
	if errors.Is(err, chromedp.ErrPollingTimeout) {
		return fmt.Errorf("condition %q after %s: %w", expr, timeout, ErrWaitTimeout)
	}
	return fmt.Errorf("poll: %w", err)
}

func (s *Session) handleEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		s.console.Printf("CONSOLE[%s] %s", e.Type, FormatConsoleArgs(e.Args))
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails == nil {
			return
		}
		text := e.ExceptionDetails.Text
		if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
			text = e.ExceptionDetails.Exception.Description
		}
		s.console.Printf("CONSOLE[exception] %s", text)
	}
}

// FormatConsoleArgs renders console call arguments the way DevTools shows
// them: strings unquoted, primitives as JSON, objects by description.
func FormatConsoleArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		switch {
		case len(arg.Value) > 0:
			parts = append(parts, gjson.ParseBytes([]byte(arg.Value)).String())
		case arg.UnserializableValue != "":
			parts = append(parts, string(arg.UnserializableValue))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		default:
			parts = append(parts, string(arg.Type))
		}
	}
	return strings.Join(parts, " ")
}

// mergeDeadline derives a context from the tab context that also honors the
// deadline and cancellation of ctx.
func mergeDeadline(tab, ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(tab)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		merged, cancelDeadline = context.WithDeadline(merged, deadline)
		prev := cancel
		cancel = func() {
			cancelDeadline()
			prev()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// lineWriter serializes console lines; chromedp delivers events on its own
// goroutine while the harness writes results on the caller's.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) Printf(format string, args ...any) {
	if l.w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format+"\n", args...)
}
