// Package testutil provides a scripted page double for harness tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/roach88/pageharness/internal/browser"
)

// globalCheck matches the existence probe the script loader evaluates.
var globalCheck = regexp.MustCompile(`^typeof window\[("(?:[^"\\]|\\.)*")\] !== "undefined"$`)

type evalHandler struct {
	match string
	fn    func(expr string) (any, error)
}

type hook struct {
	match string
	fn    func()
}

// FakePage implements browser.Page against an in-memory DOM model.
//
// Selectors, text and globals are declared up front or by hooks that fire
// when a script is added or a control is clicked. Evaluate answers from
// handlers registered by substring; the most recent matching handler wins.
// Waits that can never succeed block for their full timeout, so tests can
// observe the bound. Node queries block until ctx ends.
//
// Thread-safety: all methods are safe for concurrent use.
type FakePage struct {
	mu sync.Mutex

	selectors map[string]bool
	texts     map[string]string
	values    map[string]string
	globals   map[string]bool
	handlers  []evalHandler
	onScript  []hook
	onClick   map[string][]func()

	navigations []string
	scripts     []string
	evaluations []string
	clicks      []string

	// FailNavigate makes Navigate return this error.
	FailNavigate error
}

var _ browser.Page = (*FakePage)(nil)

// NewFakePage returns an empty page.
func NewFakePage() *FakePage {
	return &FakePage{
		selectors: make(map[string]bool),
		texts:     make(map[string]string),
		values:    make(map[string]string),
		globals:   make(map[string]bool),
		onClick:   make(map[string][]func()),
	}
}

// AddSelector makes selector match.
func (p *FakePage) AddSelector(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selectors[selector] = true
}

// SetText makes selector match and sets its text content.
func (p *FakePage) SetText(selector, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selectors[selector] = true
	p.texts[selector] = text
}

// DefineGlobal makes window[name] defined.
func (p *FakePage) DefineGlobal(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globals[name] = true
}

// HandleEvaluate answers expressions containing match. fn's result is
// encoded as JSON unless it already is json.RawMessage.
func (p *FakePage) HandleEvaluate(match string, fn func(expr string) (any, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, evalHandler{match: match, fn: fn})
}

// OnScript runs fn after a script containing match is added.
func (p *FakePage) OnScript(match string, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onScript = append(p.onScript, hook{match: match, fn: fn})
}

// OnClick runs fn after selector is clicked.
func (p *FakePage) OnClick(selector string, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick[selector] = append(p.onClick[selector], fn)
}

// Value returns the last value filled into selector.
func (p *FakePage) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[selector]
}

// Navigations returns every URL navigated to.
func (p *FakePage) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Scripts returns every added script source in order.
func (p *FakePage) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

// Evaluations returns every evaluated or polled expression in order.
func (p *FakePage) Evaluations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evaluations...)
}

// Clicks returns every clicked selector in order.
func (p *FakePage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNavigate != nil {
		return p.FailNavigate
	}
	p.navigations = append(p.navigations, url)
	return nil
}

func (p *FakePage) AddScript(ctx context.Context, source string) error {
	p.mu.Lock()
	p.scripts = append(p.scripts, source)
	var fire []func()
	for _, h := range p.onScript {
		if strings.Contains(source, h.match) {
			fire = append(fire, h.fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
	return nil
}

func (p *FakePage) WaitSelector(ctx context.Context, selector string, timeout time.Duration) error {
	ok := func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.selectors[selector]
	}
	if !p.waitUntil(ctx, ok, timeout, time.Millisecond) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("wait for %q: %w", selector, err)
		}
		return fmt.Errorf("selector %q after %s: %w", selector, timeout, browser.ErrWaitTimeout)
	}
	return nil
}

// Fill retries until the node exists or ctx ends, the way chromedp query
// actions do. Click and TextContent behave the same; none of them time out
// on their own.
func (p *FakePage) Fill(ctx context.Context, selector, value string) error {
	if err := p.awaitNode(ctx, selector); err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[selector] = value
	return nil
}

func (p *FakePage) Click(ctx context.Context, selector string) error {
	if err := p.awaitNode(ctx, selector); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	fire := append([]func(){}, p.onClick[selector]...)
	p.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
	return nil
}

func (p *FakePage) TextContent(ctx context.Context, selector string) (string, error) {
	if err := p.awaitNode(ctx, selector); err != nil {
		return "", fmt.Errorf("text of %q: %w", selector, err)
	}
	text, _ := p.Text(selector)
	return text, nil
}

// Text returns the text of selector without waiting. ok is false when the
// selector does not match. Evaluate handlers use it to model page reads.
func (p *FakePage) Text(selector string) (text string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.selectors[selector] {
		return "", false
	}
	return p.texts[selector], true
}

func (p *FakePage) awaitNode(ctx context.Context, selector string) error {
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		p.mu.Lock()
		found := p.selectors[selector]
		p.mu.Unlock()
		if found {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (p *FakePage) Evaluate(ctx context.Context, expr string) ([]byte, error) {
	p.mu.Lock()
	p.evaluations = append(p.evaluations, expr)
	p.mu.Unlock()
	return p.answer(expr)
}

func (p *FakePage) Poll(ctx context.Context, expr string, timeout, interval time.Duration) error {
	p.mu.Lock()
	p.evaluations = append(p.evaluations, expr)
	p.mu.Unlock()

	ok := func() bool {
		raw, err := p.answer(expr)
		return err == nil && truthy(raw)
	}
	if !p.waitUntil(ctx, ok, timeout, interval) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		return fmt.Errorf("condition %q after %s: %w", expr, timeout, browser.ErrWaitTimeout)
	}
	return nil
}

func (p *FakePage) answer(expr string) ([]byte, error) {
	p.mu.Lock()
	var handler *evalHandler
	for i := len(p.handlers) - 1; i >= 0; i-- {
		if strings.Contains(expr, p.handlers[i].match) {
			handler = &p.handlers[i]
			break
		}
	}
	var global string
	if m := globalCheck.FindStringSubmatch(expr); m != nil {
		_ = json.Unmarshal([]byte(m[1]), &global)
	}
	defined := p.globals[global]
	p.mu.Unlock()

	if handler != nil {
		v, err := handler.fn(expr)
		if err != nil {
			return nil, err
		}
		if raw, ok := v.(json.RawMessage); ok {
			return raw, nil
		}
		return json.Marshal(v)
	}
	if global != "" {
		return json.Marshal(defined)
	}
	return nil, nil
}

// waitUntil checks cond every interval until it holds, timeout elapses or
// ctx ends.
func (p *FakePage) waitUntil(ctx context.Context, cond func() bool, timeout, interval time.Duration) bool {
	if cond() {
		return true
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return cond()
		case <-tick.C:
			if cond() {
				return true
			}
		}
	}
}

func truthy(raw []byte) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "false", "0", `""`:
		return false
	}
	return true
}
