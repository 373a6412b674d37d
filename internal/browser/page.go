package browser

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned (wrapped) when a bounded wait expires before the
// expected DOM state appears.
var ErrWaitTimeout = errors.New("wait timed out")

// Page is the set of operations the harness performs against a loaded page.
// Every method blocks until the browser has finished the operation.
type Page interface {
	// Navigate loads url and returns after the load event fired.
	Navigate(ctx context.Context, url string) error

	// AddScript evaluates source in the page's global scope.
	AddScript(ctx context.Context, source string) error

	// WaitSelector blocks until selector matches a node or timeout elapses.
	WaitSelector(ctx context.Context, selector string, timeout time.Duration) error

	// Fill replaces the value of the input matched by selector.
	Fill(ctx context.Context, selector, value string) error

	// Click clicks the first node matched by selector.
	Click(ctx context.Context, selector string) error

	// TextContent returns the textContent of the first node matched by selector.
	TextContent(ctx context.Context, selector string) (string, error)

	// Evaluate runs expr, awaits a returned promise and returns the result
	// as raw JSON. An undefined result yields nil.
	Evaluate(ctx context.Context, expr string) ([]byte, error)

	// Poll re-evaluates expr every interval until it is truthy or timeout
	// elapses.
	Poll(ctx context.Context, expr string, timeout, interval time.Duration) error
}
