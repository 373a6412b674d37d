// Package browser owns the headless Chrome lifecycle for a single scenario.
//
// A Session pairs one Chrome process (the chromedp allocator) with one tab.
// Sessions are acquired at the start of a scenario and released on every
// exit path:
//
//	sess, err := browser.Acquire(ctx, opts)
//	if err != nil {
//	    return err // *LaunchError, never retried
//	}
//	defer sess.Release()
//
// Console output of the page is forwarded to Options.Console, one line per
// message, tagged with the console API type:
//
//	CONSOLE[warning] [reskin] rows not found
//
// The Page interface is the capability surface the harness drives. Session
// implements it against the DevTools protocol; tests substitute
// testutil.FakePage.
package browser
