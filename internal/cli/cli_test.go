package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"

	"github.com/roach88/pageharness/internal/harness"
	"github.com/roach88/pageharness/internal/testutil"
)

var (
	testRoot      = filepath.Join("testdata", "root")
	testScenarios = filepath.Join("testdata", "scenarios")
)

type fakeSession struct {
	*testutil.FakePage
	release func()
}

func (s fakeSession) Release() { s.release() }

// fakeLauncher hands out pages that model testdata/root/app.js and counts
// released sessions.
type fakeLauncher struct {
	mu       sync.Mutex
	launched int
	released int
	err      error
}

func (l *fakeLauncher) launch(context.Context) (harness.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.launched++

	page := testutil.NewFakePage()
	page.OnScript("window.App = ", func() {
		page.DefineGlobal("App")
		page.SetText("#out", "ready")
	})
	return fakeSession{FakePage: page, release: func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}}, nil
}

func execute(opts *RootOptions, args ...string) (string, string, error) {
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func withLauncher(l *fakeLauncher) *RootOptions {
	return &RootOptions{Launch: l.launch}
}
