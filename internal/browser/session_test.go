package browser

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatConsoleArgs_Primitives(t *testing.T) {
	args := []*runtime.RemoteObject{
		{Type: runtime.TypeString, Value: []byte(`"[reskin] rows"`)},
		{Type: runtime.TypeNumber, Value: []byte(`42`)},
		{Type: runtime.TypeBoolean, Value: []byte(`true`)},
	}

	assert.Equal(t, "[reskin] rows 42 true", FormatConsoleArgs(args))
}

func TestFormatConsoleArgs_ObjectsFallBackToDescription(t *testing.T) {
	args := []*runtime.RemoteObject{
		{Type: runtime.TypeString, Value: []byte(`"state"`)},
		{Type: runtime.TypeObject, Description: "Object"},
		{Type: runtime.TypeNumber, UnserializableValue: "NaN"},
		{Type: runtime.TypeUndefined},
		nil,
	}

	assert.Equal(t, "state Object NaN undefined", FormatConsoleArgs(args))
}

func TestHandleEvent_TagsSeverity(t *testing.T) {
	var buf bytes.Buffer
	s := &Session{console: &lineWriter{w: &buf}}

	s.handleEvent(&runtime.EventConsoleAPICalled{
		Type: runtime.APITypeWarning,
		Args: []*runtime.RemoteObject{{Type: runtime.TypeString, Value: []byte(`"careful"`)}},
	})
	s.handleEvent(&runtime.EventExceptionThrown{
		ExceptionDetails: &runtime.ExceptionDetails{
			Text:      "Uncaught",
			Exception: &runtime.RemoteObject{Description: "TypeError: x is undefined"},
		},
	})
	s.handleEvent("ignored")

	assert.Equal(t, "CONSOLE[warning] careful\nCONSOLE[exception] TypeError: x is undefined\n", buf.String())
}

func TestLineWriter_NilWriterDiscards(t *testing.T) {
	l := &lineWriter{}
	assert.NotPanics(t, func() { l.Printf("CONSOLE[%s] %s", "log", "x") })
}

func TestAcquire_MissingExecutableIsLaunchError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := Acquire(ctx, Options{
		ExecPath: filepath.Join(t.TempDir(), "no-such-chrome"),
		Headless: true,
	})
	require.Error(t, err)
	assert.Nil(t, sess)

	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr))
	assert.Contains(t, err.Error(), "launch browser")
}
