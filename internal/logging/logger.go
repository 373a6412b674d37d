// Package logging builds the structured logger shared by the CLI and the
// harness.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options configures logger creation.
type Options struct {
	// Format is FormatText or FormatJSON. Empty means text.
	Format string
	// Verbose lowers the level to debug.
	Verbose bool
	// RunID tags every record. Empty generates one.
	RunID string
}

// Logger couples a charmbracelet logger with the run it belongs to.
type Logger struct {
	*log.Logger
	runID string
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) (*Logger, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = FormatText
	}

	level := log.InfoLevel
	if opts.Verbose {
		level = log.DebugLevel
	}

	base := log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	switch format {
	case FormatText:
		base.SetFormatter(log.TextFormatter)
	case FormatJSON:
		base.SetFormatter(log.JSONFormatter)
	default:
		return nil, fmt.Errorf("unknown log format %q (want %s or %s)", opts.Format, FormatText, FormatJSON)
	}

	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		var err error
		if runID, err = NewRunID(); err != nil {
			return nil, err
		}
	}

	return &Logger{Logger: base.With("run_id", runID), runID: runID}, nil
}

// RunID returns the identifier attached to every record.
func (l *Logger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// NewRunID returns a time-ordered run identifier.
func NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// Discard returns a logger that drops every record.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
