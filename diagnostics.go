package refconf

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// DiagnosticCode classifies a recovered loading failure.
type DiagnosticCode string

// Diagnostic describes a reference that could not be loaded and was replaced
// by an empty mapping.
type Diagnostic struct {
	Code      DiagnosticCode
	Path      string // Absolute path of the referenced file
	Reference string // Reference text as written, without the marker
	Err       error
}

// String formats the diagnostic as a single human-readable line.
func (d Diagnostic) String() string {
	switch d.Code {
	case CodeMissingFile:
		return fmt.Sprintf("file %s at full path %s not found, skipped", d.Reference, d.Path)
	case CodeMalformedDocument:
		return fmt.Sprintf("file at full path %s is not a valid document, skipped: %v", d.Path, d.Err)
	case CodeUnreadableFile:
		return fmt.Sprintf("file at full path %s cannot be read, skipped: %v", d.Path, d.Err)
	default:
		return fmt.Sprintf("module at full path %s failed to evaluate, skipped: %v", d.Path, d.Err)
	}
}

// DiagnosticSink receives diagnostics emitted during resolution.
type DiagnosticSink interface {
	Report(d Diagnostic)
}

// DiagnosticFunc is a function adapter for DiagnosticSink.
type DiagnosticFunc func(d Diagnostic)

func (f DiagnosticFunc) Report(d Diagnostic) {
	f(d)
}

// DiagnosticCollector records diagnostics in memory. Not safe for concurrent use.
type DiagnosticCollector struct {
	Diagnostics []Diagnostic
}

func (c *DiagnosticCollector) Report(d Diagnostic) {
	c.Diagnostics = append(c.Diagnostics, d)
}

type logSink struct {
	logger zerolog.Logger
}

// LogSink returns a sink that writes each diagnostic as a warning.
func LogSink(logger zerolog.Logger) DiagnosticSink {
	return logSink{logger: logger}
}

func (s logSink) Report(d Diagnostic) {
	s.logger.Warn().
		Str("code", string(d.Code)).
		Str("path", d.Path).
		Str("reference", d.Reference).
		Err(d.Err).
		Msg(d.String())
}

// DefaultDiagnostics returns the sink used when none is configured: zerolog
// warnings on stderr.
func DefaultDiagnostics() DiagnosticSink {
	return LogSink(zerolog.New(os.Stderr).With().Timestamp().Str("component", "refconf").Logger())
}
