package refconf

import (
	"errors"
	"fmt"
	"strings"
)

// Diagnostic codes for reference-loading failures.
const (
	CodeMissingFile       DiagnosticCode = "missing_file"
	CodeMalformedDocument DiagnosticCode = "malformed_document"
	CodeUnreadableFile    DiagnosticCode = "unreadable_file"
	CodeModuleEvaluation  DiagnosticCode = "module_evaluation"
)

// ErrNoModuleEvaluator is returned when a module reference is loaded by a
// FormatLoader that has no ModuleEvaluator.
var ErrNoModuleEvaluator = errors.New("refconf: no module evaluator configured")

// MissingFileError reports a reference to a path that does not exist.
type MissingFileError struct {
	Path string // Absolute path that was probed
	Err  error
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("file %s not found", e.Path)
}

func (e *MissingFileError) Unwrap() error { return e.Err }

// UnreadableFileError reports a referenced path that exists but cannot be read,
// for example a directory or a file without read permission.
type UnreadableFileError struct {
	Path string
	Err  error
}

func (e *UnreadableFileError) Error() string {
	return fmt.Sprintf("read file %s: %v", e.Path, e.Err)
}

func (e *UnreadableFileError) Unwrap() error { return e.Err }

// MalformedDocumentError reports a YAML or JSON document that failed to parse.
type MalformedDocumentError struct {
	Path   string
	Format string // e.g. "yaml", "json"
	Err    error
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("file %s is not a valid %s document: %v", e.Path, strings.ToUpper(e.Format), e.Err)
}

func (e *MalformedDocumentError) Unwrap() error { return e.Err }

// ModuleEvaluationError reports a failure while evaluating an executable module reference.
type ModuleEvaluationError struct {
	Path string
	Err  error
}

func (e *ModuleEvaluationError) Error() string {
	return fmt.Sprintf("evaluate module %s: %v", e.Path, e.Err)
}

func (e *ModuleEvaluationError) Unwrap() error { return e.Err }

// ReferenceCycleError is returned when a reference chain leads back to a
// file that is still being resolved.
type ReferenceCycleError struct {
	Chain []string // Absolute paths, first to last; the last entry repeats an earlier one
}

func (e *ReferenceCycleError) Error() string {
	return "reference cycle: " + strings.Join(e.Chain, " -> ")
}

// diagnosticCode maps a loading error to its diagnostic code.
func diagnosticCode(err error) DiagnosticCode {
	var missing *MissingFileError
	var malformed *MalformedDocumentError
	var unreadable *UnreadableFileError
	switch {
	case errors.As(err, &missing):
		return CodeMissingFile
	case errors.As(err, &malformed):
		return CodeMalformedDocument
	case errors.As(err, &unreadable):
		return CodeUnreadableFile
	default:
		return CodeModuleEvaluation
	}
}
