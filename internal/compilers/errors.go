package compilers

import (
	"errors"
	"strings"
)

// Common errors.
var (
	ErrVersionNotFound     = errors.New("compiler version not found")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrTimeout             = errors.New("compilation timed out")
	ErrInternal            = errors.New("internal compiler error")
	ErrInvalidInput        = errors.New("invalid compiler input")
)

// SourceLocation points into a source file.
type SourceLocation struct {
	File  string `json:"file"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Diagnostic is one entry of the compiler's errors list.
type Diagnostic struct {
	Severity         string          `json:"severity"`
	Type             string          `json:"type,omitempty"`
	Component        string          `json:"component,omitempty"`
	Message          string          `json:"message"`
	FormattedMessage string          `json:"formattedMessage,omitempty"`
	SourceLocation   *SourceLocation `json:"sourceLocation,omitempty"`
}

// Text returns the formatted message when present, the plain message otherwise.
func (d Diagnostic) Text() string {
	if d.FormattedMessage != "" {
		return d.FormattedMessage
	}
	return d.Message
}

// CompilationError means the compiler rejected the input. It is reported to
// callers verbatim.
type CompilationError struct {
	Diagnostics []Diagnostic
}

func (e *CompilationError) Error() string {
	return "compilation failed: " + strings.Join(e.Messages(), "; ")
}

// Messages returns the text of every diagnostic.
func (e *CompilationError) Messages() []string {
	msgs := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		msgs = append(msgs, strings.TrimSpace(d.Text()))
	}
	return msgs
}

func compilationErrorFromText(text string) *CompilationError {
	return &CompilationError{Diagnostics: []Diagnostic{{
		Severity: "error",
		Message:  strings.TrimSpace(text),
	}}}
}
