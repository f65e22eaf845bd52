package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed invocation.
type ErrorKind int

const (
	ScriptNotFound ErrorKind = iota + 1
	InterpreterNotFound
	SpawnFailure
	ProtocolError
	ModelError
	Timeout
	// Cancelled means the caller's context ended before a reply arrived.
	Cancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ScriptNotFound:
		return "script_not_found"
	case InterpreterNotFound:
		return "interpreter_not_found"
	case SpawnFailure:
		return "spawn_failure"
	case ProtocolError:
		return "protocol_error"
	case ModelError:
		return "model_error"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("error_kind(%d)", int(k))
}

// Error is the failure carried by a Failed result.
type Error struct {
	Kind    ErrorKind
	Message string
	// Stderr is the tail of the process's diagnostic stream. Advisory only.
	Stderr string
	// Tried lists every location checked when Kind is a locator failure.
	Tried []string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

// Is lets errors.Is match on kind: errors.Is(err, &Error{Kind: Timeout}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Detail returns the message followed by any diagnostics, for logs.
func (e *Error) Detail() string {
	var sb strings.Builder
	sb.WriteString(e.Error())
	if len(e.Tried) > 0 {
		sb.WriteString(" (tried: ")
		sb.WriteString(strings.Join(e.Tried, ", "))
		sb.WriteString(")")
	}
	if e.Stderr != "" {
		sb.WriteString("\nstderr: ")
		sb.WriteString(e.Stderr)
	}
	return sb.String()
}

// ResultKind tags which variant a Result holds.
type ResultKind int

const (
	OK ResultKind = iota + 1
	Suggestions
	Failed
)

func (k ResultKind) String() string {
	switch k {
	case OK:
		return "ok"
	case Suggestions:
		return "suggestions"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("result_kind(%d)", int(k))
}

// Result is the normalized outcome of one invocation. Exactly one of
// Payload, Items or Err is meaningful, selected by Kind.
type Result struct {
	Kind    ResultKind
	Payload string
	Items   []string
	Err     *Error
}

// OKResult builds an OK result.
func OKResult(payload string) Result {
	return Result{Kind: OK, Payload: payload}
}

// SuggestionsResult builds a Suggestions result.
func SuggestionsResult(items []string) Result {
	return Result{Kind: Suggestions, Items: items}
}

// FailedResult builds a Failed result.
func FailedResult(kind ErrorKind, format string, args ...any) Result {
	return Result{Kind: Failed, Err: &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// Failed reports whether r is a failure, and of which kind.
func (r Result) Failed() (ErrorKind, bool) {
	if r.Kind != Failed || r.Err == nil {
		return 0, false
	}
	return r.Err.Kind, true
}
