package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Stable error codes surfaced by provisioning.
const (
	CodeConfiguration = "provision.configuration"
	CodeOrdering      = "provision.ordering"
	CodePlatform      = "provision.platform"
)

// Error is a coded provisioning failure.
//
// Route and Step are optional context recorded by the orchestrator when a
// failure happens while expanding a specific route.
type Error struct {
	Code    string
	Message string
	Route   string
	Step    string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	if e.Route != "" {
		b.WriteString("route ")
		b.WriteString(e.Route)
		if e.Step != "" {
			b.WriteString(" (")
			b.WriteString(e.Step)
			b.WriteString(")")
		}
		b.WriteString(": ")
	} else if e.Step != "" {
		b.WriteString(e.Step)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so callers can test against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Route == "" && t.Step == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrConfiguration = &Error{Code: CodeConfiguration}
	ErrOrdering      = &Error{Code: CodeOrdering}
	ErrPlatform      = &Error{Code: CodePlatform}
)

func Configuration(format string, args ...any) *Error {
	return &Error{Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

func Ordering(format string, args ...any) *Error {
	return &Error{Code: CodeOrdering, Message: fmt.Sprintf(format, args...)}
}

// Platform wraps a capability failure. Already-coded errors pass through
// unchanged so a rejection is never reported twice.
func Platform(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if stderrors.As(err, &coded) {
		return err
	}
	return &Error{Code: CodePlatform, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithRoute returns err annotated with the route and step that produced it.
// Uncoded errors are treated as platform failures.
func WithRoute(err error, route, step string) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if !stderrors.As(err, &coded) {
		return &Error{Code: CodePlatform, Message: "operation failed", Route: route, Step: step, Err: err}
	}
	next := *coded
	if next.Route == "" {
		next.Route = route
	}
	if next.Step == "" {
		next.Step = step
	}
	return &next
}

// WithStep annotates err with the step that produced it, for failures that
// are not tied to a route (storage, API surface).
func WithStep(err error, step string) error {
	return WithRoute(err, "", step)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

func IsConfiguration(err error) bool { return CodeOf(err) == CodeConfiguration }
func IsOrdering(err error) bool      { return CodeOf(err) == CodeOrdering }
func IsPlatform(err error) bool      { return CodeOf(err) == CodePlatform }
