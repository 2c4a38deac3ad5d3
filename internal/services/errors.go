package services

import (
	"errors"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Kind classifies a failure by the marker it was wrapped with.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindTimeout       Kind = "timeout"
	KindTransient     Kind = "transient"
	KindUnknown       Kind = "unknown"
)

// Error carries stage context for a failure together with its marker.
type Error struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Marker.Error())
	b.WriteString(": ")
	b.WriteString(buildDetail(e.Stage, e.Operation, e.Message))
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &Error{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the flattened view of a failure used for logs and the
// message persisted with an error status.
type ErrorDetails struct {
	Kind      Kind
	Stage     string
	Operation string
	Message   string
	Cause     error
}

// Details extracts classification and context from err. Errors that were
// not produced by Wrap report KindUnknown (or the kind of a sentinel they
// wrap) and use the error text as the message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindUnknown}
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		message := svcErr.Message
		if message == "" {
			message = err.Error()
		}
		return ErrorDetails{
			Kind:      kindOf(svcErr.Marker),
			Stage:     svcErr.Stage,
			Operation: svcErr.Operation,
			Message:   message,
			Cause:     svcErr.Cause,
		}
	}
	return ErrorDetails{Kind: kindOf(err), Message: strings.TrimSpace(err.Error())}
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, stage)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
