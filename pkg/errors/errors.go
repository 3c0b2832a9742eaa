package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can tell a dropped connection from a
// malformed payload or a rejected job without string matching.
type Kind uint8

const (
	KindInternal Kind = iota
	KindTransport
	KindParse
	KindProtocol
	KindBundle
	KindTraining
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindParse:
		return "parse"
	case KindProtocol:
		return "protocol"
	case KindBundle:
		return "bundle"
	case KindTraining:
		return "training"
	default:
		return "internal"
	}
}

var (
	ErrMissingValue = errors.New("missing required value")
	ErrInvalidValue = errors.New("invalid value")
	ErrInvalidData  = errors.New("invalid data")
	ErrNotFound     = errors.New("entity not found")

	ErrServiceUnavailable  = New(KindProtocol, "health", "service is not serving")
	ErrJobNotApproved      = New(KindProtocol, "start task", "job was not approved")
	ErrSourceNotFound      = New(KindProtocol, "upload", "upload source does not exist")
	ErrTaskInactive        = New(KindProtocol, "get task", "task is not active")
	ErrNoDataSource        = New(KindInternal, "train", "no data source available for task")
	ErrModelNotInstalled   = New(KindBundle, "load model", "model is not installed")
	ErrNotTrainable        = New(KindBundle, "load model", "model does not support training")
	ErrPlaceholderMismatch = New(KindBundle, "load model", "task placeholder is not declared by the model")
)

// Error carries the kind of a failure, the operation that produced it and a
// human readable detail.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap tags err with a kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Op: op, Detail: err.Error(), Err: err}
}

// Wrapf is Wrap with a formatted detail replacing the wrapped error's text.
func Wrapf(kind Kind, op string, err error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Detail != e.Err.Error() {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel *Error values by kind, op and detail so that a wrapped
// copy of a sentinel still satisfies errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind && e.Op == t.Op && e.Detail == t.Detail
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// DeserializationError reports a missing or mistyped field in a decoded entity.
func DeserializationError(entity, field, problem string) error {
	return &Error{
		Kind:   KindParse,
		Op:     "decode " + entity,
		Detail: fmt.Sprintf("field %q: %s", field, problem),
	}
}

// TransportError reports a request that failed before or during the exchange,
// or returned a non-2xx status.
func TransportError(op string, status int, err error) error {
	if err != nil {
		return &Error{Kind: KindTransport, Op: op, Detail: err.Error(), Err: err}
	}

	return &Error{Kind: KindTransport, Op: op, Detail: fmt.Sprintf("unexpected status %d", status)}
}

const maxExcerpt = 256

// StatusError reports a non-2xx response, keeping a bounded excerpt of the
// body for diagnostics.
func StatusError(op string, status int, body []byte) error {
	excerpt := strings.TrimSpace(string(body))
	if len(excerpt) > maxExcerpt {
		excerpt = excerpt[:maxExcerpt] + "..."
	}
	detail := fmt.Sprintf("unexpected status %d", status)
	if excerpt != "" {
		detail += ": " + excerpt
	}

	return &Error{Kind: KindTransport, Op: op, Detail: detail}
}
