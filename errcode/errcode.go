package errcode

import "errors"

// Code is a stable, log- and bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Taxonomy roots.
	IO        Code = "io_error"
	Transport Code = "transport_error"
	Config    Code = "config_error"

	// Refinements.
	NotConnected Code = "not_connected"
	Rejected     Code = "rejected"
	Timeout      Code = "timeout"
	BacklogFull  Code = "backlog_full"
	Unsupported  Code = "unsupported"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.IO) match a wrapped E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && (c == e.C || Parent(e.C) == c)
}

// Wrap returns nil for a nil cause, otherwise an *E.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// New builds an *E without a cause.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Of extracts a Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// Parent maps a refinement onto its taxonomy root.
func Parent(c Code) Code {
	switch c {
	case NotConnected, Rejected, Timeout:
		return Transport
	case BacklogFull:
		return IO
	default:
		return c
	}
}
