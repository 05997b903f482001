// Package errcode implements the five-class error taxonomy shared by the
// Manager and the Bridge: configuration, transport-transient, protocol,
// local-subsystem, and assertion errors. Callers branch on class with Of,
// not on the underlying error's type.
package errcode

// Code is a stable, log-facing error class identifier. It is a string
// newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// The five classes.
const (
	// ErrConfig: fatal at startup, exit 1 with a single human-readable line.
	ErrConfig Code = "config"
	// ErrTransportTransient: logged, recovered by the reconnect loop.
	ErrTransportTransient Code = "transport_transient"
	// ErrProtocol: dropped with a single WARN log line, counted where applicable.
	ErrProtocol Code = "protocol"
	// ErrLocalSubsystem: fatal at startup only; runtime failures are swallowed.
	ErrLocalSubsystem Code = "local_subsystem"
	// ErrAssertion: internal invariant violation, silently ignored.
	ErrAssertion Code = "assertion"

	// Error is the generic fallback for errors with no declared class.
	Error Code = "error"
	// OK is returned by Of(nil).
	OK Code = "ok"
)

// E wraps an underlying error with a class, an operation name, and an
// optional human message.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, walking Unwrap chains, and defaults to
// Error when nothing in the chain declares a class.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	for err != nil {
		if c, ok := err.(Code); ok {
			return c
		}
		type coder interface{ Code() Code }
		if x, ok := err.(coder); ok {
			return x.Code()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Error
}

// Fatal reports whether a class is fatal at startup (exit 1).
func Fatal(c Code) bool {
	return c == ErrConfig || c == ErrLocalSubsystem
}
