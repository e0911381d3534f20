// Package nmerr classifies the errors this daemon can produce so the D-Bus
// layer can translate them into the right fdo error name without every call
// site re-deriving that mapping.
package nmerr

import "fmt"

// Kind is one of the error categories from spec.md §7.
type Kind int

const (
	// Transport covers D-Bus send/receive or object-server failures.
	Transport Kind = iota
	// Kernel covers rtnetlink request failures.
	Kernel
	// IO covers filesystem read failures (resolv.conf, hostname).
	IO
	// NotFound covers a client referencing an object this daemon doesn't know
	// about; surfaced on the bus as UnknownObject.
	NotFound
	// Permission covers the kernel refusing an admin up/down change;
	// surfaced on the bus as Failed with the kernel's message.
	Permission
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Kernel:
		return "kernel"
	case IO:
		return "io"
	case NotFound:
		return "not found"
	case Permission:
		return "permission"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can classify it
// with errors.As without string-matching messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for the given kind and operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFoundf builds a NotFound error with a formatted message and no
// underlying cause, for the common "no such object" case.
func NotFoundf(op, format string, args ...any) *Error {
	return &Error{Kind: NotFound, Op: op, Err: fmt.Errorf(format, args...)}
}
