package calicodb

import "fmt"

// Kind classifies a Status without tying it to a specific message, so
// callers can branch on the kind of failure rather than string-match.
type Kind int

const (
	// KindOk is the zero Kind: success.
	KindOk Kind = iota
	KindNotFound
	KindInvalidArgument
	KindLogicError
	KindCorruption
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindNotFound:
		return "not found"
	case KindInvalidArgument:
		return "invalid argument"
	case KindLogicError:
		return "logic error"
	case KindCorruption:
		return "corruption"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Status is the sum-type result carried across the public API: a Kind
// plus, for anything other than KindOk, a human-readable message. The
// zero Status is success.
type Status struct {
	Kind    Kind
	Message string
}

// Ok is the zero Status, returned by operations that succeeded.
var Ok = Status{}

func newStatus(kind Kind, format string, args ...any) Status {
	return Status{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) Status      { return newStatus(KindNotFound, format, args...) }
func invalidArgument(format string, args ...any) Status {
	return newStatus(KindInvalidArgument, format, args...)
}
func logicError(format string, args ...any) Status { return newStatus(KindLogicError, format, args...) }
func corruption(format string, args ...any) Status  { return newStatus(KindCorruption, format, args...) }
func system(format string, args ...any) Status      { return newStatus(KindSystem, format, args...) }

// fromError wraps a plain Go error (from the pager/wal/storage/tree
// layers) as a System status, unless it already names a more specific
// condition the caller should have special-cased (e.g. tree.ErrNotFound).
func fromError(err error) Status {
	if err == nil {
		return Ok
	}
	return system("%v", err)
}

// IsOk reports whether the status represents success.
func (s Status) IsOk() bool { return s.Kind == KindOk }

// Error implements the error interface so Status can be used with
// stdlib-style code (errors.Is, %w wrapping) while still being a plain
// value at the API boundary.
func (s Status) Error() string {
	if s.IsOk() {
		return "ok"
	}
	if s.Message == "" {
		return s.Kind.String()
	}
	return fmt.Sprintf("%s: %s", s.Kind, s.Message)
}
