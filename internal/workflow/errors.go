package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the engine can return.
type ErrorKind string

const (
	KindUnauthenticated   ErrorKind = "unauthenticated"
	KindNotFound          ErrorKind = "not_found"
	KindIllegalTransition ErrorKind = "illegal_transition"
	KindForbiddenScope    ErrorKind = "forbidden_scope"
	KindTerminalState     ErrorKind = "terminal_state"
	KindStaleVersion      ErrorKind = "stale_version"
	KindStoreUnavailable  ErrorKind = "store_unavailable"
	KindAbandoned         ErrorKind = "abandoned" // caller's context ended before the write
)

var (
	ErrUnauthenticated   = errors.New("workflow: unauthenticated")
	ErrNotFound          = errors.New("workflow: request not found")
	ErrIllegalTransition = errors.New("workflow: illegal transition")
	ErrForbiddenScope    = errors.New("workflow: forbidden scope")
	ErrTerminalState     = errors.New("workflow: request is in a terminal state")
	ErrStaleVersion      = errors.New("workflow: stale version")
	ErrStoreUnavailable  = errors.New("workflow: store unavailable")
	ErrAbandoned         = errors.New("workflow: call abandoned before write")
)

var kindSentinels = map[ErrorKind]error{
	KindUnauthenticated:   ErrUnauthenticated,
	KindNotFound:          ErrNotFound,
	KindIllegalTransition: ErrIllegalTransition,
	KindForbiddenScope:    ErrForbiddenScope,
	KindTerminalState:     ErrTerminalState,
	KindStaleVersion:      ErrStaleVersion,
	KindStoreUnavailable:  ErrStoreUnavailable,
	KindAbandoned:         ErrAbandoned,
}

// Errors a RequestStore implementation returns to signal contract outcomes.
var (
	ErrRequestNotFound = errors.New("store: request not found")
	ErrVersionMismatch = errors.New("store: version mismatch")
)

// TransitionError describes why an operation on a request was refused.
// errors.Is matches both the kind sentinel and the wrapped cause.
type TransitionError struct {
	Kind      ErrorKind
	RequestID string
	From      Status
	To        Status
	Role      Role
	Err       error
}

func (e *TransitionError) Error() string {
	msg := string(e.Kind)
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s: request %s", msg, e.RequestID)
	}
	if e.From != "" || e.To != "" {
		msg = fmt.Sprintf("%s (%s -> %s", msg, e.From, e.To)
		if e.Role != "" {
			msg = fmt.Sprintf("%s as %s", msg, e.Role)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TransitionError) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf extracts the kind of a workflow error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

func newError(kind ErrorKind, req *ExpenseRequest, to Status, role Role, cause error) *TransitionError {
	te := &TransitionError{Kind: kind, To: to, Role: role, Err: cause}
	if req != nil {
		te.RequestID = req.ID
		te.From = req.Status
	}
	return te
}

// NewError builds a workflow error for callers outside the engine, such as
// the CRUD plumbing that shares the same error model.
func NewError(kind ErrorKind, requestID string, cause error) *TransitionError {
	return &TransitionError{Kind: kind, RequestID: requestID, Err: cause}
}
