// Package merr defines the error kinds of the chat engine.
//
// Every error carries a kind. The kind decides how the engine reacts:
// protocol, authentication, authorization and invalid-state errors are
// answered on the wire and the connection stays open; transport errors end
// the session they occurred on; persistence errors are logged and swallowed.
package merr

import (
	stderrors "errors"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Kind classifies an error.
type Kind int32

const (
	KindUnknown Kind = iota
	KindProtocol
	KindAuthentication
	KindAuthorization
	KindInvalidState
	KindTransport
	KindPersistence
)

var kindName = map[Kind]string{
	KindUnknown:        "unknown",
	KindProtocol:       "protocol",
	KindAuthentication: "authentication",
	KindAuthorization:  "authorization",
	KindInvalidState:   "invalid_state",
	KindTransport:      "transport",
	KindPersistence:    "persistence",
}

func (k Kind) String() string {
	return kindName[k]
}

var (
	ErrProtocol       = newChatError("invalid message format", 100, KindProtocol)
	ErrUnknownType    = newChatError("unknown message type", 101, KindProtocol)
	ErrMissingField   = newChatError("missing required field", 102, KindProtocol)
	ErrRateLimited    = newChatError("rate limit exceeded", 103, KindProtocol)
	ErrAuthentication = newChatError("authentication failed", 200, KindAuthentication)
	ErrTokenRequired  = newChatError("token required", 201, KindAuthentication)
	ErrAuthorization  = newChatError("access denied", 300, KindAuthorization)
	ErrInvalidState   = newChatError("action not allowed in current state", 400, KindInvalidState)
	ErrNotInRoom      = newChatError("not in a room", 401, KindInvalidState)
	ErrTransport      = newChatError("transport failure", 500, KindTransport)
	ErrSessionClosed  = newChatError("session closed", 501, KindTransport)
	ErrPersistence    = newChatError("persistence failure", 600, KindPersistence)
	ErrStoreClosed    = newChatError("store closed", 601, KindPersistence)
	ErrDuplicate      = newChatError("duplicate entry", 700, KindUnknown)
)

type chatError struct {
	msg  string
	code int32
	kind Kind
}

func newChatError(msg string, code int32, kind Kind) chatError {
	return chatError{msg: msg, code: code, kind: kind}
}

func (e chatError) Error() string {
	return e.msg
}

func (e chatError) Code() int32 {
	return e.code
}

func (e chatError) Is(err error) bool {
	cause, ok := errors.Cause(err).(chatError)
	return ok && cause.code == e.code
}

// KindOf returns the kind of the first chat error found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ke kindedError
	if stderrors.As(err, &ke) {
		return ke.sentinel.kind
	}
	var ce chatError
	if stderrors.As(err, &ce) {
		return ce.kind
	}
	return KindUnknown
}

// Code returns the code of err, or 0 when err is not a chat error.
func Code(err error) int32 {
	var ke kindedError
	if stderrors.As(err, &ke) {
		return ke.sentinel.code
	}
	var ce chatError
	if stderrors.As(err, &ce) {
		return ce.code
	}
	return 0
}

// Wrap attaches msg to a chat error so that errors.Is still matches it.
func Wrap(sentinel error, msg string) error {
	return errors.Wrap(sentinel, msg)
}

func Wrapf(sentinel error, format string, args ...any) error {
	return errors.Wrapf(sentinel, format, args...)
}

// kindedError classifies a foreign error under a chat error sentinel while
// keeping the original cause reachable.
type kindedError struct {
	sentinel chatError
	cause    error
}

func (e kindedError) Error() string {
	return e.cause.Error()
}

func (e kindedError) Unwrap() []error {
	return []error{e.sentinel, e.cause}
}

func (e kindedError) Is(target error) bool {
	return e.sentinel.Is(target)
}

func classify(err error, sentinel chatError, msg string) error {
	if err == nil {
		return nil
	}
	return kindedError{sentinel: sentinel, cause: errors.Wrap(err, msg)}
}

// WrapErrPersistence classifies err as a persistence failure in op.
func WrapErrPersistence(err error, op string) error {
	return classify(err, ErrPersistence, "store "+op)
}

// WrapErrTransport classifies err as a transport failure.
func WrapErrTransport(err error, msg string) error {
	return classify(err, ErrTransport, msg)
}

// WrapErrAuthentication classifies err as an authentication failure.
func WrapErrAuthentication(err error, msg string) error {
	return classify(err, ErrAuthentication, msg)
}

// IsKind reports whether err is classified as k.
// Is reports whether err matches target anywhere in its chain, including
// errors classified by the Wrap* helpers.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

// Combine joins the non-nil errors; it returns nil when none remain.
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return multiErrors{errs: errs}
}
