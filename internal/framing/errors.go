package framing

import (
	"errors"
	"fmt"
)

// ReplyCode is an AMQP 0-10 execution error code carried on session close.
type ReplyCode uint16

const (
	ReplyUnauthorizedAccess    ReplyCode = 403
	ReplyNotFound              ReplyCode = 404
	ReplyResourceLocked        ReplyCode = 405
	ReplyPreconditionFailed    ReplyCode = 406
	ReplyResourceDeleted       ReplyCode = 408
	ReplyIllegalState          ReplyCode = 409
	ReplyCommandInvalid        ReplyCode = 503
	ReplyResourceLimitExceeded ReplyCode = 506
	ReplyNotAllowed            ReplyCode = 530
	ReplyNotImplemented        ReplyCode = 540
	ReplyInternalError         ReplyCode = 541
	ReplyInvalidArgument       ReplyCode = 542
)

// SessionError is a protocol-level session failure that a handler converts
// into a peer-visible session close with the carried reply code.
type SessionError struct {
	Code ReplyCode
	Msg  string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session error %d: %s", e.Code, e.Msg)
}

// ProtocolViolation reports a malformed frame sequence.
func ProtocolViolation(format string, args ...any) error {
	return &SessionError{Code: ReplyCommandInvalid, Msg: fmt.Sprintf(format, args...)}
}

// NotImplemented reports a command or feature the session does not handle.
func NotImplemented(format string, args ...any) error {
	return &SessionError{Code: ReplyNotImplemented, Msg: fmt.Sprintf(format, args...)}
}

// InvariantViolation reports an internal bug; the session is aborted.
func InvariantViolation(format string, args ...any) error {
	return &SessionError{Code: ReplyInternalError, Msg: fmt.Sprintf(format, args...)}
}

// ResourceLimitExceeded reports that the broker refused a resource request.
func ResourceLimitExceeded(format string, args ...any) error {
	return &SessionError{Code: ReplyResourceLimitExceeded, Msg: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a SessionError carrying code.
func IsCode(err error, code ReplyCode) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Code == code
}
