package ws

import "errors"

// Code identifies a failure reported to a client.
type Code string

const (
	CodeNoCredential      Code = "no_credential"
	CodeInvalidCredential Code = "invalid_credential"
	CodeUnknownUser       Code = "unknown_user"
	CodeInvalidMessage    Code = "invalid_message"
	CodeInvalidTyping     Code = "invalid_typing"
	CodeInvalidRoom       Code = "invalid_room"
	CodeInvalidPayload    Code = "invalid_payload"
	CodeUnknownEvent      Code = "unknown_event"
	CodeRateLimited       Code = "rate_limited"
	CodeNotMember         Code = "not_member"
	CodeReceiverNotFound  Code = "receiver_not_found"
	CodeSendFailed        Code = "send_failed"
	CodeMarkReadFailed    Code = "mark_read_failed"
	CodeConnectionClosed  Code = "connection_closed"
	CodeInternal          Code = "internal"
)

// Kind groups codes by how the failure is handled.
type Kind string

const (
	KindRejection     Kind = "rejection"
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindPersistence   Kind = "persistence"
	KindInternal      Kind = "internal"
)

// Error is a realtime failure with a client-facing message. Two errors match
// with errors.Is when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return e.Message + ": " + e.Wrapped.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Kind() Kind {
	switch e.Code {
	case CodeNoCredential, CodeInvalidCredential, CodeUnknownUser:
		return KindRejection
	case CodeInvalidMessage, CodeInvalidTyping, CodeInvalidRoom, CodeInvalidPayload, CodeUnknownEvent, CodeRateLimited:
		return KindValidation
	case CodeNotMember, CodeReceiverNotFound:
		return KindAuthorization
	case CodeSendFailed, CodeMarkReadFailed:
		return KindPersistence
	default:
		return KindInternal
	}
}

var (
	ErrNoCredential      = &Error{Code: CodeNoCredential, Message: "no credential"}
	ErrInvalidCredential = &Error{Code: CodeInvalidCredential, Message: "invalid credential"}
	ErrUnknownUser       = &Error{Code: CodeUnknownUser, Message: "unknown user"}
	ErrInvalidMessage    = &Error{Code: CodeInvalidMessage, Message: "invalid message data"}
	ErrInvalidTyping     = &Error{Code: CodeInvalidTyping, Message: "invalid typing data"}
	ErrInvalidRoom       = &Error{Code: CodeInvalidRoom, Message: "invalid chat room"}
	ErrInvalidPayload    = &Error{Code: CodeInvalidPayload, Message: "invalid event payload"}
	ErrUnknownEvent      = &Error{Code: CodeUnknownEvent, Message: "unknown event"}
	ErrRateLimited       = &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
	ErrNotMember         = &Error{Code: CodeNotMember, Message: "not a member"}
	ErrReceiverNotFound  = &Error{Code: CodeReceiverNotFound, Message: "receiver not found"}
	ErrSendFailed        = &Error{Code: CodeSendFailed, Message: "failed to send message"}
	ErrMarkReadFailed    = &Error{Code: CodeMarkReadFailed, Message: "failed to mark messages as read"}
	ErrConnectionClosed  = &Error{Code: CodeConnectionClosed, Message: "connection closed"}
	ErrInternal          = &Error{Code: CodeInternal, Message: "internal error"}
)

func wrapErr(base *Error, err error) *Error {
	return &Error{Code: base.Code, Message: base.Message, Wrapped: err}
}

// clientMessage is the text sent in an error event. Anything that is not an
// *Error is reported as an internal error.
func clientMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}

func errorKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindInternal
}
