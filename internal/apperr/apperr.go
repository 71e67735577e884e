package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeInternal           Code = "INTERNAL"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func InvalidArg(msg string) error         { return New(CodeInvalidArgument, msg) }
func NotFound(msg string) error           { return New(CodeNotFound, msg) }
func AlreadyExists(msg string) error      { return New(CodeAlreadyExists, msg) }
func Unauthorized(msg string) error       { return New(CodeUnauthenticated, msg) }
func Forbidden(msg string) error          { return New(CodePermissionDenied, msg) }
func FailedPrecondition(msg string) error { return New(CodeFailedPrecondition, msg) }

func Internal(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Message returns the caller-safe message of err. Causes are never exposed.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeFailedPrecondition:
		return http.StatusConflict
	case CodeResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Domain errors shared by the HTTP and websocket paths.
var (
	ErrNotParticipant       = Forbidden("not a participant")
	ErrNotAdmin             = Forbidden("only admins can do that")
	ErrConversationNotFound = NotFound("conversation not found")
	ErrMessageNotFound      = NotFound("message not found")
	ErrUserNotFound         = NotFound("user not found")
	ErrEmptyMessage         = InvalidArg("message needs content or media")
	ErrInvalidEmoji         = InvalidArg("reaction must be an emoji")
	ErrReplyNotFound        = InvalidArg("reply target is not in this conversation")
	ErrEditWindowClosed     = FailedPrecondition("edit window has closed")
	ErrNotEditable          = Forbidden("only the sender can edit text messages")
	ErrCreatorCannotLeave   = FailedPrecondition("creator cannot leave, delete the conversation instead")
	ErrUploadFailed         = Internal("upload failed", nil)
	ErrRateLimited          = New(CodeResourceExhausted, "too many events, slow down")
)
