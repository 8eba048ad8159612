package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain errors. Transports map kinds to status codes.
type ErrorKind string

const (
	KindAuth          ErrorKind = "auth_error"
	KindValidation    ErrorKind = "validation_error"
	KindAuthorization ErrorKind = "authorization_error"
	KindNotFound      ErrorKind = "not_found"
	KindPersistence   ErrorKind = "persistence_error"
)

// Error codes for domain errors.
const (
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeBadRequest      = "bad_request"
	ErrCodeEmptyContent    = "empty_content"
	ErrCodeContentTooLong  = "content_too_long"
	ErrCodeBadDestination  = "bad_destination"
	ErrCodeInvalidPage     = "invalid_page"
	ErrCodeNotRoomMember   = "not_room_member"
	ErrCodeNotSender       = "not_sender"
	ErrCodeMessageDeleted  = "message_deleted"
	ErrCodeUserNotFound    = "user_not_found"
	ErrCodeRoomNotFound    = "room_not_found"
	ErrCodeMessageNotFound = "message_not_found"
	ErrCodePersistence     = "persistence_failed"
	ErrCodeSessionReplaced = "session_replaced"
)

var (
	ErrUnauthenticated    = coreError(KindAuth, ErrCodeUnauthorized, "not authenticated")
	ErrEmptyContent       = coreError(KindValidation, ErrCodeEmptyContent, "message content cannot be empty")
	ErrContentTooLong     = coreError(KindValidation, ErrCodeContentTooLong, fmt.Sprintf("message content too long (max %d characters)", MaxContentLength))
	ErrMissingDestination = coreError(KindValidation, ErrCodeBadDestination, "a receiver or a room is required")
	ErrBothDestinations   = coreError(KindValidation, ErrCodeBadDestination, "a message goes to a receiver or a room, not both")
	ErrInvalidPage        = coreError(KindValidation, ErrCodeInvalidPage, "invalid pagination parameters")
	ErrNotRoomMember      = coreError(KindAuthorization, ErrCodeNotRoomMember, "not a member of this room")
	ErrNotSender          = coreError(KindAuthorization, ErrCodeNotSender, "only the sender can change this message")
	ErrMessageDeleted     = coreError(KindAuthorization, ErrCodeMessageDeleted, "message has been deleted")
	ErrUserNotFound       = coreError(KindNotFound, ErrCodeUserNotFound, "user not found")
	ErrRoomNotFound       = coreError(KindNotFound, ErrCodeRoomNotFound, "room not found")
	ErrMessageNotFound    = coreError(KindNotFound, ErrCodeMessageNotFound, "message not found")
	ErrPersistence        = coreError(KindPersistence, ErrCodePersistence, "failed to save message")
	ErrSessionReplaced    = coreError(KindAuth, ErrCodeSessionReplaced, "signed in from another connection")
)

// CoreError wraps a kind, a code and a human-readable message.
type CoreError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Is matches any CoreError with the same code and message, so wrapped copies
// of a sentinel still satisfy errors.Is.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	return ok && t.Code == e.Code && t.Message == e.Message
}

// NewError builds a CoreError for packages that define their own sentinels.
func NewError(kind ErrorKind, code, msg string) *CoreError {
	return coreError(kind, code, msg)
}

func coreError(kind ErrorKind, code, msg string) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: msg}
}

// Wrap returns a copy of sentinel carrying cause.
func Wrap(sentinel *CoreError, cause error) *CoreError {
	return wrap(sentinel, cause)
}

// wrap returns a copy of sentinel carrying cause.
func wrap(sentinel *CoreError, cause error) *CoreError {
	return &CoreError{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: cause}
}

// authError turns a verifier failure into an auth error whose message is the
// verifier's reason.
func authError(cause error) *CoreError {
	return &CoreError{Kind: KindAuth, Code: ErrCodeUnauthorized, Message: cause.Error()}
}

// AsCoreError extracts a CoreError from err. Errors of any other type are
// reported as persistence errors.
func AsCoreError(err error) *CoreError {
	if err == nil {
		return nil
	}
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce
	}
	return wrap(ErrPersistence, err)
}

// KindOf returns the kind of err, or KindPersistence for foreign errors.
func KindOf(err error) ErrorKind {
	return AsCoreError(err).Kind
}
