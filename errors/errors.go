package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials  = fmt.Errorf("invalid credentials")
	ErrMalformedEnvelope   = fmt.Errorf("malformed envelope")
	ErrRecipientOffline    = fmt.Errorf("recipient offline")
	ErrDuplicateLogin      = fmt.Errorf("identity already online")
	ErrAuthTimeout         = fmt.Errorf("no credentials received in time")
	ErrSessionClosed       = fmt.Errorf("session closed")
	ErrOutboundFull        = fmt.Errorf("outbound queue full")
	ErrRegistryUnavailable = fmt.Errorf("session registry unavailable")
	ErrUserAlreadyExists   = fmt.Errorf("user already exists")
	ErrUserNotFound        = fmt.Errorf("user not found")
	ErrInvalidPassword     = fmt.Errorf("password does not meet requirements")
	ErrTokenGeneration     = fmt.Errorf("token generation failed")
	ErrWorkerPanic         = fmt.Errorf("worker panic")
)

// Reasons as they appear on the wire.
const (
	ReasonInvalidCredentials = "InvalidCredentials"
	ReasonMalformedEnvelope  = "MalformedEnvelope"
	ReasonRecipientOffline   = "RecipientOffline"
	ReasonDuplicateLogin     = "DuplicateLogin"
	ReasonAuthTimeout        = "AuthTimeout"
	ReasonUnavailable        = "Unavailable"
)

// Reason maps an error of the relay taxonomy onto its wire reason.
// A full or closed recipient queue is reported like an offline recipient.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidPassword),
		errors.Is(err, ErrUserNotFound):
		return ReasonInvalidCredentials
	case errors.Is(err, ErrMalformedEnvelope):
		return ReasonMalformedEnvelope
	case errors.Is(err, ErrRecipientOffline), errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrOutboundFull):
		return ReasonRecipientOffline
	case errors.Is(err, ErrDuplicateLogin):
		return ReasonDuplicateLogin
	case errors.Is(err, ErrAuthTimeout):
		return ReasonAuthTimeout
	default:
		return ReasonUnavailable
	}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
