// Package apperror defines the error taxonomy shared by the adapters and the
// reconciliation service. Every error that leaves the service carries a Kind
// so callers can branch on it without parsing messages.
package apperror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation               Kind = "validation"
	KindGatewayUnavailable       Kind = "gateway_unavailable"
	KindUserAlreadyExists        Kind = "user_already_exists"
	KindUnknownTransaction       Kind = "unknown_transaction"
	KindTokenGenerationExhausted Kind = "token_generation_exhausted"
	KindInternalInconsistency    Kind = "internal_inconsistency"
)

// Codes refine a kind for clients. They are stable strings used in JSON responses.
const (
	CodeInvalidInput       = "invalid_input"
	CodeInvalidPhoneNumber = "invalid_phone_number"
	CodeCompanyNotFound    = "company_not_found"
	CodePlanNotFound       = "plan_not_found"
	CodeSessionNotFound    = "session_not_found"
	CodeInvalidToken       = "invalid_token"
	CodeTokenExpired       = "token_expired"
	CodeTokenInUse         = "token_in_use"
	CodePaymentPending     = "payment_pending"
	CodePaymentFailed      = "payment_failed"
	CodePaymentRejected    = "payment_rejected"
	CodeInvalidSignature   = "invalid_signature"
	CodeInvalidCallback    = "invalid_callback"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind (and Code when the target sets one),
// so errors.Is(err, apperror.ErrGatewayUnavailable) works for wrapped values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrValidation               = &Error{Kind: KindValidation}
	ErrGatewayUnavailable       = &Error{Kind: KindGatewayUnavailable}
	ErrUserAlreadyExists        = &Error{Kind: KindUserAlreadyExists}
	ErrUnknownTransaction       = &Error{Kind: KindUnknownTransaction}
	ErrTokenGenerationExhausted = &Error{Kind: KindTokenGenerationExhausted}
	ErrInternalInconsistency    = &Error{Kind: KindInternalInconsistency}
)

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func GatewayUnavailable(message string, err error) *Error {
	return Wrap(KindGatewayUnavailable, "", message, err)
}

func Inconsistency(message string, err error) *Error {
	return Wrap(KindInternalInconsistency, "", message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternalInconsistency for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalInconsistency
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Ensure converts any error into an *Error. Foreign errors become
// InternalInconsistency so raw driver or transport errors never leak as-is.
func Ensure(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Inconsistency("unexpected internal error", err)
}

// PublicMessage is the short human-readable text shown to API clients.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
