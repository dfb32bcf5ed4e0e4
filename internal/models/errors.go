package models

import (
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind string

const (
	KindValidation                  ErrorKind = "validation"
	KindItemsUnavailable            ErrorKind = "items_unavailable"
	KindItemInsertFailed            ErrorKind = "item_insert_failed"
	KindAuthorizationNotFound       ErrorKind = "authorization_not_found"
	KindAlreadyCaptured             ErrorKind = "already_captured"
	KindTipTooLarge                 ErrorKind = "tip_too_large"
	KindSignatureInvalid            ErrorKind = "signature_invalid"
	KindTicketMaterializationFailed ErrorKind = "ticket_materialization_failed"
	KindNotificationSendFailed      ErrorKind = "notification_send_failed"
	KindNotFound                    ErrorKind = "not_found"
	KindConflict                    ErrorKind = "conflict"
)

// Error is the domain error. Two errors are equal under errors.Is when their
// kinds match, so the sentinels below can be used as targets.
type Error struct {
	Kind    ErrorKind
	Message string
	Items   []string
	Err     error
}

var (
	ErrValidation                  = &Error{Kind: KindValidation}
	ErrItemsUnavailable            = &Error{Kind: KindItemsUnavailable}
	ErrItemInsertFailed            = &Error{Kind: KindItemInsertFailed}
	ErrAuthorizationNotFound       = &Error{Kind: KindAuthorizationNotFound}
	ErrAlreadyCaptured             = &Error{Kind: KindAlreadyCaptured}
	ErrTipTooLarge                 = &Error{Kind: KindTipTooLarge}
	ErrSignatureInvalid            = &Error{Kind: KindSignatureInvalid}
	ErrTicketMaterializationFailed = &Error{Kind: KindTicketMaterializationFailed}
	ErrNotificationSendFailed      = &Error{Kind: KindNotificationSendFailed}
	ErrNotFound                    = &Error{Kind: KindNotFound}
	ErrConflict                    = &Error{Kind: KindConflict}
)

func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func ItemsUnavailableError(names []string) *Error {
	return &Error{
		Kind:    KindItemsUnavailable,
		Message: "items unavailable: " + strings.Join(names, ", "),
		Items:   names,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindSignatureInvalid:
		return http.StatusBadRequest
	case KindItemsUnavailable, KindAlreadyCaptured, KindConflict:
		return http.StatusConflict
	case KindTipTooLarge:
		return http.StatusUnprocessableEntity
	case KindAuthorizationNotFound, KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to show a customer.
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case KindValidation, KindItemsUnavailable, KindTipTooLarge:
		return e.Message
	case KindAlreadyCaptured:
		return "payment has already been captured"
	case KindNotFound, KindAuthorizationNotFound:
		return "not found"
	case KindConflict:
		return "the order changed, please retry"
	case KindItemInsertFailed:
		return "order could not be placed"
	default:
		return "payment could not be confirmed"
	}
}
