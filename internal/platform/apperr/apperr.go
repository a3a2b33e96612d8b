// Package apperr carries the error taxonomy shared by services and HTTP handlers.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindGateway
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindConflict:
		return "CONFLICT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindGateway:
		return "GATEWAY_ERROR"
	case KindIntegrity:
		return "INTEGRITY_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: kind.String(), Message: message}
}

// Wrap keeps err reachable through errors.Is / errors.As.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Code: kind.String(), Message: message, Err: err}
}

// WithCode overrides the stable machine-readable code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindGateway:
		return http.StatusBadGateway
	case KindIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage never leaks wrapped causes; internal errors collapse to a generic message.
func PublicMessage(err error) string {
	if ae, ok := As(err); ok && ae.Kind != KindInternal {
		return ae.Message
	}
	return "could not complete operation"
}

func PublicCode(err error) string {
	if ae, ok := As(err); ok && ae.Kind != KindInternal {
		return ae.Code
	}
	return KindInternal.String()
}
