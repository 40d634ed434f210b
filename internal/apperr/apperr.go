// Package apperr defines the error kinds shared by all components, their stable
// wire codes and the localized messages shown to users.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping
type Kind int

const (
	KindInternal Kind = iota
	KindUnparseable
	KindNoTenantMapping
	KindStorage
	KindExternal
	KindCompliance
	KindConflict
	KindTimeout
	KindNotFound
	KindInvalid
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindUnparseable:
		return "unparseable"
	case KindNoTenantMapping:
		return "no_tenant_mapping"
	case KindStorage:
		return "storage"
	case KindExternal:
		return "external"
	case KindCompliance:
		return "compliance"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is matching by kind
var (
	ErrUnparseable     = &Error{Kind: KindUnparseable, Code: "E_UNPARSEABLE"}
	ErrNoTenantMapping = &Error{Kind: KindNoTenantMapping, Code: "E_NO_TENANT_MAPPING"}
	ErrStorage         = &Error{Kind: KindStorage, Code: "E_STORAGE"}
	ErrExternal        = &Error{Kind: KindExternal, Code: "E_EXTERNAL"}
	ErrCompliance      = &Error{Kind: KindCompliance, Code: "E_COMPLIANCE"}
	ErrConflict        = &Error{Kind: KindConflict, Code: "E_CONFLICT"}
	ErrTimeout         = &Error{Kind: KindTimeout, Code: "E_TIMEOUT"}
	ErrNotFound        = &Error{Kind: KindNotFound, Code: "E_NOT_FOUND"}
	ErrInvalid         = &Error{Kind: KindInvalid, Code: "E_INVALID"}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized, Code: "E_UNAUTHORIZED"}
	ErrInternal        = &Error{Kind: KindInternal, Code: "E_INTERNAL"}
)

// Error carries a kind, a stable code, the failing operation and the cause
type Error struct {
	Kind Kind
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so wrapped errors compare equal to the sentinels
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an error of the given kind
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Code: codeFor(kind), Op: op, Err: err}
}

// Storage wraps a row store failure
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return E(KindStorage, op, err)
}

// External wraps a collaborator failure (LLM, channel, knowledge, notification)
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return E(KindExternal, op, err)
}

// Invalid builds a validation error with a formatted cause
func Invalid(op, format string, args ...any) error {
	return E(KindInvalid, op, fmt.Errorf(format, args...))
}

// NotFound builds a not-found error for the named entity
func NotFound(op, entity string) error {
	return E(KindNotFound, op, fmt.Errorf("%s not found", entity))
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return codeFor(KindOf(err))
}

func codeFor(k Kind) string {
	switch k {
	case KindUnparseable:
		return ErrUnparseable.Code
	case KindNoTenantMapping:
		return ErrNoTenantMapping.Code
	case KindStorage:
		return ErrStorage.Code
	case KindExternal:
		return ErrExternal.Code
	case KindCompliance:
		return ErrCompliance.Code
	case KindConflict:
		return ErrConflict.Code
	case KindTimeout:
		return ErrTimeout.Code
	case KindNotFound:
		return ErrNotFound.Code
	case KindInvalid:
		return ErrInvalid.Code
	case KindUnauthorized:
		return ErrUnauthorized.Code
	default:
		return ErrInternal.Code
	}
}

// HTTPStatus maps an error kind to the status returned by the API
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalid, KindUnparseable:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound, KindNoTenantMapping:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindCompliance:
		return http.StatusUnprocessableEntity
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindExternal:
		return http.StatusBadGateway
	case KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
