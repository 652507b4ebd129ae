package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// CodeTransient covers network errors, timeouts, and backend 5xx
	// responses. Work failing with it is safe to retry with backoff.
	CodeTransient Code = "TRANSIENT"
	// CodeRejected is a definitive backend rejection (4xx). Retrying the
	// same payload can never succeed.
	CodeRejected Code = "REJECTED"
	// CodeDuplicateAccepted means the backend already applied this temp_id.
	// Callers must treat it as success.
	CodeDuplicateAccepted Code = "DUPLICATE_ACCEPTED"
	// CodeLocalStorage means the local store can no longer guarantee
	// durability. Never masked, never retried silently.
	CodeLocalStorage Code = "LOCAL_STORAGE"
	// CodeCatalogUnavailable means no network and no cached rows.
	CodeCatalogUnavailable Code = "CATALOG_UNAVAILABLE"

	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeInternal      Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeTransient: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "backend unreachable",
		DetailsAllowed: true,
	},
	CodeRejected: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "rejected by backend",
		DetailsAllowed: true,
	},
	CodeDuplicateAccepted: {
		HTTPStatus:     http.StatusOK,
		Retryable:      false,
		PublicMessage:  "already applied",
		DetailsAllowed: true,
	},
	CodeLocalStorage: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      false,
		PublicMessage:  "local storage failure",
		DetailsAllowed: false,
	},
	CodeCatalogUnavailable: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "catalog unavailable: no connection and no cached data",
		DetailsAllowed: false,
	},
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "resource not found",
		DetailsAllowed: false,
	},
	CodeStateConflict: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeInternal: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      true,
		PublicMessage:  "internal error",
		DetailsAllowed: false,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeTransient
}

// IsDuplicateAccepted reports whether the backend confirmed this temp_id
// was already applied, which callers treat as delivery success.
func IsDuplicateAccepted(err error) bool {
	return CodeOf(err) == CodeDuplicateAccepted
}
