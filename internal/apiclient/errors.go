package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRequestFailed matches every error returned by the client.
var ErrRequestFailed = errors.New("request failed")

// Kind classifies a failed request.
type Kind int

const (
	// KindTransport means no HTTP response was received.
	KindTransport Kind = iota + 1
	// KindNotFound means the backend answered 404.
	KindNotFound
	// KindValidation means the backend rejected the payload (400 or 422).
	KindValidation
	// KindStatus covers every other non-2xx status.
	KindStatus
	// KindDecode means a 2xx response body could not be decoded.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Entity names the resource a not-found failure refers to.
type Entity string

// Entities referenced by not-found failures.
const (
	EntityStudent      Entity = "student"
	EntityConversation Entity = "conversation"
)

// Error describes a failed API operation.
type Error struct {
	Op         string
	Kind       Kind
	Entity     Entity
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("apiclient: %s: %s", e.Op, e.Kind)
	if e.Kind == KindNotFound && e.Entity != "" {
		msg += " (" + string(e.Entity) + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [%d]", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports every client error as ErrRequestFailed.
func (e *Error) Is(target error) bool {
	return target == ErrRequestFailed
}

// KindOf returns the failure kind of err, or 0 if err is not a client error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

// IsNotFound returns true if err is a 404 that refers to entity.
func IsNotFound(err error, entity Entity) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Kind == KindNotFound && apiErr.Entity == entity
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	default:
		return KindStatus
	}
}
