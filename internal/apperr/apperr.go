// Package apperr defines the error taxonomy shared by repositories, the
// controller and the HTTP layer. Every error carries a one-line detail
// string suitable for surfacing directly in the UI.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// KindInternal is the default for errors that carry no taxonomy.
	KindInternal Kind = iota
	// KindNotFound covers unknown job, checkpoint, dataset and model ids,
	// and checkpoint artifacts missing on disk.
	KindNotFound
	// KindInvalidState is a job transition not permitted from the current status.
	KindInvalidState
	// KindPreconditionFailed is a missing model/dataset reference at start
	// time, or a dataset whose declared sample count disagrees with its content.
	KindPreconditionFailed
	// KindInvalidInput is a malformed request body or an out-of-range config value.
	KindInvalidInput
)

type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string { return e.Detail }

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidState, Detail: fmt.Sprintf(format, args...)}
}

func PreconditionFailed(format string, args ...interface{}) error {
	return &Error{Kind: KindPreconditionFailed, Detail: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidInput, Detail: fmt.Sprintf(format, args...)}
}

// KindOf unwraps err to its taxonomy kind, KindInternal when untagged.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool           { return KindOf(err) == KindNotFound }
func IsInvalidState(err error) bool       { return KindOf(err) == KindInvalidState }
func IsPreconditionFailed(err error) bool { return KindOf(err) == KindPreconditionFailed }
func IsInvalidInput(err error) bool       { return KindOf(err) == KindInvalidInput }

// HTTPStatus maps a taxonomy kind to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
