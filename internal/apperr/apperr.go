// Package apperr defines the error taxonomy surfaced at the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/samber/oops"
)

// Error codes carried by oops errors.
const (
	CodeValidation    = "validation_error"
	CodeRemoteService = "remote_service_error"
	CodeInternal      = "internal_error"
)

// GenericMessage is returned to callers for every non-validation failure.
const GenericMessage = "An error occurred while processing your request."

// Validation reports a malformed request. The message is shown to the caller.
func Validation(format string, args ...any) error {
	return oops.
		Code(CodeValidation).
		In("validation").
		Errorf(format, args...)
}

// RemoteService wraps a completion backend failure.
func RemoteService(err error) error {
	if err == nil {
		return nil
	}
	return oops.
		Code(CodeRemoteService).
		In("completion").
		Wrapf(err, "completion failed")
}

// Internal wraps any other unexpected failure.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return oops.
		Code(CodeInternal).
		Wrap(err)
}

// CodeOf returns the taxonomy code of err, CodeInternal when it has none.
func CodeOf(err error) string {
	var oe oops.OopsError
	if errors.As(err, &oe) {
		if code := fmt.Sprint(oe.Code()); code != "" && code != "<nil>" {
			return code
		}
	}
	return CodeInternal
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsRemoteService reports whether err came from the completion backend.
func IsRemoteService(err error) bool { return CodeOf(err) == CodeRemoteService }

// StatusCode maps err to an HTTP status.
func StatusCode(err error) int {
	if IsValidation(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message safe to show to a caller.
func PublicMessage(err error) string {
	if IsValidation(err) {
		var oe oops.OopsError
		if errors.As(err, &oe) {
			return oe.Error()
		}
		return err.Error()
	}
	return GenericMessage
}
