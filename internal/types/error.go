package types

import (
	"errors"
	"fmt"
)

// Error codes carried by CustomError. The code string is stable API surface:
// clients match on it, and the global error handler maps it to an HTTP status.
const (
	CodeAlreadyExists  = "E_EXISTS"
	CodeUnknownApp     = "E_NO_APP"
	CodeInvalidArchive = "E_ARCHIVE"
	CodeInvalidPath    = "E_PATH"
	CodeNotFound       = "E_NOT_FOUND"
	CodeConflict       = "E_CONFLICT"
	CodeRetireActive   = "E_RETIRE_ACTIVE"
	CodeNoPrior        = "E_NO_PRIOR"
	CodeReferenced     = "E_REFERENCED"
	CodeInvalidName    = "E_NAME"
)

type CustomError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes errors.Is match two CustomErrors by code, so sentinel-style
// comparisons work without sharing pointer identity.
func (e *CustomError) Is(target error) bool {
	var ce *CustomError
	if errors.As(target, &ce) {
		return ce.Code == e.Code
	}
	return false
}

func NewError(code, format string, args ...interface{}) *CustomError {
	return &CustomError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a CustomError with the given code.
func IsCode(err error, code string) bool {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Code returns the error code of err, or "" when err is not a CustomError.
func Code(err error) string {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func AlreadyExists(resource, identifier string) *CustomError {
	return NewError(CodeAlreadyExists, "%s already exists: %s", resource, identifier)
}

func UnknownApplication(name string) *CustomError {
	return NewError(CodeUnknownApp, "application not found: %s", name)
}

func InvalidArchive(reason string) *CustomError {
	return NewError(CodeInvalidArchive, "invalid archive: %s", reason)
}

func InvalidPath(path string) *CustomError {
	return NewError(CodeInvalidPath, "invalid path: %s", path)
}

func NotFound(resource, identifier string) *CustomError {
	return NewError(CodeNotFound, "%s not found: %s", resource, identifier)
}

func Conflict(appName string) *CustomError {
	return NewError(CodeConflict, "activation conflict on application %s - refresh and retry", appName)
}

func CannotRetireActive(appName, versionID string) *CustomError {
	return NewError(CodeRetireActive, "cannot retire active version %s/%s - activate another version first", appName, versionID)
}

func NoPriorVersion(appName string) *CustomError {
	return NewError(CodeNoPrior, "no prior version to roll back to for application %s", appName)
}

func StillReferenced(hash string) *CustomError {
	return NewError(CodeReferenced, "content %s is still referenced", hash)
}

func InvalidName(name string) *CustomError {
	return NewError(CodeInvalidName, "invalid application name %q: only alphanumerics and '-' are allowed", name)
}
