package app

import (
	"errors"
	"fmt"
	"net/http"

	"docgate/api/internal/auth"
	"docgate/api/internal/authpw"
	"docgate/api/internal/query"
	"docgate/api/internal/schema"
	"docgate/api/internal/store"
	"docgate/api/internal/upload"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func forbidden(action string, reason error) *DomainError {
	message := action + " not permitted"
	if reason != nil {
		message += " (" + reason.Error() + ")"
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "CONFLICT", "Document already exists", nil
	case errors.Is(err, query.ErrBadQuery):
		return http.StatusBadRequest, "BAD_QUERY", err.Error(), nil
	case errors.Is(err, schema.ErrInvalidDocument):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil
	case errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, upload.ErrUnsupportedType) || errors.Is(err, upload.ErrUnsupportedExtension):
		return http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), nil
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "TOO_LARGE", err.Error(), nil
	case errors.Is(err, upload.ErrBlobNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
