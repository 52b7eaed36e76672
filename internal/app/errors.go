package app

import (
	"errors"
	"fmt"
	"net/http"

	"courtroom/api/internal/archive"
	"courtroom/api/internal/auth"
	"courtroom/api/internal/court"
	"courtroom/api/internal/export"
	"courtroom/api/internal/store"
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

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{court.ErrInvalidInput, http.StatusUnprocessableEntity, "INVALID_INPUT"},
	{court.ErrUnknownAction, http.StatusUnprocessableEntity, "UNKNOWN_ACTION"},
	{court.ErrAddendumLimit, http.StatusUnprocessableEntity, "ADDENDUM_LIMIT"},
	{court.ErrForbiddenRole, http.StatusForbidden, "FORBIDDEN_ROLE"},
	{court.ErrNotParticipant, http.StatusForbidden, "NOT_PARTICIPANT"},
	{court.ErrInvalidPhase, http.StatusConflict, "INVALID_PHASE"},
	{court.ErrSessionOpen, http.StatusConflict, "SESSION_OPEN"},
	{court.ErrPartnerBusy, http.StatusConflict, "PARTNER_BUSY"},
	{court.ErrNoSession, http.StatusNotFound, "NO_SESSION"},
	{store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{store.ErrRevisionConflict, http.StatusConflict, "CONFLICT"},
	{export.ErrVersionNotFound, http.StatusNotFound, "VERSION_NOT_FOUND"},
	{archive.ErrNotArchived, http.StatusNotFound, "VERSION_NOT_ARCHIVED"},
	{export.ErrNotParticipant, http.StatusForbidden, "NOT_PARTICIPANT"},
	{export.ErrUnsupportedFormat, http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT"},
	{export.ErrPDFDependencyMissing, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "UNAUTHORIZED"},
	{auth.ErrExpiredToken, http.StatusUnauthorized, "UNAUTHORIZED"},
}

// mapError translates any error into the shape returned by REST responses
// and websocket acks alike.
func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			return domainError(entry.status, entry.code, err.Error(), nil)
		}
	}
	return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}
