package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"crm-automation-api/internal/auth"
	"crm-automation-api/internal/automation"
	"crm-automation-api/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxBodyBytes caps every decoded request body.
const MaxBodyBytes = 1 << 20

// contextKey for the authenticated member
type contextKey string

var MemberContextKey contextKey = "member"

// WithMember zet het geauthenticeerde lid in de context.
func WithMember(ctx context.Context, member auth.Member) context.Context {
	return context.WithValue(ctx, MemberContextKey, member)
}

// GetMemberFromContext haalt het lid op dat door de middleware in de context is gezet
func GetMemberFromContext(ctx context.Context) (auth.Member, error) {
	member, ok := ctx.Value(MemberContextKey).(auth.Member)
	if !ok || member.TenantID == uuid.Nil {
		return auth.Member{}, fmt.Errorf("missing or invalid member in context")
	}
	return member, nil
}

// GetUserIDFromContext returns the user id of the authenticated member.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, error) {
	member, err := GetMemberFromContext(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if member.UserID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("missing or invalid user ID in context")
	}
	return member.UserID, nil
}

// URLParamUUID parses a chi path parameter as uuid.
func URLParamUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// DecodeJSON decodes a size-limited request body into v.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// WriteJSON schrijft een standaard JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error(
			"failed to write JSON response",
			zap.Error(err),
			zap.Int("status", status),
			zap.String("component", "api"),
		)
	}
}

// WriteJSONError schrijft een standaard JSON error response
func WriteJSONError(w http.ResponseWriter, status int, message string, logger *zap.Logger) {
	WriteJSON(w, status, map[string]string{"error": message}, logger)
}

// ErrorStatus maps domain errors onto HTTP status codes.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrImmutableField),
		errors.Is(err, domain.ErrInvalidRule),
		errors.Is(err, automation.ErrInvalidTrigger):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMissingSession):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err with its mapped status. Internal errors are logged
// and answered with a generic message.
func WriteError(w http.ResponseWriter, err error, fallback string, logger *zap.Logger) {
	status := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error(fallback, zap.Error(err), zap.String("component", "api"))
		WriteJSONError(w, status, fallback, logger)
		return
	}
	WriteJSONError(w, status, err.Error(), logger)
}
