package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/Rrens/ally-chat/internal/api/middleware"
	"github.com/Rrens/ally-chat/internal/api/response"
	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// Assistant is the application surface the handlers drive
type Assistant interface {
	SendMessage(ctx context.Context, userID string, req service.SendMessageRequest) (*service.SendMessageResult, error)
	CheckAffordability(ctx context.Context, userID string, model domain.Model, images int) (*service.Affordability, error)
	GetQuota(ctx context.Context, userID string) (domain.UserQuota, error)
	GetStats(ctx context.Context, userID string) domain.UsageStats
	ListSessions(ctx context.Context, userID string, model domain.Model) ([]domain.SessionSummary, error)
	GetSession(ctx context.Context, userID string, model domain.Model, sessionID string) (*domain.ChatSession, error)
	GetMessages(ctx context.Context, userID string, model domain.Model, sessionID string) ([]domain.Message, error)
	DeleteSession(ctx context.Context, userID string, model domain.Model, sessionID string) error
	ClearHistory(ctx context.Context, userID string, model domain.Model) error
}

// validationMessages turns validator errors into a field -> message map
func validationMessages(err error) any {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make(map[string]string)
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required", "required_without":
			messages[field] = "field is required"
		case "max":
			messages[field] = "must be at most " + e.Param() + " characters"
		case "oneof":
			messages[field] = "must be one of: " + e.Param()
		case "gte", "lte":
			messages[field] = "out of range"
		default:
			messages[field] = "validation failed on " + e.Tag()
		}
	}
	return messages
}

// writeServiceError maps domain errors to HTTP statuses
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	logServiceError(r, status, err)
	response.Error(w, status, message)
}

func logServiceError(r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusPaymentRequired, "daily token limit reached"
	case errors.Is(err, domain.ErrQuotaContention):
		return http.StatusConflict, "quota is busy, please retry"
	case errors.Is(err, domain.ErrUploadFailed):
		return http.StatusBadGateway, "image upload failed"
	case errors.Is(err, domain.ErrInferenceFailed):
		return http.StatusBadGateway, "assistant is unavailable, please try again"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "chat session not found"
	case errors.Is(err, domain.ErrUnknownModel):
		return http.StatusBadRequest, "unknown model"
	case errors.Is(err, domain.ErrEmptyMessage):
		return http.StatusBadRequest, "message has no text or image"
	case errors.Is(err, domain.ErrInvalidCost):
		return http.StatusBadRequest, "invalid cost"
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// userAndModel extracts the authenticated user and the {model} path parameter
func userAndModel(w http.ResponseWriter, r *http.Request) (string, domain.Model, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return "", "", false
	}

	model, err := domain.ParseModel(chi.URLParam(r, "model"))
	if err != nil {
		response.BadRequest(w, err.Error())
		return "", "", false
	}
	return userID, model, true
}
