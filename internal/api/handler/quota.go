package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Rrens/ally-chat/internal/api/middleware"
	"github.com/Rrens/ally-chat/internal/api/response"
	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/quota"
)

// QuotaHandler handles quota and usage endpoints
type QuotaHandler struct {
	assistant Assistant
	limit     int
}

// NewQuotaHandler creates a new quota handler
func NewQuotaHandler(assistant Assistant, limit int) *QuotaHandler {
	if limit <= 0 {
		limit = quota.DailyLimit
	}
	return &QuotaHandler{assistant: assistant, limit: limit}
}

type quotaResponse struct {
	Tokens    int       `json:"tokens"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Get returns the caller's quota window
func (h *QuotaHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	q, err := h.assistant.GetQuota(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response.OK(w, quotaResponse{
		Tokens:    q.Tokens,
		Limit:     h.limit,
		Remaining: max(h.limit-q.Tokens, 0),
		ResetAt:   q.ResetAt,
	})
}

type affordabilityQuery struct {
	Model  string `validate:"required"`
	Images int    `validate:"gte=0,lte=10"`
}

// Affordability prices a prospective message: ?model=ALLY-3&images=1
func (h *QuotaHandler) Affordability(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	q := affordabilityQuery{Model: r.URL.Query().Get("model")}
	if raw := r.URL.Query().Get("images"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(w, "images must be an integer")
			return
		}
		q.Images = n
	}
	if err := validate.Struct(q); err != nil {
		response.BadRequest(w, validationMessages(err))
		return
	}

	model, err := domain.ParseModel(q.Model)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result, err := h.assistant.CheckAffordability(r.Context(), userID, model, q.Images)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.OK(w, result)
}

// Stats returns usage statistics; it never fails
func (h *QuotaHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	response.OK(w, h.assistant.GetStats(r.Context(), userID))
}
