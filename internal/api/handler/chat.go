package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Rrens/ally-chat/internal/api/response"
	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/service"
	"github.com/go-chi/chi/v5"
)

// ChatHandler handles chat session endpoints
type ChatHandler struct {
	assistant     Assistant
	maxImageBytes int64
}

// NewChatHandler creates a new chat handler
func NewChatHandler(assistant Assistant, maxImageBytes int64) *ChatHandler {
	return &ChatHandler{assistant: assistant, maxImageBytes: maxImageBytes}
}

// SendMessageInput is the body of POST /chats/{model}/messages
type SendMessageInput struct {
	SessionID        string `json:"session_id" validate:"omitempty,max=64"`
	Text             string `json:"text" validate:"required_without=Image,max=4000"`
	Image            string `json:"image"`
	ImageContentType string `json:"image_content_type" validate:"omitempty,oneof=image/png image/jpeg image/gif image/webp"`
}

// List returns the history list of a model namespace
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, model, ok := userAndModel(w, r)
	if !ok {
		return
	}

	sessions, err := h.assistant.ListSessions(r.Context(), userID, model)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.OK(w, sessions)
}

// Clear removes every session of a model namespace
func (h *ChatHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, model, ok := userAndModel(w, r)
	if !ok {
		return
	}

	if err := h.assistant.ClearHistory(r.Context(), userID, model); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.NoContent(w)
}

// Send runs one assistant turn
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, model, ok := userAndModel(w, r)
	if !ok {
		return
	}

	// base64 inflates by 4/3; leave room for the JSON envelope
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes*4/3+64<<10)

	var input SendMessageInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "request too large")
			return
		}
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(input); err != nil {
		response.BadRequest(w, validationMessages(err))
		return
	}

	req := service.SendMessageRequest{
		SessionID: input.SessionID,
		Model:     model,
		Text:      input.Text,
	}
	if input.Image != "" {
		data, err := base64.StdEncoding.DecodeString(input.Image)
		if err != nil {
			response.BadRequest(w, map[string]string{"image": "must be base64 encoded"})
			return
		}
		if int64(len(data)) > h.maxImageBytes {
			response.Error(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		req.Image = &domain.Attachment{Data: data, ContentType: input.ImageContentType}
	}

	result, err := h.assistant.SendMessage(r.Context(), userID, req)
	if err != nil {
		status, message := statusFor(err)
		if result != nil && result.SessionID != "" {
			logServiceError(r, status, err)
			// the user message was stored; let the client keep its place
			response.ErrorWithData(w, status, message, map[string]string{"session_id": result.SessionID})
			return
		}
		writeServiceError(w, r, err)
		return
	}

	if input.SessionID == "" {
		response.Created(w, result)
		return
	}
	response.OK(w, result)
}

// Get returns a session with its messages
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, model, ok := userAndModel(w, r)
	if !ok {
		return
	}

	session, err := h.assistant.GetSession(r.Context(), userID, model, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.OK(w, session)
}

// Messages returns the ordered messages of a session
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, model, ok := userAndModel(w, r)
	if !ok {
		return
	}

	messages, err := h.assistant.GetMessages(r.Context(), userID, model, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.OK(w, messages)
}

// Delete removes a session; deleting a missing session succeeds
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, model, ok := userAndModel(w, r)
	if !ok {
		return
	}

	if err := h.assistant.DeleteSession(r.Context(), userID, model, chi.URLParam(r, "sessionID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.NoContent(w)
}
