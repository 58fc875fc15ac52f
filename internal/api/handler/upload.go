package handler

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/Rrens/ally-chat/internal/api/response"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// BlobReader opens stored uploads by name
type BlobReader interface {
	Open(name string) (io.ReadSeekCloser, string, error)
}

// UploadHandler serves stored image uploads
type UploadHandler struct {
	blobs BlobReader
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(blobs BlobReader) *UploadHandler {
	return &UploadHandler{blobs: blobs}
}

// Serve streams an upload. Names are content addressed, so responses are immutable.
func (h *UploadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	f, contentType, err := h.blobs.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Debug().Err(err).Str("name", name).Msg("upload lookup failed")
		}
		response.NotFound(w, "upload not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, name, time.Time{}, f)
}
