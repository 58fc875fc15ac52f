package llm_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rrens/ally-chat/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/huge":
			w.Write(bytes.Repeat([]byte{0}, llm.MaxImageBytes+1))
		default:
			w.Write(png)
		}
	}))
	defer srv.Close()

	data, mimeType, err := llm.FetchImage(context.Background(), srv.Client(), srv.URL+"/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, png, data)

	_, _, err = llm.FetchImage(context.Background(), srv.Client(), srv.URL+"/missing")
	assert.Error(t, err)

	_, _, err = llm.FetchImage(context.Background(), srv.Client(), srv.URL+"/huge")
	assert.Error(t, err)
}
