package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// ErrInvalidName is returned by Open for names this storage never issues
var ErrInvalidName = errors.New("invalid blob name")

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var namePattern = regexp.MustCompile(`^[0-9a-f]{64}\.(png|jpg|gif|webp)$`)

// LocalStorage keeps image blobs on the local filesystem under content-addressed names
type LocalStorage struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewLocalStorage creates the upload directory if needed
func NewLocalStorage(dir, publicBaseURL string, maxBytes int64) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalStorage{
		dir:      dir,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

// Upload stores the attachment and returns its public URL. Identical uploads
// by the same user resolve to the same name.
func (s *LocalStorage) Upload(ctx context.Context, userID string, a domain.Attachment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(a.Data) == 0 {
		return "", errors.New("empty attachment")
	}
	if s.maxBytes > 0 && int64(len(a.Data)) > s.maxBytes {
		return "", fmt.Errorf("attachment exceeds %d bytes", s.maxBytes)
	}

	// the bytes decide the type; a declared type must agree with them
	contentType := http.DetectContentType(a.Data)
	if a.ContentType != "" && a.ContentType != contentType {
		return "", fmt.Errorf("declared content type %s does not match data (%s)", a.ContentType, contentType)
	}
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}

	name := blobName(userID, a.Data) + ext
	dest := filepath.Join(s.dir, name)

	if _, err := os.Stat(dest); err == nil {
		return s.url(name), nil
	}

	// write to a temp file first so readers never see a partial blob
	tmp := filepath.Join(s.dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	log.Debug().Str("user_id", userID).Str("blob", name).Int("bytes", len(a.Data)).Msg("blob stored")
	return s.url(name), nil
}

// Open returns a stored blob with its content type
func (s *LocalStorage) Open(name string) (io.ReadSeekCloser, string, error) {
	if !namePattern.MatchString(name) {
		return nil, "", ErrInvalidName
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, "", err
	}

	contentType := "application/octet-stream"
	for ct, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			contentType = ct
			break
		}
	}
	return f, contentType, nil
}

func (s *LocalStorage) url(name string) string {
	return s.baseURL + "/" + name
}

func blobName(userID string, data []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
