package domain

import "errors"

var (
	// ErrQuotaExceeded is returned when an action would push a user past the daily limit
	ErrQuotaExceeded = errors.New("daily token quota exceeded")

	// ErrQuotaContention is returned when a debit keeps losing conditional writes to other devices
	ErrQuotaContention = errors.New("quota update contention")

	ErrInvalidCost            = errors.New("cost must not be negative")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrUploadFailed           = errors.New("attachment upload failed")
	ErrInferenceFailed        = errors.New("reply generation failed")
	ErrSessionNotFound        = errors.New("chat session not found")
	ErrUnknownModel           = errors.New("unknown model")
	ErrEmptyMessage           = errors.New("message has neither text nor image")

	// ErrDocumentNotFound is returned by document stores for a missing path
	ErrDocumentNotFound = errors.New("document not found")

	// ErrVersionConflict is returned by PutIfVersion when the stored version differs
	ErrVersionConflict = errors.New("document version conflict")
)
