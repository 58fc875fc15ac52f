package domain

import (
	"encoding/json"
	"time"
)

// UserQuota is a user's consumption within the current 24h window
type UserQuota struct {
	Tokens  int       `json:"tokens"`
	ResetAt time.Time `json:"reset_at"`
}

// Expired reports whether the window has ended at now
func (q UserQuota) Expired(now time.Time) bool {
	return now.After(q.ResetAt)
}

// quotaRecord is the persisted shape: resetAt in epoch milliseconds
type quotaRecord struct {
	Tokens  int   `json:"tokens"`
	ResetAt int64 `json:"resetAt"`
}

// MarshalQuota encodes a quota in its stored form
func MarshalQuota(q UserQuota) ([]byte, error) {
	return json.Marshal(quotaRecord{Tokens: q.Tokens, ResetAt: q.ResetAt.UnixMilli()})
}

// UnmarshalQuota decodes a stored quota record
func UnmarshalQuota(data []byte) (UserQuota, error) {
	var rec quotaRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return UserQuota{}, err
	}
	return UserQuota{Tokens: rec.Tokens, ResetAt: time.UnixMilli(rec.ResetAt)}, nil
}

// UsageStats is a read-only view composed for display
type UsageStats struct {
	Conversations int           `json:"conversations"`
	Tokens        int           `json:"tokens"`
	TokenLimit    int           `json:"token_limit"`
	Remaining     int           `json:"remaining"`
	ResetAt       time.Time     `json:"reset_at"`
	ResetIn       time.Duration `json:"reset_in"`
}
