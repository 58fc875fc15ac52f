package usage

import (
	"context"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// QuotaReader is the part of the quota ledger the reporter needs
type QuotaReader interface {
	GetQuota(ctx context.Context, userID string) (domain.UserQuota, error)
	Limit() int
}

// SessionLister is the part of the chat store the reporter needs
type SessionLister interface {
	ListSessions(ctx context.Context, userID string, model domain.Model) ([]domain.SessionSummary, error)
}

// Reporter composes display statistics. It never fails.
type Reporter struct {
	quota    QuotaReader
	sessions SessionLister
	window   time.Duration
	now      func() time.Time
}

// NewReporter creates a usage reporter
func NewReporter(quota QuotaReader, sessions SessionLister, window time.Duration) *Reporter {
	return &Reporter{
		quota:    quota,
		sessions: sessions,
		window:   window,
		now:      time.Now,
	}
}

// GetStats returns usage for the primary namespace, or a conservative default when
// either lookup fails
func (r *Reporter) GetStats(ctx context.Context, userID string) domain.UsageStats {
	now := r.now()

	sessions, err := r.sessions.ListSessions(ctx, userID, domain.PrimaryModel)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("usage stats: failed to list sessions")
		return r.fallback(now)
	}

	q, err := r.quota.GetQuota(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("usage stats: failed to read quota")
		return r.fallback(now)
	}

	return r.stats(now, len(sessions), q)
}

func (r *Reporter) fallback(now time.Time) domain.UsageStats {
	return r.stats(now, 0, domain.UserQuota{Tokens: 0, ResetAt: now.Add(r.window)})
}

func (r *Reporter) stats(now time.Time, conversations int, q domain.UserQuota) domain.UsageStats {
	limit := r.quota.Limit()
	remaining := limit - q.Tokens
	if remaining < 0 {
		remaining = 0
	}
	resetIn := q.ResetAt.Sub(now)
	if resetIn < 0 {
		resetIn = 0
	}
	return domain.UsageStats{
		Conversations: conversations,
		Tokens:        q.Tokens,
		TokenLimit:    limit,
		Remaining:     remaining,
		ResetAt:       q.ResetAt,
		ResetIn:       resetIn,
	}
}
