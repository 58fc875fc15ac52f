package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	// DailyLimit is the number of tokens a user may spend per window
	DailyLimit = 75

	// Window is the length of a quota window
	Window = 24 * time.Hour

	// MaxDebitAttempts bounds the optimistic retry loop of a debit
	MaxDebitAttempts = 5
)

// Ledger tracks a rolling token allowance per user on top of a DocumentStore
type Ledger struct {
	store  domain.DocumentStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewLedger creates a ledger. Zero limit or window fall back to DailyLimit and Window.
func NewLedger(store domain.DocumentStore, limit int, window time.Duration) *Ledger {
	if limit <= 0 {
		limit = DailyLimit
	}
	if window <= 0 {
		window = Window
	}
	return &Ledger{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Limit returns the per-window allowance
func (l *Ledger) Limit() int {
	return l.limit
}

// GetQuota returns the current quota, creating it or starting a new window when needed
func (l *Ledger) GetQuota(ctx context.Context, userID string) (domain.UserQuota, error) {
	q, _, err := l.load(ctx, userID)
	return q, err
}

// CanAfford reports whether cost fits in the remaining allowance.
// Any error comes back with false so callers fail closed.
func (l *Ledger) CanAfford(ctx context.Context, userID string, cost int) (bool, error) {
	if cost < 0 {
		return false, domain.ErrInvalidCost
	}
	q, err := l.GetQuota(ctx, userID)
	if err != nil {
		return false, err
	}
	return q.Tokens+cost <= l.limit, nil
}

// Debit adds cost to the user's consumption. It returns false without writing when the
// result would exceed the limit. Concurrent debits from other devices are detected through
// conditional writes and retried; persistent contention yields ErrQuotaContention.
func (l *Ledger) Debit(ctx context.Context, userID string, cost int) (bool, error) {
	if cost < 0 {
		return false, domain.ErrInvalidCost
	}

	for attempt := 1; attempt <= MaxDebitAttempts; attempt++ {
		q, version, err := l.load(ctx, userID)
		if err != nil {
			return false, err
		}

		newTokens := q.Tokens + cost
		if newTokens > l.limit {
			return false, nil
		}

		q.Tokens = newTokens
		data, err := domain.MarshalQuota(q)
		if err != nil {
			return false, fmt.Errorf("failed to marshal quota: %w", err)
		}

		err = l.store.PutIfVersion(ctx, domain.QuotaPath(userID), data, version)
		if err == nil {
			log.Debug().Str("user_id", userID).Int("cost", cost).Int("tokens", newTokens).Msg("quota debited")
			return true, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return false, fmt.Errorf("failed to write quota: %w: %w", domain.ErrPersistenceUnavailable, err)
		}

		log.Debug().Str("user_id", userID).Int("attempt", attempt).Msg("quota debit lost a concurrent write, retrying")
	}

	log.Warn().Str("user_id", userID).Int("cost", cost).Msg("quota debit gave up after repeated conflicts")
	return false, domain.ErrQuotaContention
}

// load reads the quota and the version to write against, initializing or resetting it first
func (l *Ledger) load(ctx context.Context, userID string) (domain.UserQuota, int64, error) {
	path := domain.QuotaPath(userID)

	for attempt := 1; attempt <= MaxDebitAttempts; attempt++ {
		doc, err := l.store.Get(ctx, path)

		var version int64
		switch {
		case errors.Is(err, domain.ErrDocumentNotFound):
			// first read for this user
		case err != nil:
			return domain.UserQuota{}, 0, fmt.Errorf("failed to read quota: %w: %w", domain.ErrPersistenceUnavailable, err)
		default:
			q, err := domain.UnmarshalQuota(doc.Data)
			if err != nil {
				return domain.UserQuota{}, 0, fmt.Errorf("failed to decode quota: %w: %w", domain.ErrPersistenceUnavailable, err)
			}
			if !q.Expired(l.now()) {
				return q, doc.Version, nil
			}
			version = doc.Version
		}

		fresh := domain.UserQuota{Tokens: 0, ResetAt: l.now().Add(l.window)}
		data, err := domain.MarshalQuota(fresh)
		if err != nil {
			return domain.UserQuota{}, 0, fmt.Errorf("failed to marshal quota: %w", err)
		}

		err = l.store.PutIfVersion(ctx, path, data, version)
		if err == nil {
			log.Info().Str("user_id", userID).Time("reset_at", fresh.ResetAt).Msg("quota window started")
			// millisecond precision is what gets stored
			fresh.ResetAt = time.UnixMilli(fresh.ResetAt.UnixMilli())
			return fresh, version + 1, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return domain.UserQuota{}, 0, fmt.Errorf("failed to write quota: %w: %w", domain.ErrPersistenceUnavailable, err)
		}
		// another device initialized or reset the window first; use its record
	}

	return domain.UserQuota{}, 0, domain.ErrQuotaContention
}
