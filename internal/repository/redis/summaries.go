package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/identity"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	summaryPrefix     = "summaries:"
	generationPrefix  = "summarygen:"
	defaultSummaryTTL = 10 * time.Minute
	generationTTL     = 24 * time.Hour
)

// setIfGeneration writes the list only while the generation counter is unchanged.
// KEYS[1] = generation key, KEYS[2] = summary key
// ARGV[1] = expected generation, ARGV[2] = payload, ARGV[3] = ttl in ms
var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// SummaryCache caches session history lists per user and model
type SummaryCache struct {
	client *Client
	ttl    time.Duration
}

// NewSummaryCache creates a new summary cache
func NewSummaryCache(client *Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = defaultSummaryTTL
	}
	return &SummaryCache{client: client, ttl: ttl}
}

func summaryKey(userID string, model domain.Model) string {
	return summaryPrefix + userID + ":" + string(model)
}

func generationKey(userID string, model domain.Model) string {
	return generationPrefix + userID + ":" + string(model)
}

// Get returns the cached list; any failure is reported as a miss
func (c *SummaryCache) Get(ctx context.Context, userID string, model domain.Model) ([]domain.SessionSummary, bool) {
	data, err := c.client.rdb.Get(ctx, summaryKey(userID, model)).Bytes()
	if err != nil {
		return nil, false // Cache miss
	}

	var summaries []domain.SessionSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("dropping unreadable summary cache entry")
		c.Invalidate(ctx, userID, model)
		return nil, false
	}
	return summaries, true
}

// Generation returns the namespace's invalidation counter; a missing counter is 0
func (c *SummaryCache) Generation(ctx context.Context, userID string, model domain.Model) (int64, bool) {
	gen, err := c.client.rdb.Get(ctx, generationKey(userID, model)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to read summary generation")
		return 0, false
	}
	return gen, true
}

// Set caches the list of a namespace unless it was invalidated after gen was read
func (c *SummaryCache) Set(ctx context.Context, userID string, model domain.Model, gen int64, summaries []domain.SessionSummary) {
	data, err := json.Marshal(summaries)
	if err != nil {
		return
	}
	keys := []string{generationKey(userID, model), summaryKey(userID, model)}
	err = setIfGeneration.Run(ctx, c.client.rdb, keys, strconv.FormatInt(gen, 10), data, c.ttl.Milliseconds()).Err()
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to cache session summaries")
	}
}

// Invalidate bumps the namespace generation and removes its cached list
func (c *SummaryCache) Invalidate(ctx context.Context, userID string, model domain.Model) {
	genKey := generationKey(userID, model)
	pipe := c.client.rdb.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, generationTTL)
	pipe.Del(ctx, summaryKey(userID, model))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to invalidate session summaries")
	}
}

// InvalidateUser removes every cached list of a user
func (c *SummaryCache) InvalidateUser(ctx context.Context, userID string) error {
	_, err := c.client.deleteMatching(ctx, globEscape(summaryPrefix+userID+":")+"*")
	return err
}

// Watch evicts a user's entries when they sign out. Call the returned
// function to stop watching.
func (c *SummaryCache) Watch(hub *identity.Hub) func() {
	return hub.Subscribe(func(e identity.Event) {
		if e.Kind != identity.SignedOut {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.InvalidateUser(ctx, e.UserID); err != nil {
			log.Warn().Err(err).Str("user_id", e.UserID).Msg("failed to evict summaries on sign-out")
		}
	})
}
