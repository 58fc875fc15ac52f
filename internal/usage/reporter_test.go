package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockQuotaReader mocks QuotaReader
type MockQuotaReader struct {
	mock.Mock
}

func (m *MockQuotaReader) GetQuota(ctx context.Context, userID string) (domain.UserQuota, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(domain.UserQuota), args.Error(1)
}

func (m *MockQuotaReader) Limit() int {
	return 75
}

// MockSessionLister mocks SessionLister
type MockSessionLister struct {
	mock.Mock
}

func (m *MockSessionLister) ListSessions(ctx context.Context, userID string, model domain.Model) ([]domain.SessionSummary, error) {
	args := m.Called(ctx, userID, model)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SessionSummary), args.Error(1)
}

func newTestReporter(q *MockQuotaReader, s *MockSessionLister) (*Reporter, time.Time) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	r := NewReporter(q, s, 24*time.Hour)
	r.now = func() time.Time { return now }
	return r, now
}

func TestReporter_GetStats(t *testing.T) {
	ctx := context.Background()
	quota := new(MockQuotaReader)
	sessions := new(MockSessionLister)
	r, now := newTestReporter(quota, sessions)

	sessions.On("ListSessions", ctx, "u1", domain.ModelAlly3).
		Return([]domain.SessionSummary{{ID: "a"}, {ID: "b"}}, nil)
	quota.On("GetQuota", ctx, "u1").
		Return(domain.UserQuota{Tokens: 12, ResetAt: now.Add(3 * time.Hour)}, nil)

	stats := r.GetStats(ctx, "u1")
	assert.Equal(t, 2, stats.Conversations)
	assert.Equal(t, 12, stats.Tokens)
	assert.Equal(t, 75, stats.TokenLimit)
	assert.Equal(t, 63, stats.Remaining)
	assert.Equal(t, 3*time.Hour, stats.ResetIn)

	sessions.AssertExpectations(t)
	quota.AssertExpectations(t)
}

func TestReporter_DefaultsOnFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("sessions fail", func(t *testing.T) {
		quota := new(MockQuotaReader)
		sessions := new(MockSessionLister)
		r, now := newTestReporter(quota, sessions)
		sessions.On("ListSessions", ctx, "u1", domain.ModelAlly3).Return(nil, errors.New("timeout"))

		stats := r.GetStats(ctx, "u1")
		assert.Equal(t, 0, stats.Conversations)
		assert.Equal(t, 0, stats.Tokens)
		assert.Equal(t, 75, stats.TokenLimit)
		assert.Equal(t, now.Add(24*time.Hour), stats.ResetAt)
		quota.AssertNotCalled(t, "GetQuota", mock.Anything, mock.Anything)
	})

	t.Run("quota fails", func(t *testing.T) {
		quota := new(MockQuotaReader)
		sessions := new(MockSessionLister)
		r, now := newTestReporter(quota, sessions)
		sessions.On("ListSessions", ctx, "u1", domain.ModelAlly3).Return([]domain.SessionSummary{{ID: "a"}}, nil)
		quota.On("GetQuota", ctx, "u1").Return(domain.UserQuota{}, domain.ErrPersistenceUnavailable)

		stats := r.GetStats(ctx, "u1")
		assert.Equal(t, 0, stats.Conversations)
		assert.Equal(t, 75, stats.TokenLimit)
		assert.Equal(t, now.Add(24*time.Hour), stats.ResetAt)
	})
}
