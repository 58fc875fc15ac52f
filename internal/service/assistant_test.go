package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/ally-chat/internal/chat"
	"github.com/Rrens/ally-chat/internal/domain"
	"github.com/Rrens/ally-chat/internal/llm"
	"github.com/Rrens/ally-chat/internal/quota"
	"github.com/Rrens/ally-chat/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockedService() (*AssistantService, *MockLedger, *MockChatStore, *MockProvider) {
	ledger := new(MockLedger)
	chats := new(MockChatStore)
	provider := new(MockProvider)
	svc := NewAssistantService(ledger, chats, nil, staticRouter{provider: provider})
	return svc, ledger, chats, provider
}

func TestSendMessage_Success(t *testing.T) {
	svc, ledger, chats, provider := newMockedService()
	ctx := context.Background()

	stored := []domain.Message{
		{ID: "m1", Author: domain.AuthorUser, Text: "earlier"},
		{ID: "m2", Author: domain.AuthorAssistant, Text: "reply"},
		{ID: "m3", Author: domain.AuthorUser, Text: "hello"},
	}
	final := append(append([]domain.Message{}, stored...), domain.Message{ID: "m4", Author: domain.AuthorAssistant, Text: "hi there"})

	var order []string
	var mu sync.Mutex
	record := func(step string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, step)
		}
	}

	ledger.On("CanAfford", ctx, "u1", 1).Return(true, nil).Run(record("afford")).Once()
	chats.On("AppendMessage", ctx, mock.MatchedBy(func(r domain.AppendRequest) bool {
		return r.Author == domain.AuthorUser && r.Text == "hello" && r.SessionID == ""
	})).Return("s1", nil).Run(record("append-user")).Once()
	ledger.On("Debit", ctx, "u1", 1).Return(true, nil).Run(record("debit")).Once()
	chats.On("GetMessages", ctx, "u1", domain.ModelAlly3, "s1").Return(stored, nil).Once()
	provider.On("Generate", mock.Anything, mock.MatchedBy(func(r llm.Request) bool {
		return r.Prompt == "hello" && len(r.History) == 2 && r.Model == domain.ModelAlly3
	})).Return(&llm.Response{Text: "hi there", LatencyMs: 12}, nil).Run(record("generate")).Once()
	chats.On("AppendMessage", ctx, mock.MatchedBy(func(r domain.AppendRequest) bool {
		return r.Author == domain.AuthorAssistant && r.SessionID == "s1" && r.Text == "hi there"
	})).Return("s1", nil).Run(record("append-reply")).Once()
	chats.On("GetMessages", ctx, "u1", domain.ModelAlly3, "s1").Return(final, nil).Once()

	result, err := svc.SendMessage(ctx, "u1", SendMessageRequest{Model: domain.ModelAlly3, Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "s1", result.SessionID)
	assert.Equal(t, 1, result.Cost)
	assert.Len(t, result.Messages, 4)
	assert.Equal(t, []string{"afford", "append-user", "debit", "generate", "append-reply"}, order)

	ledger.AssertExpectations(t)
	chats.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestSendMessage_CannotAfford(t *testing.T) {
	svc, ledger, chats, _ := newMockedService()
	ctx := context.Background()

	ledger.On("CanAfford", ctx, "u1", 11).Return(false, nil)

	_, err := svc.SendMessage(ctx, "u1", SendMessageRequest{
		Model: domain.ModelAlly3Image,
		Text:  "draw",
		Image: &domain.Attachment{Data: []byte("x"), ContentType: "image/png"},
	})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	chats.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
	ledger.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_LedgerUnavailableFailsClosed(t *testing.T) {
	svc, ledger, chats, _ := newMockedService()
	ctx := context.Background()

	ledger.On("CanAfford", ctx, "u1", 1).Return(false, domain.ErrPersistenceUnavailable)

	_, err := svc.SendMessage(ctx, "u1", SendMessageRequest{Model: domain.ModelAlly3, Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	chats.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
}

func TestSendMessage_AppendFailureSkipsDebit(t *testing.T) {
	svc, ledger, chats, _ := newMockedService()
	ctx := context.Background()

	ledger.On("CanAfford", ctx, "u1", 6).Return(true, nil)
	chats.On("AppendMessage", ctx, mock.Anything).Return("", domain.ErrUploadFailed)

	result, err := svc.SendMessage(ctx, "u1", SendMessageRequest{
		Model: domain.ModelAlly3,
		Image: &domain.Attachment{Data: []byte("x"), ContentType: "image/png"},
	})
	assert.ErrorIs(t, err, domain.ErrUploadFailed)
	assert.Nil(t, result)
	ledger.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_DebitRejectedAfterAppend(t *testing.T) {
	svc, ledger, chats, provider := newMockedService()
	ctx := context.Background()

	ledger.On("CanAfford", ctx, "u1", 1).Return(true, nil)
	chats.On("AppendMessage", ctx, mock.Anything).Return("s1", nil).Once()
	ledger.On("Debit", ctx, "u1", 1).Return(false, nil)

	result, err := svc.SendMessage(ctx, "u1", SendMessageRequest{Model: domain.ModelAlly3, Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	require.NotNil(t, result)
	assert.Equal(t, "s1", result.SessionID)
	provider.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestSendMessage_InferenceFailureKeepsMessage(t *testing.T) {
	svc, ledger, chats, provider := newMockedService()
	ctx := context.Background()

	ledger.On("CanAfford", ctx, "u1", 1).Return(true, nil)
	chats.On("AppendMessage", ctx, mock.Anything).Return("s1", nil).Once()
	ledger.On("Debit", ctx, "u1", 1).Return(true, nil)
	chats.On("GetMessages", ctx, "u1", domain.ModelAlly3, "s1").
		Return([]domain.Message{{ID: "m1", Author: domain.AuthorUser, Text: "hi"}}, nil)
	provider.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	result, err := svc.SendMessage(ctx, "u1", SendMessageRequest{SessionID: "s1", Model: domain.ModelAlly3, Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrInferenceFailed)
	require.NotNil(t, result)
	assert.Equal(t, "s1", result.SessionID)

	// exactly one append: the user message, no reply, no refund
	chats.AssertNumberOfCalls(t, "AppendMessage", 1)
	ledger.AssertNumberOfCalls(t, "Debit", 1)
}

func TestSendMessage_Validation(t *testing.T) {
	svc, _, _, _ := newMockedService()
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, "u1", SendMessageRequest{Model: "GPT-9", Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrUnknownModel)

	_, err = svc.SendMessage(ctx, "u1", SendMessageRequest{Model: domain.ModelAlly3})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
}

func TestCheckAffordability(t *testing.T) {
	svc, ledger, _, _ := newMockedService()
	ctx := context.Background()

	ledger.On("CanAfford", ctx, "u1", 16).Return(false, nil)

	a, err := svc.CheckAffordability(ctx, "u1", domain.ModelAlly3Image, 2)
	require.NoError(t, err)
	assert.Equal(t, 16, a.Cost)
	assert.False(t, a.Affordable)

	_, err = svc.CheckAffordability(ctx, "u1", domain.ModelAlly3, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidCost)
}

func TestSplitPrompt(t *testing.T) {
	msgs := []domain.Message{
		{ID: "1", Author: domain.AuthorUser, Text: "a"},
		{ID: "2", Author: domain.AuthorAssistant, Text: "b"},
		{ID: "3", Author: domain.AuthorUser, Text: "c", ImageURL: "https://cdn/c.png"},
	}
	prompt, history := splitPrompt(msgs)
	assert.Equal(t, "3", prompt.ID)
	assert.Len(t, history, 2)
}

// imageProvider returns raw image bytes like the image generation backend
type imageProvider struct{}

func (imageProvider) Name() string       { return "images" }
func (imageProvider) IsConfigured() bool { return true }
func (imageProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{ImageData: []byte("png"), ImageContentType: "image/png"}, nil
}

type recordingBlobs struct {
	mu      sync.Mutex
	uploads int
}

func (b *recordingBlobs) Upload(ctx context.Context, userID string, a domain.Attachment) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads++
	return "https://cdn.example/" + userID + "/img.png", nil
}

func TestSendMessage_EndToEndWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	docs := memory.NewStore()
	blobs := &recordingBlobs{}
	ledger := quota.NewLedger(docs, quota.DailyLimit, quota.Window)
	chats := chat.NewStore(docs, blobs, nil, "")
	svc := NewAssistantService(ledger, chats, nil, staticRouter{provider: imageProvider{}})
	svc.SetInferenceTimeout(5 * time.Second)

	result, err := svc.SendMessage(ctx, "u1", SendMessageRequest{Model: domain.ModelAlly3Image, Text: "a cat"})
	require.NoError(t, err)

	require.Len(t, result.Messages, 2)
	assert.Equal(t, domain.AuthorUser, result.Messages[0].Author)
	assert.Equal(t, domain.AuthorAssistant, result.Messages[1].Author)
	assert.Equal(t, "https://cdn.example/u1/img.png", result.Messages[1].ImageURL)
	assert.Equal(t, 1, blobs.uploads)

	q, err := ledger.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 6, q.Tokens)

	// spend the rest of the window: 6 + 11*6 = 72, next image turn costs 6
	for i := 0; i < 11; i++ {
		_, err := svc.SendMessage(ctx, "u1", SendMessageRequest{SessionID: result.SessionID, Model: domain.ModelAlly3Image, Text: "again"})
		require.NoError(t, err)
	}
	_, err = svc.SendMessage(ctx, "u1", SendMessageRequest{SessionID: result.SessionID, Model: domain.ModelAlly3Image, Text: "one more"})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

	q, err = ledger.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 72, q.Tokens)
}
