package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bewo-chat/internal/core/domain"
)

// ============================================================================
// Test Helpers
// ============================================================================

func createTestDispatcher() (*Dispatcher, *MockTurn, *MockWebhookRepository, *MockDedupRepository) {
	turns := new(MockTurn)
	webhookRepo := new(MockWebhookRepository)
	dedupRepo := new(MockDedupRepository)

	dispatcher := NewDispatcher(turns, webhookRepo, dedupRepo, nil, 0)
	return dispatcher, turns, webhookRepo, dedupRepo
}

// createValidUserMessagePayload creates a valid Facebook webhook payload with a user message
func createValidUserMessagePayload() []byte {
	payload := map[string]interface{}{
		"object": "page",
		"entry": []map[string]interface{}{
			{
				"id":   "PAGE_ID_123",
				"time": 1704067200000,
				"messaging": []map[string]interface{}{
					{
						"sender":    map[string]string{"id": "USER_PSID_123"},
						"recipient": map[string]string{"id": "PAGE_ID_123"},
						"timestamp": 1704067200000,
						"message": map[string]interface{}{
							"mid":  "mid.test123",
							"text": "Hello, I need help!",
						},
					},
				},
			},
		},
	}
	data, _ := json.Marshal(payload)
	return data
}

// createEchoMessagePayload creates a payload with an echo message (should be filtered)
func createEchoMessagePayload() []byte {
	payload := map[string]interface{}{
		"object": "page",
		"entry": []map[string]interface{}{
			{
				"id":   "PAGE_ID_123",
				"time": 1704067200000,
				"messaging": []map[string]interface{}{
					{
						"sender":    map[string]string{"id": "PAGE_ID_123"},
						"recipient": map[string]string{"id": "USER_PSID_123"},
						"timestamp": 1704067200000,
						"message": map[string]interface{}{
							"mid":     "mid.echo123",
							"text":    "This is an echo",
							"is_echo": true,
						},
					},
				},
			},
		},
	}
	data, _ := json.Marshal(payload)
	return data
}

func botReply(text string) *domain.OutboundMessage {
	return &domain.OutboundMessage{
		ConversationID: "conv-1",
		ResponseText:   text,
		QuickReplies:   []string{},
		Strategy:       StrategyTemplate,
		BotMessageID:   "msg-bot-1",
		AutoReplied:    true,
	}
}

// ============================================================================
// Test Cases
// ============================================================================

// TestProcessWebhook_ValidMessage tests the happy path for a user message
func TestProcessWebhook_ValidMessage(t *testing.T) {
	dispatcher, turns, webhookRepo, dedupRepo := createTestDispatcher()

	payload := createValidUserMessagePayload()
	ctx := context.Background()

	webhookRepo.On("SaveLog", ctx, mock.AnythingOfType("*domain.WebhookLog")).Return(nil)
	webhookRepo.On("UpdateStatus", mock.Anything, "log-1", domain.WebhookStatusProcessed, "").Return(nil)
	dedupRepo.On("Claim", ctx, "facebook:mid.test123", 24*time.Hour).Return(true, nil)
	turns.On("HandleInbound", ctx, mock.MatchedBy(func(in domain.InboundMessage) bool {
		return in.Channel == domain.ChannelFacebook &&
			in.ExternalSessionID == "USER_PSID_123" &&
			in.ExternalMessageID == "mid.test123" &&
			in.Text == "Hello, I need help!"
	})).Return(botReply("Chào chị"), nil)

	result, err := dispatcher.ProcessWebhook(ctx, domain.ChannelFacebook, payload)

	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Received: 1, Processed: 1}, result)
	webhookRepo.AssertExpectations(t)
	dedupRepo.AssertExpectations(t)
	turns.AssertExpectations(t)
}

// TestProcessWebhook_EchoMessage tests that echo messages are filtered out
func TestProcessWebhook_EchoMessage(t *testing.T) {
	dispatcher, turns, webhookRepo, dedupRepo := createTestDispatcher()

	payload := createEchoMessagePayload()
	ctx := context.Background()

	// Only the audit log is touched
	webhookRepo.On("SaveLog", ctx, mock.AnythingOfType("*domain.WebhookLog")).Return(nil)
	webhookRepo.On("UpdateStatus", mock.Anything, "log-1", domain.WebhookStatusProcessed, "").Return(nil)

	result, err := dispatcher.ProcessWebhook(ctx, domain.ChannelFacebook, payload)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Received)
	turns.AssertNotCalled(t, "HandleInbound", mock.Anything, mock.Anything)
	dedupRepo.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

// TestProcessWebhook_DuplicateMessage tests deduplication logic
func TestProcessWebhook_DuplicateMessage(t *testing.T) {
	dispatcher, turns, webhookRepo, dedupRepo := createTestDispatcher()

	payload := createValidUserMessagePayload()
	ctx := context.Background()

	webhookRepo.On("SaveLog", ctx, mock.AnythingOfType("*domain.WebhookLog")).Return(nil)
	webhookRepo.On("UpdateStatus", mock.Anything, "log-1", domain.WebhookStatusProcessed, "").Return(nil)
	dedupRepo.On("Claim", ctx, "facebook:mid.test123", 24*time.Hour).Return(false, nil) // already claimed

	result, err := dispatcher.ProcessWebhook(ctx, domain.ChannelFacebook, payload)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 0, result.Processed)
	turns.AssertNotCalled(t, "HandleInbound", mock.Anything, mock.Anything)
}

// TestProcessWebhook_StoreDuplicate tests the durable idempotency key behind the claim
func TestProcessWebhook_StoreDuplicate(t *testing.T) {
	dispatcher, turns, webhookRepo, dedupRepo := createTestDispatcher()

	payload := createValidUserMessagePayload()
	ctx := context.Background()

	webhookRepo.On("SaveLog", ctx, mock.AnythingOfType("*domain.WebhookLog")).Return(nil)
	webhookRepo.On("UpdateStatus", mock.Anything, "log-1", domain.WebhookStatusProcessed, "").Return(nil)
	dedupRepo.On("Claim", ctx, "facebook:mid.test123", 24*time.Hour).Return(true, nil)
	turns.On("HandleInbound", ctx, mock.Anything).Return(nil, domain.ErrDuplicateMessage)

	result, err := dispatcher.ProcessWebhook(ctx, domain.ChannelFacebook, payload)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Duplicates)
	dedupRepo.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

// TestProcessWebhook_InvalidJSON tests handling of malformed JSON
func TestProcessWebhook_InvalidJSON(t *testing.T) {
	dispatcher, turns, webhookRepo, _ := createTestDispatcher()

	invalidPayload := []byte(`{"invalid json`)
	ctx := context.Background()

	webhookRepo.On("SaveLog", ctx, mock.AnythingOfType("*domain.WebhookLog")).Return(nil)
	webhookRepo.On("UpdateStatus", mock.Anything, "log-1", domain.WebhookStatusFailed, mock.AnythingOfType("string")).Return(nil)

	var err error
	assert.NotPanics(t, func() {
		_, err = dispatcher.ProcessWebhook(ctx, domain.ChannelFacebook, invalidPayload)
	})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	webhookRepo.AssertExpectations(t)
	turns.AssertNotCalled(t, "HandleInbound", mock.Anything, mock.Anything)
}

// TestProcessWebhook_DedupError tests that a dedup outage does not stop processing
func TestProcessWebhook_DedupError(t *testing.T) {
	dispatcher, turns, webhookRepo, dedupRepo := createTestDispatcher()

	payload := createValidUserMessagePayload()
	ctx := context.Background()

	webhookRepo.On("SaveLog", ctx, mock.AnythingOfType("*domain.WebhookLog")).Return(nil)
	webhookRepo.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	dedupRepo.On("Claim", ctx, "facebook:mid.test123", 24*time.Hour).Return(false, errors.New("redis connection error"))
	turns.On("HandleInbound", ctx, mock.Anything).Return(botReply("ok"), nil)

	result, err := dispatcher.ProcessWebhook(ctx, domain.ChannelFacebook, payload)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	turns.AssertExpectations(t)
}

// TestProcessWebhook_PersistenceFailure tests that the claim is released for redelivery
func TestProcessWebhook_PersistenceFailure(t *testing.T) {
	dispatcher, turns, webhookRepo, dedupRepo := createTestDispatcher()

	payload := createValidUserMessagePayload()
	ctx := context.Background()

	webhookRepo.On("SaveLog", ctx, mock.AnythingOfType("*domain.WebhookLog")).Return(nil)
	webhookRepo.On("UpdateStatus", mock.Anything, "log-1", domain.WebhookStatusFailed, mock.AnythingOfType("string")).Return(nil)
	dedupRepo.On("Claim", ctx, "facebook:mid.test123", 24*time.Hour).Return(true, nil)
	dedupRepo.On("Release", mock.Anything, "facebook:mid.test123").Return(nil)
	turns.On("HandleInbound", ctx, mock.Anything).
		Return(nil, domain.NewPersistenceError("append customer message", errors.New("database error")))

	result, err := dispatcher.ProcessWebhook(ctx, domain.ChannelFacebook, payload)

	assert.ErrorIs(t, err, domain.ErrPersistenceFailed)
	assert.Equal(t, 1, result.Failed)
	dedupRepo.AssertExpectations(t)
	webhookRepo.AssertExpectations(t)
}

// TestProcessWebhook_SaveLogError tests that the audit trail never blocks messages
func TestProcessWebhook_SaveLogError(t *testing.T) {
	dispatcher, turns, webhookRepo, dedupRepo := createTestDispatcher()

	payload := createValidUserMessagePayload()
	ctx := context.Background()

	webhookRepo.On("SaveLog", ctx, mock.AnythingOfType("*domain.WebhookLog")).Return(errors.New("disk full"))
	dedupRepo.On("Claim", ctx, mock.Anything, mock.Anything).Return(true, nil)
	turns.On("HandleInbound", ctx, mock.Anything).Return(botReply("ok"), nil)

	result, err := dispatcher.ProcessWebhook(ctx, domain.ChannelFacebook, payload)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	webhookRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestProcessWebhook_UnknownChannel tests that web traffic is not a webhook
func TestProcessWebhook_UnknownChannel(t *testing.T) {
	dispatcher, _, webhookRepo, _ := createTestDispatcher()

	_, err := dispatcher.ProcessWebhook(context.Background(), domain.ChannelWeb, []byte(`{}`))

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	webhookRepo.AssertNotCalled(t, "SaveLog", mock.Anything, mock.Anything)
}

// TestProcessWebhook_PanicRecovery tests that panics are recovered gracefully
func TestProcessWebhook_PanicRecovery(t *testing.T) {
	dispatcher, _, webhookRepo, dedupRepo := createTestDispatcher()

	payload := createValidUserMessagePayload()
	ctx := context.Background()

	webhookRepo.On("SaveLog", ctx, mock.AnythingOfType("*domain.WebhookLog")).Return(nil)
	dedupRepo.On("Claim", ctx, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		panic("simulated panic in dedup check")
	}).Return(false, nil)

	var err error
	assert.NotPanics(t, func() {
		_, err = dispatcher.ProcessWebhook(ctx, domain.ChannelFacebook, payload)
	})
	assert.Error(t, err)
}

// TestHandleDirect_NoExternalID tests that web turns without ids skip the claim
func TestHandleDirect_NoExternalID(t *testing.T) {
	dispatcher, turns, _, dedupRepo := createTestDispatcher()

	ctx := context.Background()
	in := domain.InboundMessage{Channel: domain.ChannelWeb, ExternalSessionID: "web-1", Text: "hi"}
	turns.On("HandleInbound", ctx, in).Return(botReply("Chào chị"), nil)

	out, err := dispatcher.HandleDirect(ctx, in)

	require.NoError(t, err)
	assert.Equal(t, "Chào chị", out.ResponseText)
	dedupRepo.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "zalo:msg-1", DedupKey(domain.ChannelZalo, "msg-1"))
}
