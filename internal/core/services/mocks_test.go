package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"bewo-chat/internal/core/domain"
)

// ============================================================================
// Mock Ports
// ============================================================================

// MockWebhookRepository mocks WebhookRepository interface
type MockWebhookRepository struct {
	mock.Mock
}

func (m *MockWebhookRepository) SaveLog(ctx context.Context, log *domain.WebhookLog) error {
	args := m.Called(ctx, log)
	if args.Error(0) == nil && log.ID == "" {
		log.ID = "log-1"
	}
	return args.Error(0)
}

func (m *MockWebhookRepository) UpdateStatus(ctx context.Context, id string, status string, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *MockWebhookRepository) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockDedupRepository mocks DedupRepository interface
type MockDedupRepository struct {
	mock.Mock
}

func (m *MockDedupRepository) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDedupRepository) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockTurn mocks the orchestrator entry point
type MockTurn struct {
	mock.Mock
}

func (m *MockTurn) HandleInbound(ctx context.Context, in domain.InboundMessage) (*domain.OutboundMessage, error) {
	args := m.Called(ctx, in)
	// Safely handle nil return
	if result := args.Get(0); result != nil {
		return result.(*domain.OutboundMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockLLMGateway mocks LLMGateway interface
type MockLLMGateway struct {
	mock.Mock
}

func (m *MockLLMGateway) ChatCompletion(ctx context.Context, req domain.ChatRequest) (*domain.ChatResult, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		return result.(*domain.ChatResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockChannelSender mocks ChannelSender interface
type MockChannelSender struct {
	mock.Mock
	channel domain.Channel
}

func (m *MockChannelSender) Channel() domain.Channel {
	return m.channel
}

func (m *MockChannelSender) Send(ctx context.Context, recipient string, msg domain.OutboundMessage) error {
	args := m.Called(ctx, recipient, msg)
	return args.Error(0)
}

// eventRecorder collects published events
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Publish(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// jsonReply builds a gateway result the way the real gateway returns JSON mode output
func jsonReply(reply string, quickReplies ...string) *domain.ChatResult {
	qr := make([]any, 0, len(quickReplies))
	for _, q := range quickReplies {
		qr = append(qr, q)
	}
	return &domain.ChatResult{
		RawResponse:      `{"reply":"` + reply + `"}`,
		Content:          `{"reply":"` + reply + `"}`,
		JSON:             map[string]any{"reply": reply, "quick_replies": qr},
		PromptTokens:     12,
		CompletionTokens: 8,
	}
}
