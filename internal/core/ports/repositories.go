// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"bewo-chat/internal/core/domain"
)

// ConversationStore is the durable record of conversations and their ordered messages
type ConversationStore interface {
	// GetOrCreateConversation returns the conversation for (channel, external_session_id),
	// creating it on first contact. customerName only fills an empty name.
	GetOrCreateConversation(ctx context.Context, channel domain.Channel, externalSessionID, customerName string) (*domain.Conversation, error)

	// GetConversation is a live read; callers rely on it for the agent gate
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// AppendMessage assigns id and a created_at strictly greater than the previous
	// message of the same conversation, and bumps last_message_at.
	// Returns domain.ErrDuplicateMessage when ExternalMessageID was already
	// stored for the same conversation.
	AppendMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error)

	// ExternalMessageExists checks the durable idempotency key, which is
	// scoped to one conversation (and therefore one channel)
	ExternalMessageExists(ctx context.Context, conversationID, externalMessageID string) (bool, error)

	ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error)

	// ListMessages returns messages ordered by created_at ascending
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)

	// RecentMessages returns at most limit latest messages, still oldest first
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)

	SetAgentEnabled(ctx context.Context, conversationID string, enabled bool) (*domain.Conversation, error)
	UpdateConversation(ctx context.Context, conversationID string, patch domain.ConversationPatch) (*domain.Conversation, error)
}

// ScenarioStore holds response rules. The orchestrator only reads.
type ScenarioStore interface {
	ListActiveScenarios(ctx context.Context) ([]domain.Scenario, error)
	ListScenarios(ctx context.Context) ([]domain.Scenario, error)
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)

	// UpsertScenario creates when ID is empty, otherwise replaces
	UpsertScenario(ctx context.Context, s *domain.Scenario) error
	DeleteScenario(ctx context.Context, id string) error
}

// WebhookRepository handles persistence of webhook audit logs
// All webhooks are logged for audit and replay
type WebhookRepository interface {
	// SaveLog persists a webhook event to the audit log
	SaveLog(ctx context.Context, log *domain.WebhookLog) error

	// UpdateStatus moves a log through pending -> processed/failed
	UpdateStatus(ctx context.Context, id string, status string, errMsg string) error

	// PurgeProcessedBefore deletes processed logs older than cutoff
	PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeliveryRepository records outbound channel sends
type DeliveryRepository interface {
	CreateDelivery(ctx context.Context, d *domain.Delivery) error
	UpdateDelivery(ctx context.Context, d *domain.Delivery) error
	ListDeliveries(ctx context.Context, conversationID string) ([]domain.Delivery, error)
}

// UsageRepository keeps the LLM usage ledger
type UsageRepository interface {
	RecordUsage(ctx context.Context, u *domain.UsageLog) error
	ListUsage(ctx context.Context, limit int) ([]domain.UsageLog, error)
}

// DedupRepository claims idempotency keys before processing
type DedupRepository interface {
	// Claim atomically marks key as in-flight/processed.
	// Returns false when another delivery already claimed it.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release forgets a claim so a platform redelivery can be processed again
	Release(ctx context.Context, key string) error
}
