package ports

import (
	"context"

	"bewo-chat/internal/core/domain"
)

// LLMGateway executes chat completions against the configured providers.
// Failures are always *domain.LLMError. Never retries internally.
type LLMGateway interface {
	ChatCompletion(ctx context.Context, req domain.ChatRequest) (*domain.ChatResult, error)
}

// ConversationLocker serializes work on a single conversation key
type ConversationLocker interface {
	// Lock blocks until the key is held or ctx is done
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ChannelSender pushes an outbound message through a channel's messaging API
type ChannelSender interface {
	Channel() domain.Channel
	Send(ctx context.Context, recipient string, msg domain.OutboundMessage) error
}

// EventPublisher fans conversation events out to admin subscribers
type EventPublisher interface {
	Publish(event domain.Event)
}

// Turn is the orchestrator entry point invoked by every channel adapter
type Turn interface {
	HandleInbound(ctx context.Context, in domain.InboundMessage) (*domain.OutboundMessage, error)
}
