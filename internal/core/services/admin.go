package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

// AdminService is the narrow write path used by human agents.
// It never goes through the orchestrator: no matching, no LLM.
type AdminService struct {
	conversations ports.ConversationStore
	scenarios     ports.ScenarioStore
	deliveries    ports.DeliveryRepository
	deliverer     *Deliverer
	events        ports.EventPublisher
}

func NewAdminService(
	conversations ports.ConversationStore,
	scenarios ports.ScenarioStore,
	deliveries ports.DeliveryRepository,
	deliverer *Deliverer,
	events ports.EventPublisher,
) *AdminService {
	return &AdminService{
		conversations: conversations,
		scenarios:     scenarios,
		deliveries:    deliveries,
		deliverer:     deliverer,
		events:        events,
	}
}

func (s *AdminService) ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", domain.ErrInvalidInput, filter.Status)
	}
	if filter.Channel != "" && !filter.Channel.Valid() {
		return nil, fmt.Errorf("%w: channel %q", domain.ErrInvalidInput, filter.Channel)
	}
	return s.conversations.ListConversations(ctx, filter)
}

func (s *AdminService) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.conversations.GetConversation(ctx, id)
}

// ListMessages returns the thread oldest first
func (s *AdminService) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if _, err := s.conversations.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.conversations.ListMessages(ctx, conversationID)
}

// Reply stores an agent message and pushes it to the customer's channel.
// Delivery runs in the background; its outcome is visible via ListDeliveries.
func (s *AdminService) Reply(ctx context.Context, conversationID, text string, quickReplies []string) (*domain.Message, *domain.Delivery, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("%w: text is required", domain.ErrInvalidInput)
	}
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}

	msgType := domain.MessageTypeText
	if len(quickReplies) > 0 {
		msgType = domain.MessageTypeQuickReply
	}
	msg, err := s.conversations.AppendMessage(ctx, domain.NewMessage{
		ConversationID: conv.ID,
		SenderType:     domain.SenderTypeAdmin,
		MessageType:    msgType,
		Content:        domain.MessageContent{Text: text, QuickReplies: quickReplies},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("append admin message: %w", err)
	}
	s.publish(domain.EventMessageCreated, conv, msg)

	var delivery *domain.Delivery
	if s.deliverer != nil {
		out := domain.OutboundMessage{
			ConversationID: conv.ID,
			ResponseText:   text,
			QuickReplies:   quickReplies,
			BotMessageID:   msg.ID,
		}
		delivery, err = s.deliverer.Enqueue(ctx, conv.Channel, conv.ID, conv.ExternalSessionID, msg.ID, out)
		if err != nil {
			slog.Error("Failed to enqueue admin reply delivery",
				"error", err,
				"conversation_id", conv.ID,
			)
		}
	}

	slog.Info("Admin reply stored",
		"conversation_id", conv.ID,
		"channel", conv.Channel,
		"message_id", msg.ID,
	)
	return msg, delivery, nil
}

// SetAgentEnabled flips the agent gate; the next inbound turn observes it
func (s *AdminService) SetAgentEnabled(ctx context.Context, conversationID string, enabled bool) (*domain.Conversation, error) {
	conv, err := s.conversations.SetAgentEnabled(ctx, conversationID, enabled)
	if err != nil {
		return nil, err
	}
	slog.Info("Agent gate changed",
		"conversation_id", conv.ID,
		"agent_enabled", enabled,
	)
	s.publish(domain.EventConversationUpdated, conv, conv)
	return conv, nil
}

func (s *AdminService) UpdateConversation(ctx context.Context, conversationID string, patch domain.ConversationPatch) (*domain.Conversation, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", domain.ErrInvalidInput, *patch.Status)
	}
	conv, err := s.conversations.UpdateConversation(ctx, conversationID, patch)
	if err != nil {
		return nil, err
	}
	s.publish(domain.EventConversationUpdated, conv, conv)
	return conv, nil
}

func (s *AdminService) ListDeliveries(ctx context.Context, conversationID string) ([]domain.Delivery, error) {
	if _, err := s.conversations.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.deliveries.ListDeliveries(ctx, conversationID)
}

func (s *AdminService) ListScenarios(ctx context.Context) ([]domain.Scenario, error) {
	return s.scenarios.ListScenarios(ctx)
}

func (s *AdminService) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	return s.scenarios.GetScenario(ctx, id)
}

// SaveScenario validates then creates (empty ID) or replaces a scenario
func (s *AdminService) SaveScenario(ctx context.Context, sc *domain.Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	if err := s.scenarios.UpsertScenario(ctx, sc); err != nil {
		return err
	}
	slog.Info("Scenario saved", "scenario_id", sc.ID, "name", sc.Name, "active", sc.IsActive)
	s.publishScenario(sc.ID)
	return nil
}

func (s *AdminService) DeleteScenario(ctx context.Context, id string) error {
	if err := s.scenarios.DeleteScenario(ctx, id); err != nil {
		return err
	}
	slog.Info("Scenario deleted", "scenario_id", id)
	s.publishScenario(id)
	return nil
}

func (s *AdminService) publish(eventType string, conv *domain.Conversation, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.Event{
		Type:           eventType,
		ConversationID: conv.ID,
		Channel:        conv.Channel,
		Data:           data,
		At:             time.Now(),
	})
}

func (s *AdminService) publishScenario(id string) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.Event{
		Type: domain.EventScenarioChanged,
		Data: map[string]string{"scenario_id": id},
		At:   time.Now(),
	})
}
