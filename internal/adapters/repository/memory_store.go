package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

var (
	_ ports.ConversationStore  = (*MemoryStore)(nil)
	_ ports.ScenarioStore      = (*MemoryStore)(nil)
	_ ports.WebhookRepository  = (*MemoryStore)(nil)
	_ ports.DeliveryRepository = (*MemoryStore)(nil)
)

// MemoryStore is a process-local implementation of every store port.
// Used by tests and by STORE_DRIVER=memory for local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
	bySession     map[string]string // channel:session -> conversation id
	messages      map[string][]domain.Message
	externalIDs   map[string]struct{} // conversation id + external id
	scenarios     map[string]domain.Scenario
	webhookLogs   map[string]domain.WebhookLog
	deliveries    map[string]domain.Delivery
	usage         []domain.UsageLog

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*domain.Conversation),
		bySession:     make(map[string]string),
		messages:      make(map[string][]domain.Message),
		externalIDs:   make(map[string]struct{}),
		scenarios:     make(map[string]domain.Scenario),
		webhookLogs:   make(map[string]domain.WebhookLog),
		deliveries:    make(map[string]domain.Delivery),
		now:           time.Now,
	}
}

// ============================================================================
// ConversationStore
// ============================================================================

func (s *MemoryStore) GetOrCreateConversation(ctx context.Context, channel domain.Channel, externalSessionID, customerName string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(channel) + ":" + externalSessionID
	if id, ok := s.bySession[key]; ok {
		conv := s.conversations[id]
		if conv.CustomerName == "" && customerName != "" {
			conv.CustomerName = customerName
			conv.UpdatedAt = s.now()
		}
		c := *conv
		return &c, nil
	}

	now := s.now()
	conv := &domain.Conversation{
		ID:                uuid.NewString(),
		Channel:           channel,
		ExternalSessionID: externalSessionID,
		CustomerName:      customerName,
		Status:            domain.ConversationStatusOpen,
		LastMessageAt:     now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.conversations[conv.ID] = conv
	s.bySession[key] = conv.ID
	c := *conv
	return &c, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	c := *conv
	return &c, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, domain.ErrNotFound)
	}
	if msg.ExternalMessageID != "" {
		if _, dup := s.externalIDs[externalKey(conv.ID, msg.ExternalMessageID)]; dup {
			return nil, domain.ErrDuplicateMessage
		}
	}

	createdAt := s.now()
	if prev := s.messages[conv.ID]; len(prev) > 0 {
		createdAt = nextTimestamp(prev[len(prev)-1].CreatedAt, createdAt)
	}

	stored := domain.Message{
		ID:                uuid.NewString(),
		ConversationID:    conv.ID,
		SenderType:        msg.SenderType,
		MessageType:       msg.MessageType,
		Content:           cloneContent(msg.Content),
		ExternalMessageID: msg.ExternalMessageID,
		CreatedAt:         createdAt,
	}
	s.messages[conv.ID] = append(s.messages[conv.ID], stored)
	if msg.ExternalMessageID != "" {
		s.externalIDs[externalKey(conv.ID, msg.ExternalMessageID)] = struct{}{}
	}
	conv.LastMessageAt = createdAt
	conv.UpdatedAt = createdAt

	out := stored
	out.Content = cloneContent(stored.Content)
	return &out, nil
}

func (s *MemoryStore) ExternalMessageExists(ctx context.Context, conversationID, externalMessageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.externalIDs[externalKey(conversationID, externalMessageID)]
	return ok, nil
}

func externalKey(conversationID, externalMessageID string) string {
	return conversationID + "\x00" + externalMessageID
}

func (s *MemoryStore) ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if filter.Status != "" && conv.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && conv.Channel != filter.Channel {
			continue
		}
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return s.RecentMessages(ctx, conversationID, 0)
}

func (s *MemoryStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		out[i].Content = cloneContent(m.Content)
	}
	return out, nil
}

func (s *MemoryStore) SetAgentEnabled(ctx context.Context, conversationID string, enabled bool) (*domain.Conversation, error) {
	return s.UpdateConversation(ctx, conversationID, domain.ConversationPatch{AgentEnabled: &enabled})
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, conversationID string, patch domain.ConversationPatch) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	if patch.Status != nil {
		conv.Status = *patch.Status
	}
	if patch.CustomerName != nil {
		conv.CustomerName = *patch.CustomerName
	}
	if patch.AgentEnabled != nil {
		conv.AgentEnabled = *patch.AgentEnabled
	}
	conv.UpdatedAt = s.now()
	c := *conv
	return &c, nil
}

// ============================================================================
// ScenarioStore
// ============================================================================

func (s *MemoryStore) ListActiveScenarios(ctx context.Context) ([]domain.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Scenario, 0, len(s.scenarios))
	for _, sc := range s.scenarios {
		if sc.IsActive {
			out = append(out, cloneScenario(sc))
		}
	}
	sortScenarios(out)
	return out, nil
}

func (s *MemoryStore) ListScenarios(ctx context.Context) ([]domain.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Scenario, 0, len(s.scenarios))
	for _, sc := range s.scenarios {
		out = append(out, cloneScenario(sc))
	}
	sortScenarios(out)
	return out, nil
}

func (s *MemoryStore) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %s: %w", id, domain.ErrNotFound)
	}
	c := cloneScenario(sc)
	return &c, nil
}

func (s *MemoryStore) UpsertScenario(ctx context.Context, sc *domain.Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
		sc.CreatedAt = now
	} else if prev, ok := s.scenarios[sc.ID]; ok {
		sc.CreatedAt = prev.CreatedAt
	} else if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	s.scenarios[sc.ID] = cloneScenario(*sc)
	return nil
}

func (s *MemoryStore) DeleteScenario(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scenarios[id]; !ok {
		return fmt.Errorf("scenario %s: %w", id, domain.ErrNotFound)
	}
	delete(s.scenarios, id)
	return nil
}

// ============================================================================
// WebhookRepository
// ============================================================================

func (s *MemoryStore) SaveLog(ctx context.Context, log *domain.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	s.webhookLogs[log.ID] = *log
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.webhookLogs[id]
	if !ok {
		return fmt.Errorf("webhook log %s: %w", id, domain.ErrNotFound)
	}
	log.Status = status
	log.ErrorLog = errMsg
	s.webhookLogs[id] = log
	return nil
}

func (s *MemoryStore) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, log := range s.webhookLogs {
		if log.Status == domain.WebhookStatusProcessed && log.CreatedAt.Before(cutoff) {
			delete(s.webhookLogs, id)
			n++
		}
	}
	return n, nil
}

// WebhookLogs returns a snapshot, oldest first
func (s *MemoryStore) WebhookLogs() []domain.WebhookLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WebhookLog, 0, len(s.webhookLogs))
	for _, l := range s.webhookLogs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ============================================================================
// DeliveryRepository
// ============================================================================

func (s *MemoryStore) CreateDelivery(ctx context.Context, d *domain.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	s.deliveries[d.ID] = *d
	return nil
}

func (s *MemoryStore) UpdateDelivery(ctx context.Context, d *domain.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deliveries[d.ID]; !ok {
		return fmt.Errorf("delivery %s: %w", d.ID, domain.ErrNotFound)
	}
	s.deliveries[d.ID] = *d
	return nil
}

func (s *MemoryStore) ListDeliveries(ctx context.Context, conversationID string) ([]domain.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Delivery, 0)
	for _, d := range s.deliveries {
		if d.ConversationID == conversationID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ============================================================================
// UsageRepository
// ============================================================================

func (s *MemoryStore) RecordUsage(ctx context.Context, u *domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.usage = append(s.usage, *u)
	return nil
}

// ListUsage returns the newest entries first
func (s *MemoryStore) ListUsage(ctx context.Context, limit int) ([]domain.UsageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UsageLog, 0, len(s.usage))
	for i := len(s.usage) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.usage[i])
	}
	return out, nil
}

// ============================================================================
// helpers
// ============================================================================

// nextTimestamp keeps created_at strictly increasing within a conversation,
// even when the wall clock stalls or steps back
func nextTimestamp(last, now time.Time) time.Time {
	floor := last.Add(time.Microsecond)
	if now.Before(floor) {
		return floor
	}
	return now
}

func cloneContent(c domain.MessageContent) domain.MessageContent {
	out := c
	if c.QuickReplies != nil {
		out.QuickReplies = append([]string(nil), c.QuickReplies...)
	}
	if c.Attributes != nil {
		out.Attributes = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

func cloneScenario(sc domain.Scenario) domain.Scenario {
	out := sc
	if sc.TriggerKeywords != nil {
		out.TriggerKeywords = append([]string(nil), sc.TriggerKeywords...)
	}
	if sc.QuickReplies != nil {
		out.QuickReplies = append([]string(nil), sc.QuickReplies...)
	}
	return out
}

// sortScenarios orders by priority desc then id, the same order the matcher breaks ties in
func sortScenarios(list []domain.Scenario) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].ID < list[j].ID
	})
}
