// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

// Ensure MariaDBRepository implements the required interfaces
var (
	_ ports.ConversationStore  = (*MariaDBRepository)(nil)
	_ ports.ScenarioStore      = (*MariaDBRepository)(nil)
	_ ports.WebhookRepository  = (*MariaDBRepository)(nil)
	_ ports.DeliveryRepository = (*MariaDBRepository)(nil)
)

//go:embed schema.sql
var schemaSQL string

// mysqlDuplicateEntry is ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

// MariaDBRepository implements persistence operations for MariaDB
type MariaDBRepository struct {
	db *sql.DB
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB) *MariaDBRepository {
	return &MariaDBRepository{
		db: db,
	}
}

// Migrate creates missing tables. Statements are idempotent.
func (r *MariaDBRepository) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	slog.Info("Database schema ensured")
	return nil
}

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func dbNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// ============================================================================
// ConversationStore Implementation
// ============================================================================

const conversationColumns = `id, channel, external_session_id, customer_name, status,
	agent_enabled, last_message_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(
		&c.ID,
		&c.Channel,
		&c.ExternalSessionID,
		&c.CustomerName,
		&c.Status,
		&c.AgentEnabled,
		&c.LastMessageAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateConversation is race-free: concurrent first messages hit the
// unique (channel, external_session_id) key and both read the same row
func (r *MariaDBRepository) GetOrCreateConversation(ctx context.Context, channel domain.Channel, externalSessionID, customerName string) (*domain.Conversation, error) {
	now := dbNow()
	query := `
		INSERT INTO conversations (
			id, channel, external_session_id, customer_name, status,
			agent_enabled, last_message_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, FALSE, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			customer_name = IF(customer_name = '', VALUES(customer_name), customer_name)
	`
	_, err := r.db.ExecContext(ctx, query,
		uuid.NewString(),
		channel,
		externalSessionID,
		customerName,
		domain.ConversationStatusOpen,
		now, now, now,
	)
	if err != nil {
		slog.Error("Failed to upsert conversation",
			"error", err,
			"channel", channel,
			"external_session_id", externalSessionID,
		)
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE channel = ? AND external_session_id = ?`,
		channel, externalSessionID,
	)
	conv, err := scanConversation(row)
	if err != nil {
		slog.Error("Failed to read conversation",
			"error", err,
			"channel", channel,
			"external_session_id", externalSessionID,
		)
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	return conv, nil
}

func (r *MariaDBRepository) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		slog.Error("Failed to get conversation", "error", err, "conversation_id", id)
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// AppendMessage locks the conversation row so created_at is assigned in
// persistence order and stays strictly increasing per conversation
func (r *MariaDBRepository) AppendMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("encode message content: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append message: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var convID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE id = ? FOR UPDATE`, msg.ConversationID).Scan(&convID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}

	var last sql.NullTime
	if err := tx.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages WHERE conversation_id = ?`, convID).Scan(&last); err != nil {
		return nil, fmt.Errorf("read last message time: %w", err)
	}
	createdAt := dbNow()
	if last.Valid {
		createdAt = nextTimestamp(last.Time, createdAt)
	}

	stored := &domain.Message{
		ID:                uuid.NewString(),
		ConversationID:    convID,
		SenderType:        msg.SenderType,
		MessageType:       msg.MessageType,
		Content:           msg.Content,
		ExternalMessageID: msg.ExternalMessageID,
		CreatedAt:         createdAt,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, message_type, content, external_msg_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		stored.ID,
		stored.ConversationID,
		stored.SenderType,
		stored.MessageType,
		content,
		sql.NullString{String: msg.ExternalMessageID, Valid: msg.ExternalMessageID != ""},
		stored.CreatedAt,
	)
	if isDuplicateKey(err) {
		return nil, domain.ErrDuplicateMessage
	}
	if err != nil {
		slog.Error("Failed to save message",
			"error", err,
			"conversation_id", convID,
		)
		return nil, fmt.Errorf("save message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ?, updated_at = ? WHERE id = ?`,
		createdAt, createdAt, convID,
	); err != nil {
		return nil, fmt.Errorf("bump last_message_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append message: %w", err)
	}

	slog.Debug("Message saved",
		"conversation_id", convID,
		"sender_type", stored.SenderType,
	)
	return stored, nil
}

// ExternalMessageExists checks the durable idempotency key within one conversation
func (r *MariaDBRepository) ExternalMessageExists(ctx context.Context, conversationID, externalMessageID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE conversation_id = ? AND external_msg_id = ? LIMIT 1`,
		conversationID, externalMessageID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		slog.Error("Failed to check message existence",
			"error", err,
			"conversation_id", conversationID,
			"external_msg_id", externalMessageID,
		)
		return false, fmt.Errorf("check message existence: %w", err)
	}
	return true, nil
}

// ListConversations orders by last activity, newest first
func (r *MariaDBRepository) ListConversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, filter.Channel)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_message_at DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("Failed to list conversations", "error", err)
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]domain.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, *conv)
	}
	return conversations, rows.Err()
}

const messageColumns = `id, conversation_id, sender_type, message_type, content, external_msg_id, created_at`

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	for rows.Next() {
		var (
			m       domain.Message
			content []byte
			extID   sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderType, &m.MessageType, &content, &extID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return nil, fmt.Errorf("decode message %s content: %w", m.ID, err)
		}
		m.ExternalMessageID = extID.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListMessages returns all messages oldest first
func (r *MariaDBRepository) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		slog.Error("Failed to get messages",
			"error", err,
			"conversation_id", conversationID,
		)
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the latest limit messages, oldest first
func (r *MariaDBRepository) RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return r.ListMessages(ctx, conversationID)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MariaDBRepository) SetAgentEnabled(ctx context.Context, conversationID string, enabled bool) (*domain.Conversation, error) {
	return r.UpdateConversation(ctx, conversationID, domain.ConversationPatch{AgentEnabled: &enabled})
}

// UpdateConversation applies the non-nil fields of patch
func (r *MariaDBRepository) UpdateConversation(ctx context.Context, conversationID string, patch domain.ConversationPatch) (*domain.Conversation, error) {
	sets := []string{"updated_at = ?"}
	args := []any{dbNow()}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.CustomerName != nil {
		sets = append(sets, "customer_name = ?")
		args = append(args, *patch.CustomerName)
	}
	if patch.AgentEnabled != nil {
		sets = append(sets, "agent_enabled = ?")
		args = append(args, *patch.AgentEnabled)
	}
	args = append(args, conversationID)

	if _, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	); err != nil {
		slog.Error("Failed to update conversation",
			"error", err,
			"conversation_id", conversationID,
		)
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	// RowsAffected is 0 for unchanged rows too; re-read to tell "missing" apart
	return r.GetConversation(ctx, conversationID)
}

// ============================================================================
// ScenarioStore Implementation
// ============================================================================

const scenarioColumns = `id, name, trigger_keywords, intent, priority, response_type,
	response_template, llm_system_prompt, function_name, quick_replies, is_active, created_at, updated_at`

func (r *MariaDBRepository) queryScenarios(ctx context.Context, query string, args ...any) ([]domain.Scenario, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("Failed to query scenarios", "error", err)
		return nil, fmt.Errorf("query scenarios: %w", err)
	}
	defer rows.Close()

	scenarios := make([]domain.Scenario, 0)
	for rows.Next() {
		var (
			rec              domain.ScenarioRecord
			keywords, quicks []byte
			tpl, prompt      sql.NullString
		)
		err := rows.Scan(
			&rec.ID,
			&rec.Name,
			&keywords,
			&rec.Intent,
			&rec.Priority,
			&rec.ResponseType,
			&tpl,
			&prompt,
			&rec.Function,
			&quicks,
			&rec.IsActive,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		rec.ResponseTemplate = tpl.String
		rec.LLMSystemPrompt = prompt.String
		if err := json.Unmarshal(keywords, &rec.TriggerKeywords); err != nil {
			return nil, fmt.Errorf("decode scenario %s keywords: %w", rec.ID, err)
		}
		if err := json.Unmarshal(quicks, &rec.QuickReplies); err != nil {
			return nil, fmt.Errorf("decode scenario %s quick replies: %w", rec.ID, err)
		}
		sc, err := rec.ToScenario()
		if err != nil {
			// A broken row must not take every other rule down with it
			slog.Warn("Skipping invalid scenario row", "scenario_id", rec.ID, "error", err)
			continue
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

// ListActiveScenarios orders by priority desc, id asc
func (r *MariaDBRepository) ListActiveScenarios(ctx context.Context) ([]domain.Scenario, error) {
	return r.queryScenarios(ctx,
		`SELECT `+scenarioColumns+` FROM chatbot_scenarios WHERE is_active = TRUE ORDER BY priority DESC, id ASC`)
}

func (r *MariaDBRepository) ListScenarios(ctx context.Context) ([]domain.Scenario, error) {
	return r.queryScenarios(ctx,
		`SELECT `+scenarioColumns+` FROM chatbot_scenarios ORDER BY priority DESC, id ASC`)
}

func (r *MariaDBRepository) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	list, err := r.queryScenarios(ctx, `SELECT `+scenarioColumns+` FROM chatbot_scenarios WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("scenario %s: %w", id, domain.ErrNotFound)
	}
	return &list[0], nil
}

func (r *MariaDBRepository) UpsertScenario(ctx context.Context, sc *domain.Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	now := dbNow()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	rec := sc.Record()
	keywords, _ := json.Marshal(rec.TriggerKeywords)
	quicks, _ := json.Marshal(rec.QuickReplies)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chatbot_scenarios (`+scenarioColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			trigger_keywords = VALUES(trigger_keywords),
			intent = VALUES(intent),
			priority = VALUES(priority),
			response_type = VALUES(response_type),
			response_template = VALUES(response_template),
			llm_system_prompt = VALUES(llm_system_prompt),
			function_name = VALUES(function_name),
			quick_replies = VALUES(quick_replies),
			is_active = VALUES(is_active),
			updated_at = VALUES(updated_at)
	`,
		rec.ID,
		rec.Name,
		keywords,
		rec.Intent,
		rec.Priority,
		rec.ResponseType,
		rec.ResponseTemplate,
		rec.LLMSystemPrompt,
		rec.Function,
		quicks,
		rec.IsActive,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		slog.Error("Failed to upsert scenario", "error", err, "scenario_id", rec.ID)
		return fmt.Errorf("upsert scenario: %w", err)
	}
	return nil
}

func (r *MariaDBRepository) DeleteScenario(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chatbot_scenarios WHERE id = ?`, id)
	if err != nil {
		slog.Error("Failed to delete scenario", "error", err, "scenario_id", id)
		return fmt.Errorf("delete scenario: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("scenario %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ============================================================================
// WebhookRepository Implementation
// ============================================================================

// SaveLog persists a webhook event to the audit log
func (r *MariaDBRepository) SaveLog(ctx context.Context, log *domain.WebhookLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = dbNow()
	}
	payload := log.PayloadJSON
	if !json.Valid(payload) {
		// keep the audit row even for garbage bodies
		payload, _ = json.Marshal(string(log.PayloadJSON))
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_logs (id, platform, payload_json, status, error_log, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		log.ID,
		log.Platform,
		[]byte(payload),
		log.Status,
		log.ErrorLog,
		log.CreatedAt.UTC(),
	)
	if err != nil {
		slog.Error("Failed to save webhook log",
			"error", err,
			"platform", log.Platform,
		)
		return fmt.Errorf("save webhook log: %w", err)
	}

	slog.Debug("Webhook log saved",
		"platform", log.Platform,
		"status", log.Status,
	)
	return nil
}

// UpdateStatus updates the processing status of a webhook log
func (r *MariaDBRepository) UpdateStatus(ctx context.Context, id string, status string, errMsg string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE webhook_logs SET status = ?, error_log = ? WHERE id = ?`,
		status, errMsg, id,
	)
	if err != nil {
		slog.Error("Failed to update webhook status",
			"error", err,
			"webhook_id", id,
			"status", status,
		)
		return fmt.Errorf("update webhook status: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		slog.Warn("No webhook log found for status update",
			"webhook_id", id,
		)
	}
	return nil
}

// PurgeProcessedBefore deletes processed audit rows; failed ones are kept for replay
func (r *MariaDBRepository) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_logs WHERE status = ? AND created_at < ?`,
		domain.WebhookStatusProcessed, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge webhook logs: %w", err)
	}
	return result.RowsAffected()
}

// ============================================================================
// DeliveryRepository Implementation
// ============================================================================

func (r *MariaDBRepository) CreateDelivery(ctx context.Context, d *domain.Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_deliveries (
			id, message_id, conversation_id, channel, recipient,
			status, attempts, last_error, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID,
		d.MessageID,
		d.ConversationID,
		d.Channel,
		d.Recipient,
		d.Status,
		d.Attempts,
		d.LastError,
		d.CreatedAt.UTC(),
		d.UpdatedAt.UTC(),
	)
	if err != nil {
		slog.Error("Failed to create delivery", "error", err, "message_id", d.MessageID)
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

func (r *MariaDBRepository) UpdateDelivery(ctx context.Context, d *domain.Delivery) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE message_deliveries SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		d.Status, d.Attempts, d.LastError, d.UpdatedAt.UTC(), d.ID,
	)
	if err != nil {
		slog.Error("Failed to update delivery", "error", err, "delivery_id", d.ID)
		return fmt.Errorf("update delivery: %w", err)
	}
	return nil
}

func (r *MariaDBRepository) ListDeliveries(ctx context.Context, conversationID string) ([]domain.Delivery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, conversation_id, channel, recipient, status,
			attempts, COALESCE(last_error, ''), created_at, updated_at
		FROM message_deliveries
		WHERE conversation_id = ?
		ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]domain.Delivery, 0)
	for rows.Next() {
		var d domain.Delivery
		if err := rows.Scan(
			&d.ID, &d.MessageID, &d.ConversationID, &d.Channel, &d.Recipient, &d.Status,
			&d.Attempts, &d.LastError, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// ============================================================================
// UsageRepository
// ============================================================================

func (r *MariaDBRepository) RecordUsage(ctx context.Context, u *domain.UsageLog) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = dbNow()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chatbot_usage_logs (
			id, conversation_id, provider, model, input_tokens, output_tokens, cost, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.ID,
		u.ConversationID,
		u.Provider,
		u.Model,
		u.InputTokens,
		u.OutputTokens,
		u.Cost,
		u.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// ListUsage returns the newest entries first
func (r *MariaDBRepository) ListUsage(ctx context.Context, limit int) ([]domain.UsageLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, provider, model, input_tokens, output_tokens, cost, created_at
		FROM chatbot_usage_logs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	logs := make([]domain.UsageLog, 0)
	for rows.Next() {
		var u domain.UsageLog
		if err := rows.Scan(
			&u.ID, &u.ConversationID, &u.Provider, &u.Model,
			&u.InputTokens, &u.OutputTokens, &u.Cost, &u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		logs = append(logs, u)
	}
	return logs, rows.Err()
}

// Ping is used by the dashboard status endpoint
func (r *MariaDBRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
