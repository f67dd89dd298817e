package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bewo-chat/internal/core/domain"
)

func newMockRepo(t *testing.T, matchers ...sqlmock.QueryMatcher) (*MariaDBRepository, sqlmock.Sqlmock) {
	t.Helper()
	var (
		db   *sql.DB
		mock sqlmock.Sqlmock
		err  error
	)
	if len(matchers) > 0 {
		db, mock, err = sqlmock.New(sqlmock.QueryMatcherOption(matchers[0]))
	} else {
		db, mock, err = sqlmock.New()
	}
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewMariaDBRepository(db), mock
}

var conversationRowColumns = []string{
	"id", "channel", "external_session_id", "customer_name", "status",
	"agent_enabled", "last_message_at", "created_at", "updated_at",
}

func TestMariaDB_Migrate(t *testing.T) {
	repo, mock := newMockRepo(t, sqlmock.QueryMatcherEqual)

	statements := 0
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
			statements++
		}
	}
	require.Equal(t, 6, statements)

	require.NoError(t, repo.Migrate(context.Background()))
}

func TestMariaDB_GetOrCreateConversation(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO conversations .* ON DUPLICATE KEY UPDATE`).
		WithArgs(sqlmock.AnyArg(), "zalo", "Z1", "Lan", "open", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM conversations WHERE channel = \? AND external_session_id = \?`).
		WithArgs("zalo", "Z1").
		WillReturnRows(sqlmock.NewRows(conversationRowColumns).
			AddRow("conv-1", "zalo", "Z1", "Lan", "open", true, now, now, now))

	conv, err := repo.GetOrCreateConversation(context.Background(), domain.ChannelZalo, "Z1", "Lan")

	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, domain.ChannelZalo, conv.Channel)
	assert.Equal(t, domain.ConversationStatusOpen, conv.Status)
	assert.True(t, conv.AgentEnabled)
}

func TestMariaDB_GetConversationNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT (.+) FROM conversations WHERE id = \?`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(conversationRowColumns))

	_, err := repo.GetConversation(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMariaDB_AppendMessageKeepsTimestampsIncreasing(t *testing.T) {
	repo, mock := newMockRepo(t)
	// a previous row written by a node whose clock runs ahead
	last := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM conversations WHERE id = \? FOR UPDATE`).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("conv-1"))
	mock.ExpectQuery(`SELECT MAX\(created_at\) FROM messages WHERE conversation_id = \?`).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(last))
	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs(sqlmock.AnyArg(), "conv-1", "customer", "text", sqlmock.AnyArg(), "fb:m1", last.Add(time.Microsecond)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE conversations SET last_message_at = \?, updated_at = \? WHERE id = \?`).
		WithArgs(last.Add(time.Microsecond), last.Add(time.Microsecond), "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := repo.AppendMessage(context.Background(), domain.NewMessage{
		ConversationID:    "conv-1",
		SenderType:        domain.SenderTypeCustomer,
		MessageType:       domain.MessageTypeText,
		Content:           domain.MessageContent{Text: "áo này còn không"},
		ExternalMessageID: "fb:m1",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.True(t, msg.CreatedAt.Equal(last.Add(time.Microsecond)))
}

func TestMariaDB_AppendMessageFailures(t *testing.T) {
	t.Run("duplicate external id", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM conversations`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("conv-1"))
		mock.ExpectQuery(`SELECT MAX\(created_at\)`).
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
		mock.ExpectExec(`INSERT INTO messages`).
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'fb:m1'"})
		mock.ExpectRollback()

		_, err := repo.AppendMessage(context.Background(), domain.NewMessage{
			ConversationID: "conv-1", SenderType: domain.SenderTypeCustomer, ExternalMessageID: "fb:m1",
		})

		assert.ErrorIs(t, err, domain.ErrDuplicateMessage)
	})

	t.Run("missing conversation", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM conversations`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		_, err := repo.AppendMessage(context.Background(), domain.NewMessage{ConversationID: "gone"})

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("database down", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		_, err := repo.AppendMessage(context.Background(), domain.NewMessage{ConversationID: "conv-1"})

		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMariaDB_ExternalMessageExists(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT 1 FROM messages WHERE conversation_id = \? AND external_msg_id = \?`).
		WithArgs("conv-1", "fb:m1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(`SELECT 1 FROM messages WHERE conversation_id = \? AND external_msg_id = \?`).
		WithArgs("conv-1", "fb:m2").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	exists, err := repo.ExternalMessageExists(context.Background(), "conv-1", "fb:m1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExternalMessageExists(context.Background(), "conv-1", "fb:m2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMariaDB_PurgeProcessedBefore(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM webhook_logs WHERE status = \? AND created_at < \?`).
		WithArgs("processed", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	purged, err := repo.PurgeProcessedBefore(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)
}

func TestMariaDB_RecordAndListUsage(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO chatbot_usage_logs`).
		WithArgs(sqlmock.AnyArg(), "conv-1", "openrouter", "openai/gpt-4o-mini", 120, 80, 0.000066, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM chatbot_usage_logs ORDER BY created_at DESC LIMIT \?`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "conversation_id", "provider", "model", "input_tokens", "output_tokens", "cost", "created_at",
		}).AddRow("u-1", "conv-1", "openrouter", "openai/gpt-4o-mini", 120, 80, 0.000066, at))

	u := &domain.UsageLog{
		ConversationID: "conv-1",
		Provider:       "openrouter",
		Model:          "openai/gpt-4o-mini",
		InputTokens:    120,
		OutputTokens:   80,
		Cost:           0.000066,
		CreatedAt:      at,
	}
	require.NoError(t, repo.RecordUsage(context.Background(), u))
	assert.NotEmpty(t, u.ID)

	logs, err := repo.ListUsage(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 120, logs[0].InputTokens)
	assert.InDelta(t, 0.000066, logs[0].Cost, 1e-12)
}
