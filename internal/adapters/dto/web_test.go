package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bewo-chat/internal/core/domain"
)

func TestWebChatRequest_ToInbound(t *testing.T) {
	in, err := WebChatRequest{
		SessionID:    "sess-1",
		MessageID:    "c-42",
		Text:         "ship về Đà Nẵng bao lâu?",
		CustomerName: "  Lan  ",
		Intent:       "shipping",
		Context:      map[string]string{"page": "/products/ao-thun"},
	}.ToInbound()

	require.NoError(t, err)
	assert.Equal(t, domain.ChannelWeb, in.Channel)
	assert.Equal(t, "sess-1", in.ExternalSessionID)
	assert.Equal(t, "web:sess-1:c-42", in.ExternalMessageID)
	assert.Equal(t, "Lan", in.CustomerName)
	assert.Equal(t, "shipping", in.Intent)
	assert.Equal(t, "/products/ao-thun", in.Context["page"])
	assert.False(t, in.ReceivedAt.IsZero())

	in, err = WebChatRequest{SessionID: "sess-1", Text: "hi"}.ToInbound()
	require.NoError(t, err)
	assert.Empty(t, in.ExternalMessageID, "no client id, no dedup key")

	_, err = WebChatRequest{SessionID: "  ", Text: "hi"}.ToInbound()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewWebChatResponse(t *testing.T) {
	resp := NewWebChatResponse(&domain.OutboundMessage{ConversationID: "c1", ResponseText: "Dạ", AutoReplied: true})
	assert.Equal(t, "c1", resp.ConversationID)
	assert.Equal(t, []string{}, resp.QuickReplies)
	assert.False(t, resp.AgentHandling)

	held := NewWebChatResponse(&domain.OutboundMessage{ConversationID: "c1"})
	assert.True(t, held.AgentHandling)
	assert.Empty(t, held.ResponseText)
}

func TestTrainerRequest_ToInbound(t *testing.T) {
	in := TrainerRequest{Text: "giá bao nhiêu", ScenarioID: "sc-1"}.ToInbound()
	assert.Equal(t, domain.ChannelWeb, in.Channel)
	assert.Equal(t, "trainer:trainer", in.ExternalSessionID)
	assert.Equal(t, "sc-1", in.ScenarioID)

	in = TrainerRequest{SessionID: "s9", Text: "hi"}.ToInbound()
	assert.Equal(t, "trainer:s9", in.ExternalSessionID)
}
