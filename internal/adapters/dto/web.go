package dto

import (
	"fmt"
	"strings"
	"time"

	"bewo-chat/internal/core/domain"
)

// WebChatRequest is posted by the storefront chat widget
type WebChatRequest struct {
	SessionID    string            `json:"session_id"`
	MessageID    string            `json:"message_id,omitempty"` // client id, makes retries idempotent
	Text         string            `json:"text"`
	CustomerName string            `json:"customer_name,omitempty"`
	Intent       string            `json:"intent,omitempty"`
	Context      map[string]string `json:"context,omitempty"`
}

// ToInbound validates and converts to the canonical shape
func (r WebChatRequest) ToInbound() (domain.InboundMessage, error) {
	if strings.TrimSpace(r.SessionID) == "" {
		return domain.InboundMessage{}, fmt.Errorf("%w: session_id is required", domain.ErrInvalidInput)
	}
	in := domain.InboundMessage{
		Channel:           domain.ChannelWeb,
		ExternalSessionID: r.SessionID,
		Text:              r.Text,
		MessageType:       domain.MessageTypeText,
		ReceivedAt:        time.Now(),
		CustomerName:      strings.TrimSpace(r.CustomerName),
		Intent:            r.Intent,
		Context:           r.Context,
	}
	if r.MessageID != "" {
		in.ExternalMessageID = "web:" + r.SessionID + ":" + r.MessageID
	}
	return in, nil
}

// WebChatResponse is the synchronous widget reply
type WebChatResponse struct {
	ConversationID string   `json:"conversation_id"`
	ResponseText   string   `json:"response_text"`
	QuickReplies   []string `json:"quick_replies"`
	AgentHandling  bool     `json:"agent_handling"` // a human owns the thread; no bot text
}

// NewWebChatResponse renders a canonical reply for the widget
func NewWebChatResponse(out *domain.OutboundMessage) WebChatResponse {
	qr := out.QuickReplies
	if qr == nil {
		qr = []string{}
	}
	return WebChatResponse{
		ConversationID: out.ConversationID,
		ResponseText:   out.ResponseText,
		QuickReplies:   qr,
		AgentHandling:  !out.AutoReplied,
	}
}

// TrainerRequest drives the admin bot trainer; ScenarioID forces a scenario
type TrainerRequest struct {
	SessionID    string            `json:"session_id,omitempty"`
	Text         string            `json:"text"`
	ScenarioID   string            `json:"scenario_id,omitempty"`
	CustomerName string            `json:"customer_name,omitempty"`
	Context      map[string]string `json:"context,omitempty"`
}

// ToInbound runs trainer turns on the web channel under a trainer session
func (r TrainerRequest) ToInbound() domain.InboundMessage {
	session := r.SessionID
	if session == "" {
		session = "trainer"
	}
	return domain.InboundMessage{
		Channel:           domain.ChannelWeb,
		ExternalSessionID: "trainer:" + session,
		Text:              r.Text,
		MessageType:       domain.MessageTypeText,
		ReceivedAt:        time.Now(),
		CustomerName:      r.CustomerName,
		Context:           r.Context,
		ScenarioID:        r.ScenarioID,
	}
}

// AdminReplyRequest is an agent-authored message
type AdminReplyRequest struct {
	Text         string   `json:"text"`
	QuickReplies []string `json:"quick_replies,omitempty"`
}

// AgentToggleRequest flips agent_enabled
type AgentToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// LLMSwitchRequest flips the model kill switch
type LLMSwitchRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}
