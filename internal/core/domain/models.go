// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"encoding/json"
	"time"
)

// Channel identifies the external messaging surface a conversation lives on
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelZalo     Channel = "zalo"
	ChannelFacebook Channel = "facebook"
)

// Valid reports whether c is one of the supported channels
func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelZalo, ChannelFacebook:
		return true
	}
	return false
}

// ConversationStatus is the soft lifecycle state of a conversation
type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusResolved ConversationStatus = "resolved"
)

// Valid reports whether s is a known status
func (s ConversationStatus) Valid() bool {
	return s == ConversationStatusOpen || s == ConversationStatusResolved
}

// Conversation is one thread per (channel, external_session_id)
// Never hard-deleted; admin actions only flip soft state
type Conversation struct {
	ID                string             `json:"id" db:"id"`
	Channel           Channel            `json:"channel" db:"channel"`
	ExternalSessionID string             `json:"external_session_id" db:"external_session_id"`
	CustomerName      string             `json:"customer_name,omitempty" db:"customer_name"`
	Status            ConversationStatus `json:"status" db:"status"`
	AgentEnabled      bool               `json:"agent_enabled" db:"agent_enabled"` // true = human owns the thread
	LastMessageAt     time.Time          `json:"last_message_at" db:"last_message_at"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

// ConversationFilter narrows ListConversations; zero values mean "any"
type ConversationFilter struct {
	Status  ConversationStatus
	Channel Channel
	Limit   int
}

// ConversationPatch carries the admin-editable fields; nil fields are left untouched
type ConversationPatch struct {
	Status       *ConversationStatus `json:"status,omitempty"`
	CustomerName *string             `json:"customer_name,omitempty"`
	AgentEnabled *bool               `json:"agent_enabled,omitempty"`
}

// SenderType constants
type SenderType string

const (
	SenderTypeCustomer SenderType = "customer"
	SenderTypeBot      SenderType = "bot"
	SenderTypeAdmin    SenderType = "admin"
)

// MessageType constants
type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeQuickReply MessageType = "quick_reply"
	MessageTypeStructured MessageType = "structured"
)

// MessageContent is the structured payload stored with every message
// For plain text only Text is set
type MessageContent struct {
	Text         string            `json:"text"`
	QuickReplies []string          `json:"quick_replies,omitempty"`
	ScenarioID   string            `json:"scenario_id,omitempty"`
	Strategy     string            `json:"strategy,omitempty"`
	Tokens       int               `json:"tokens,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Message is append-only: created once, never mutated or deleted
type Message struct {
	ID                string         `json:"id" db:"id"`
	ConversationID    string         `json:"conversation_id" db:"conversation_id"`
	SenderType        SenderType     `json:"sender_type" db:"sender_type"`
	MessageType       MessageType    `json:"message_type" db:"message_type"`
	Content           MessageContent `json:"content" db:"content"`
	ExternalMessageID string         `json:"external_message_id,omitempty" db:"external_msg_id"` // Platform message ID (for dedup)
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

// NewMessage describes a message to append; the store assigns ID and CreatedAt
type NewMessage struct {
	ConversationID    string
	SenderType        SenderType
	MessageType       MessageType
	Content           MessageContent
	ExternalMessageID string
}

// InboundMessage is the canonical, channel-agnostic inbound shape
type InboundMessage struct {
	Channel           Channel           `json:"channel"`
	ExternalSessionID string            `json:"external_session_id"`
	ExternalMessageID string            `json:"external_message_id,omitempty"`
	Recipient         string            `json:"recipient,omitempty"` // page id / OA id the customer wrote to
	Text              string            `json:"text"`
	MessageType       MessageType       `json:"message_type,omitempty"` // defaults to text
	ReceivedAt        time.Time         `json:"received_at"`
	CustomerName      string            `json:"customer_name,omitempty"`
	Context           map[string]string `json:"context,omitempty"`
	Intent            string            `json:"intent,omitempty"`      // set by an upstream classifier, if any
	ScenarioID        string            `json:"scenario_id,omitempty"` // explicit override from trainer tools
	Raw               json.RawMessage   `json:"-"`
}

// OutboundMessage is the canonical response handed back to a channel adapter
type OutboundMessage struct {
	ConversationID string   `json:"conversation_id"`
	ResponseText   string   `json:"response_text"`
	QuickReplies   []string `json:"quick_replies"`
	Strategy       string   `json:"strategy"`
	ScenarioID     string   `json:"scenario_id,omitempty"`
	BotMessageID   string   `json:"bot_message_id,omitempty"`
	AutoReplied    bool     `json:"auto_replied"` // false when the agent gate held the turn
}

// DeliveryStatus tracks outbound channel sends
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// Delivery records one outbound send of a persisted message to a channel
type Delivery struct {
	ID             string         `json:"id" db:"id"`
	MessageID      string         `json:"message_id" db:"message_id"`
	ConversationID string         `json:"conversation_id" db:"conversation_id"`
	Channel        Channel        `json:"channel" db:"channel"`
	Recipient      string         `json:"recipient" db:"recipient"`
	Status         DeliveryStatus `json:"status" db:"status"`
	Attempts       int            `json:"attempts" db:"attempts"`
	LastError      string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// UsageLog is one billed chat completion
type UsageLog struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Provider       string    `json:"provider" db:"provider"`
	Model          string    `json:"model" db:"model"`
	InputTokens    int       `json:"input_tokens" db:"input_tokens"`
	OutputTokens   int       `json:"output_tokens" db:"output_tokens"`
	Cost           float64   `json:"cost" db:"cost"` // USD
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// WebhookLog represents the audit trail for incoming webhook events
type WebhookLog struct {
	ID          string          `json:"id" db:"id"`
	Platform    Channel         `json:"platform" db:"platform"`
	PayloadJSON json.RawMessage `json:"payload_json" db:"payload_json"`
	Status      string          `json:"status" db:"status"` // "pending", "processed", "failed"
	ErrorLog    string          `json:"error_log,omitempty" db:"error_log"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// WebhookStatus constants for lifecycle management
const (
	WebhookStatusPending   = "pending"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
)
