// Package dto contains data transfer objects for external APIs
// and the translation between channel wire formats and canonical messages
package dto

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"bewo-chat/internal/core/domain"
)

// FacebookWebhookRequest is the top-level webhook payload from Facebook
// Ref: https://developers.facebook.com/docs/messenger-platform/webhooks
type FacebookWebhookRequest struct {
	Object string          `json:"object"` // Always "page" for Messenger
	Entry  []FacebookEntry `json:"entry"`
}

// FacebookEntry represents a single page's webhook events
type FacebookEntry struct {
	ID        string              `json:"id"`   // Page ID
	Time      int64               `json:"time"` // Unix milliseconds
	Messaging []FacebookMessaging `json:"messaging"`
}

// FacebookMessaging is a message, postback, delivery receipt, read receipt or echo
type FacebookMessaging struct {
	Sender    FacebookUser      `json:"sender"`
	Recipient FacebookUser      `json:"recipient"`
	Timestamp int64             `json:"timestamp"` // Unix milliseconds
	Message   *FacebookMessage  `json:"message,omitempty"`
	Postback  *FacebookPostback `json:"postback,omitempty"`
	Delivery  *FacebookDelivery `json:"delivery,omitempty"`
	Read      *FacebookRead     `json:"read,omitempty"`
}

// FacebookUser represents a sender or recipient (PSID)
type FacebookUser struct {
	ID string `json:"id"`
}

// FacebookMessage represents the actual message content
type FacebookMessage struct {
	MID         string               `json:"mid"` // used for deduplication
	Text        string               `json:"text"`
	QuickReply  *FacebookQuickReply  `json:"quick_reply,omitempty"`
	Attachments []FacebookAttachment `json:"attachments,omitempty"`

	// IsEcho marks messages sent BY the page; never treated as inbound
	IsEcho bool `json:"is_echo,omitempty"`
}

// FacebookQuickReply is set when the user tapped a quick reply chip
type FacebookQuickReply struct {
	Payload string `json:"payload"`
}

// FacebookPostback is a button tap (e.g. "Get Started")
type FacebookPostback struct {
	MID     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// FacebookAttachment represents media attachments
type FacebookAttachment struct {
	Type    string                    `json:"type"` // "image", "video", "audio", "file"
	Payload FacebookAttachmentPayload `json:"payload"`
}

// FacebookAttachmentPayload contains attachment URL and metadata
type FacebookAttachmentPayload struct {
	URL string `json:"url"`
}

// FacebookDelivery represents a delivery confirmation
type FacebookDelivery struct {
	MIDs      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}

// FacebookRead represents a read confirmation
type FacebookRead struct {
	Watermark int64 `json:"watermark"`
}

// IsUserMessage reports whether this event was written by the customer.
// Echoes, delivery and read receipts are not.
func (m *FacebookMessaging) IsUserMessage() bool {
	if m.Delivery != nil || m.Read != nil {
		return false
	}
	if m.Postback != nil {
		return true
	}
	return m.Message != nil && !m.Message.IsEcho
}

// GetMessageID extracts the message ID for deduplication
func (m *FacebookMessaging) GetMessageID() string {
	if m.Message != nil {
		return m.Message.MID
	}
	if m.Postback != nil {
		if m.Postback.MID != "" {
			return m.Postback.MID
		}
		// postbacks without mid: sender+timestamp is unique per tap
		return fmt.Sprintf("postback:%s:%d", m.Sender.ID, m.Timestamp)
	}
	return ""
}

// GetMessageType maps the event onto the canonical message type
func (m *FacebookMessaging) GetMessageType() domain.MessageType {
	if m.Postback != nil || (m.Message != nil && m.Message.QuickReply != nil) {
		return domain.MessageTypeQuickReply
	}
	return domain.MessageTypeText
}

// GetContent extracts the text the orchestrator should see
func (m *FacebookMessaging) GetContent() string {
	if m.Postback != nil {
		if m.Postback.Title != "" {
			return m.Postback.Title
		}
		return m.Postback.Payload
	}
	if m.Message == nil {
		return ""
	}
	if m.Message.Text != "" {
		return m.Message.Text
	}
	if len(m.Message.Attachments) > 0 {
		a := m.Message.Attachments[0]
		if a.Type == "image" {
			return fmt.Sprintf("[Người dùng đã gửi một hình ảnh: %s]", a.Payload.URL)
		}
		return fmt.Sprintf("[Người dùng đã gửi tệp đính kèm (%s): %s]", a.Type, a.Payload.URL)
	}
	return ""
}

// ParseFacebookWebhook extracts the customer messages of a Messenger webhook.
// Non-user events are dropped; a payload may carry several entries.
func ParseFacebookWebhook(payload []byte) ([]domain.InboundMessage, error) {
	var req FacebookWebhookRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: facebook payload: %v", domain.ErrInvalidInput, err)
	}

	var out []domain.InboundMessage
	for _, entry := range req.Entry {
		for i := range entry.Messaging {
			m := &entry.Messaging[i]
			if !m.IsUserMessage() {
				continue
			}
			receivedAt := time.Now()
			if m.Timestamp > 0 {
				receivedAt = time.UnixMilli(m.Timestamp)
			}
			raw, _ := json.Marshal(m)
			out = append(out, domain.InboundMessage{
				Channel:           domain.ChannelFacebook,
				ExternalSessionID: m.Sender.ID,
				ExternalMessageID: m.GetMessageID(),
				Recipient:         m.Recipient.ID,
				Text:              m.GetContent(),
				MessageType:       m.GetMessageType(),
				ReceivedAt:        receivedAt,
				Raw:               raw,
			})
		}
	}
	return out, nil
}

// Messenger limits for quick replies
const (
	FacebookMaxQuickReplies      = 13
	FacebookMaxQuickReplyTitle   = 20
	FacebookMessagingTypeRespond = "RESPONSE"
	facebookQuickReplyTypeText   = "text"
)

// FacebookSendRequest is the Send API body
type FacebookSendRequest struct {
	Recipient     FacebookUser        `json:"recipient"`
	MessagingType string              `json:"messaging_type"`
	Message       FacebookSendMessage `json:"message"`
}

// FacebookSendMessage is the outbound message part
type FacebookSendMessage struct {
	Text         string                  `json:"text"`
	QuickReplies []FacebookOutQuickReply `json:"quick_replies,omitempty"`
}

// FacebookOutQuickReply is one suggestion chip
type FacebookOutQuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

// NewFacebookSendRequest renders a canonical reply into the Send API format.
// At most 13 chips; titles are cut to 20 runes, the payload keeps the full text.
func NewFacebookSendRequest(recipient string, out domain.OutboundMessage) FacebookSendRequest {
	req := FacebookSendRequest{
		Recipient:     FacebookUser{ID: recipient},
		MessagingType: FacebookMessagingTypeRespond,
		Message:       FacebookSendMessage{Text: out.ResponseText},
	}
	for _, qr := range out.QuickReplies {
		if len(req.Message.QuickReplies) == FacebookMaxQuickReplies {
			break
		}
		if qr == "" {
			continue
		}
		req.Message.QuickReplies = append(req.Message.QuickReplies, FacebookOutQuickReply{
			ContentType: facebookQuickReplyTypeText,
			Title:       truncateRunes(qr, FacebookMaxQuickReplyTitle),
			Payload:     qr,
		})
	}
	return req
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

// FacebookSendResponse is the Send API success body
type FacebookSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// FacebookErrorResponse is the Graph API error envelope
type FacebookErrorResponse struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}
