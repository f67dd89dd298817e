package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bewo-chat/internal/core/domain"
)

// Zalo OA webhook event names
const (
	ZaloEventVerify      = "webhook_verify"
	ZaloEventSendText    = "user_send_text"
	ZaloEventSendImage   = "user_send_image"
	ZaloEventSendLink    = "user_send_link"
	ZaloEventSendSticker = "user_send_sticker"
	ZaloEventFollow      = "follow"
	ZaloEventUnfollow    = "unfollow"
)

// ZaloWelcomeText is what a new follower "says" so the bot greets them
const ZaloWelcomeText = "Chào mừng bạn!"

// ZaloWebhookEvent is the Zalo OA webhook body
// Ref: https://developers.zalo.me/docs/official-account/webhook
type ZaloWebhookEvent struct {
	AppID       string      `json:"app_id"`
	EventName   string      `json:"event_name"`
	Timestamp   flexMillis  `json:"timestamp"`
	OAID        string      `json:"oa_id"`
	UserIDByApp string      `json:"user_id_by_app"`
	Sender      ZaloUser    `json:"sender"`
	Recipient   ZaloUser    `json:"recipient"`
	Follower    ZaloUser    `json:"follower"`
	Message     ZaloMessage `json:"message"`
}

// ZaloUser is a Zalo user or OA id
type ZaloUser struct {
	ID string `json:"id"`
}

// ZaloMessage carries text and attachments
type ZaloMessage struct {
	MsgID       string           `json:"msg_id"`
	Text        string           `json:"text"`
	Attachments []ZaloAttachment `json:"attachments,omitempty"`
}

// ZaloAttachment is an image, link or sticker
type ZaloAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL       string `json:"url"`
		Thumbnail string `json:"thumbnail"`
		ID        string `json:"id"`
	} `json:"payload"`
}

// flexMillis accepts the timestamp as a JSON number or string
type flexMillis int64

func (f *flexMillis) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("zalo timestamp: %w", err)
	}
	*f = flexMillis(v)
	return nil
}

func (f flexMillis) Time() time.Time {
	if f <= 0 {
		return time.Now()
	}
	return time.UnixMilli(int64(f))
}

// ZaloParseResult is what one Zalo webhook call asks of us
type ZaloParseResult struct {
	EventName string
	Verify    bool // webhook_verify handshake, answer {error:0}
	Messages  []domain.InboundMessage
}

// ParseZaloWebhook maps a Zalo event onto canonical messages.
// Unfollow and unknown events yield no messages.
func ParseZaloWebhook(payload []byte) (*ZaloParseResult, error) {
	var ev ZaloWebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: zalo payload: %v", domain.ErrInvalidInput, err)
	}

	res := &ZaloParseResult{EventName: ev.EventName}
	var text string
	switch ev.EventName {
	case ZaloEventVerify:
		res.Verify = true
		return res, nil
	case ZaloEventSendText:
		text = ev.Message.Text
	case ZaloEventSendImage:
		text = fmt.Sprintf("[Người dùng đã gửi một hình ảnh: %s]", ev.firstAttachmentURL())
	case ZaloEventSendLink:
		text = ev.firstAttachmentURL()
		if text == "" {
			text = ev.Message.Text
		}
	case ZaloEventSendSticker:
		text = "[Người dùng đã gửi sticker]"
	case ZaloEventFollow:
		if ev.Follower.ID == "" {
			return res, nil
		}
		res.Messages = append(res.Messages, domain.InboundMessage{
			Channel:           domain.ChannelZalo,
			ExternalSessionID: ev.Follower.ID,
			ExternalMessageID: fmt.Sprintf("follow:%s:%d", ev.Follower.ID, int64(ev.Timestamp)),
			Recipient:         ev.OAID,
			Text:              ZaloWelcomeText,
			MessageType:       domain.MessageTypeText,
			ReceivedAt:        ev.Timestamp.Time(),
			Raw:               json.RawMessage(payload),
		})
		return res, nil
	default:
		return res, nil
	}

	if ev.Sender.ID == "" {
		return nil, fmt.Errorf("%w: zalo %s without sender", domain.ErrInvalidInput, ev.EventName)
	}
	msgID := ev.Message.MsgID
	if msgID == "" {
		msgID = fmt.Sprintf("%s:%s:%d", ev.EventName, ev.Sender.ID, int64(ev.Timestamp))
	}
	res.Messages = append(res.Messages, domain.InboundMessage{
		Channel:           domain.ChannelZalo,
		ExternalSessionID: ev.Sender.ID,
		ExternalMessageID: msgID,
		Recipient:         ev.Recipient.ID,
		Text:              text,
		MessageType:       domain.MessageTypeText,
		ReceivedAt:        ev.Timestamp.Time(),
		Raw:               json.RawMessage(payload),
	})
	return res, nil
}

func (ev *ZaloWebhookEvent) firstAttachmentURL() string {
	if len(ev.Message.Attachments) == 0 {
		return ""
	}
	return ev.Message.Attachments[0].Payload.URL
}

// ZaloAck is the body Zalo expects back from every webhook call
type ZaloAck struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// ZaloSendRequest is the OA customer-service message body
type ZaloSendRequest struct {
	Recipient struct {
		UserID string `json:"user_id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// NewZaloSendRequest renders a canonical reply. Zalo CS text has no chips,
// so quick replies become suggestion lines under the text.
func NewZaloSendRequest(recipient string, out domain.OutboundMessage) ZaloSendRequest {
	var req ZaloSendRequest
	req.Recipient.UserID = recipient

	var b strings.Builder
	b.WriteString(out.ResponseText)
	if len(out.QuickReplies) > 0 {
		b.WriteString("\n")
		for _, qr := range out.QuickReplies {
			if qr == "" {
				continue
			}
			b.WriteString("\n👉 ")
			b.WriteString(qr)
		}
	}
	req.Message.Text = b.String()
	return req
}

// ZaloAPIResponse is the OpenAPI envelope; Error != 0 means failure
type ZaloAPIResponse struct {
	Error   int             `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ZaloTokenResponse is the OAuth v4 refresh-token grant result.
// expires_in arrives as a string of seconds.
type ZaloTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	Error        int    `json:"error,omitempty"`
	ErrorName    string `json:"error_name,omitempty"`
	ErrorReason  string `json:"error_reason,omitempty"`
}
