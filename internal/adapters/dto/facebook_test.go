package dto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bewo-chat/internal/core/domain"
)

const facebookPayload = `{
  "object": "page",
  "entry": [
    {
      "id": "PAGE-1",
      "time": 1760000000000,
      "messaging": [
        {
          "sender": {"id": "PSID-1"},
          "recipient": {"id": "PAGE-1"},
          "timestamp": 1760000000100,
          "message": {"mid": "m_text", "text": "áo này giá bao nhiêu?"}
        },
        {
          "sender": {"id": "PAGE-1"},
          "recipient": {"id": "PSID-1"},
          "timestamp": 1760000000200,
          "message": {"mid": "m_echo", "text": "Dạ 250k ạ", "is_echo": true}
        },
        {
          "sender": {"id": "PSID-1"},
          "recipient": {"id": "PAGE-1"},
          "timestamp": 1760000000300,
          "delivery": {"mids": ["m_echo"], "watermark": 1760000000200}
        },
        {
          "sender": {"id": "PSID-1"},
          "recipient": {"id": "PAGE-1"},
          "timestamp": 1760000000400,
          "read": {"watermark": 1760000000200}
        }
      ]
    },
    {
      "id": "PAGE-1",
      "time": 1760000001000,
      "messaging": [
        {
          "sender": {"id": "PSID-2"},
          "recipient": {"id": "PAGE-1"},
          "timestamp": 1760000001100,
          "message": {"mid": "m_qr", "text": "Đặt hàng", "quick_reply": {"payload": "ORDER"}}
        },
        {
          "sender": {"id": "PSID-2"},
          "recipient": {"id": "PAGE-1"},
          "timestamp": 1760000001200,
          "postback": {"title": "Xem size", "payload": "SIZE"}
        },
        {
          "sender": {"id": "PSID-3"},
          "recipient": {"id": "PAGE-1"},
          "timestamp": 1760000001300,
          "message": {"mid": "m_img", "attachments": [{"type": "image", "payload": {"url": "https://cdn.example/a.jpg"}}]}
        }
      ]
    }
  ]
}`

func TestParseFacebookWebhook(t *testing.T) {
	msgs, err := ParseFacebookWebhook([]byte(facebookPayload))
	require.NoError(t, err)
	require.Len(t, msgs, 4, "echo, delivery and read events are dropped")

	text := msgs[0]
	assert.Equal(t, domain.ChannelFacebook, text.Channel)
	assert.Equal(t, "PSID-1", text.ExternalSessionID)
	assert.Equal(t, "m_text", text.ExternalMessageID)
	assert.Equal(t, "PAGE-1", text.Recipient)
	assert.Equal(t, "áo này giá bao nhiêu?", text.Text)
	assert.Equal(t, domain.MessageTypeText, text.MessageType)
	assert.True(t, text.ReceivedAt.Equal(time.UnixMilli(1760000000100)))
	assert.NotEmpty(t, text.Raw)

	qr := msgs[1]
	assert.Equal(t, "m_qr", qr.ExternalMessageID)
	assert.Equal(t, domain.MessageTypeQuickReply, qr.MessageType)
	assert.Equal(t, "Đặt hàng", qr.Text)

	postback := msgs[2]
	assert.Equal(t, "postback:PSID-2:1760000001200", postback.ExternalMessageID)
	assert.Equal(t, "Xem size", postback.Text)
	assert.Equal(t, domain.MessageTypeQuickReply, postback.MessageType)

	image := msgs[3]
	assert.Equal(t, "[Người dùng đã gửi một hình ảnh: https://cdn.example/a.jpg]", image.Text)
}

func TestParseFacebookWebhook_Invalid(t *testing.T) {
	_, err := ParseFacebookWebhook([]byte(`{"object": "page", "entry": [`))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	msgs, err := ParseFacebookWebhook([]byte(`{"object": "page", "entry": []}`))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFacebookMessaging_GetContent(t *testing.T) {
	tests := []struct {
		name string
		m    FacebookMessaging
		want string
	}{
		{"postback payload without title", FacebookMessaging{Postback: &FacebookPostback{Payload: "MENU"}}, "MENU"},
		{"file attachment", FacebookMessaging{Message: &FacebookMessage{Attachments: []FacebookAttachment{{Type: "file", Payload: FacebookAttachmentPayload{URL: "https://x/f.pdf"}}}}}, "[Người dùng đã gửi tệp đính kèm (file): https://x/f.pdf]"},
		{"empty message", FacebookMessaging{Message: &FacebookMessage{}}, ""},
		{"no message", FacebookMessaging{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.GetContent())
		})
	}
}

func TestNewFacebookSendRequest(t *testing.T) {
	qrs := make([]string, 0, 16)
	qrs = append(qrs, "Một lựa chọn có tiêu đề rất dài quá mức cho phép", "")
	for i := 0; i < 14; i++ {
		qrs = append(qrs, "opt")
	}

	req := NewFacebookSendRequest("PSID-9", domain.OutboundMessage{ResponseText: "Dạ", QuickReplies: qrs})

	assert.Equal(t, "PSID-9", req.Recipient.ID)
	assert.Equal(t, FacebookMessagingTypeRespond, req.MessagingType)
	assert.Equal(t, "Dạ", req.Message.Text)
	require.Len(t, req.Message.QuickReplies, FacebookMaxQuickReplies)

	first := req.Message.QuickReplies[0]
	assert.Equal(t, "text", first.ContentType)
	assert.Equal(t, FacebookMaxQuickReplyTitle, len([]rune(first.Title)))
	assert.True(t, strings.HasPrefix(qrs[0], first.Title))
	assert.Equal(t, qrs[0], first.Payload, "payload keeps the full text")
}

func TestNewFacebookSendRequest_NoQuickReplies(t *testing.T) {
	req := NewFacebookSendRequest("PSID-9", domain.OutboundMessage{ResponseText: "Cảm ơn chị"})
	assert.Nil(t, req.Message.QuickReplies)
}
