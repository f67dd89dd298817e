package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bewo-chat/internal/adapters/dto"
	"bewo-chat/internal/core/domain"
)

func newGraphServer(t *testing.T, handle http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handle)
	t.Cleanup(srv.Close)
	return srv
}

func graphError(code int, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": message, "type": "OAuthException", "code": code, "fbtrace_id": "trace"},
		})
	}
}

func TestFacebookClient_Send(t *testing.T) {
	bodies := make(chan dto.FacebookSendRequest, 1)
	srv := newGraphServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v19.0/me/messages", r.URL.Path)
		assert.Equal(t, "page-token", r.URL.Query().Get("access_token"))
		var body dto.FacebookSendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recipient_id":"PSID-1","message_id":"m_1"}`))
	})
	c := NewFacebookClient(FacebookClientConfig{BaseURL: srv.URL, PageAccessToken: "page-token"})

	err := c.Send(context.Background(), "PSID-1", domain.OutboundMessage{
		ResponseText: "Dạ áo còn size M ạ",
		QuickReplies: []string{"Đặt hàng", "Xem thêm"},
	})

	require.NoError(t, err)
	got := <-bodies
	assert.Equal(t, domain.ChannelFacebook, c.Channel())
	assert.Equal(t, "PSID-1", got.Recipient.ID)
	assert.Equal(t, "RESPONSE", got.MessagingType)
	assert.Equal(t, "Dạ áo còn size M ạ", got.Message.Text)
	require.Len(t, got.Message.QuickReplies, 2)
	assert.Equal(t, "text", got.Message.QuickReplies[0].ContentType)
	assert.Equal(t, "Đặt hàng", got.Message.QuickReplies[0].Title)
}

func TestFacebookClient_ErrorCodes(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		wantErr      error
		wantRejected bool
	}{
		{"expired token", 190, ErrTokenExpired, true},
		{"rate limited", 613, ErrChannelRateLimited, false},
		{"app rate limited", 4, ErrChannelRateLimited, false},
		{"permission denied", 200, ErrPermissionDenied, true},
		{"invalid parameter", 100, domain.ErrDeliveryRejected, true},
		{"user unavailable", 551, domain.ErrDeliveryRejected, true},
		{"unknown code", 2, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newGraphServer(t, graphError(tt.code, "nope"))
			c := NewFacebookClient(FacebookClientConfig{BaseURL: srv.URL, PageAccessToken: "page-token"})

			err := c.Send(context.Background(), "PSID-1", domain.OutboundMessage{ResponseText: "hi"})

			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantRejected, errors.Is(err, domain.ErrDeliveryRejected))
		})
	}
}

func TestFacebookClient_NonJSONError(t *testing.T) {
	srv := newGraphServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	c := NewFacebookClient(FacebookClientConfig{BaseURL: srv.URL, PageAccessToken: "page-token"})

	err := c.Send(context.Background(), "PSID-1", domain.OutboundMessage{ResponseText: "hi"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.NotErrorIs(t, err, domain.ErrDeliveryRejected)
}

func TestFacebookClient_MissingToken(t *testing.T) {
	var calls atomic.Int32
	srv := newGraphServer(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })
	c := NewFacebookClient(FacebookClientConfig{BaseURL: srv.URL})

	err := c.Send(context.Background(), "PSID-1", domain.OutboundMessage{ResponseText: "hi"})

	assert.ErrorIs(t, err, domain.ErrDeliveryRejected)
	assert.Zero(t, calls.Load())
}
