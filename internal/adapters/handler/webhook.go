package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bewo-chat/internal/adapters/dto"
	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/services"
)

// MessageProcessor is the dispatcher surface the channel endpoints need
type MessageProcessor interface {
	ProcessWebhook(ctx context.Context, channel domain.Channel, payload []byte) (services.DispatchResult, error)
	HandleDirect(ctx context.Context, in domain.InboundMessage) (*domain.OutboundMessage, error)
}

// WebhookConfig carries channel secrets
type WebhookConfig struct {
	FacebookAppSecret   string // For HMAC signature validation
	FacebookVerifyToken string // For webhook verification
	ZaloSecretKey       string // optional; signature checked only when both secret and header exist
	ProcessTimeout      time.Duration
}

// WebhookHandler handles channel webhooks and the web widget endpoint.
// Turns run synchronously so a persistence failure can be answered with
// a non-2xx status and the platform redelivers; redeliveries are deduped.
type WebhookHandler struct {
	processor MessageProcessor
	cfg       WebhookConfig
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor MessageProcessor, cfg WebhookConfig) *WebhookHandler {
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 45 * time.Second
	}
	return &WebhookHandler{processor: processor, cfg: cfg}
}

// processContext detaches from the client connection: a platform timing out
// must not abort a turn halfway between its writes
func (h *WebhookHandler) processContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.ProcessTimeout)
}

// ============================================================================
// GET /webhook/facebook - Webhook Verification
// ============================================================================

// HandleFacebookVerify handles webhook verification challenge from Facebook
// Ref: https://developers.facebook.com/docs/messenger-platform/webhooks#verification
func (h *WebhookHandler) HandleFacebookVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	matches := h.cfg.FacebookVerifyToken != "" &&
		hmac.Equal([]byte(token), []byte(h.cfg.FacebookVerifyToken))

	slog.Info("Webhook verification request received",
		"mode", mode,
		"token_matches", matches,
	)

	if mode == "subscribe" && matches {
		slog.Info("Webhook verification successful")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	slog.Warn("Webhook verification failed", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// ============================================================================
// POST /webhook/facebook - Webhook Events
// ============================================================================

// HandleFacebookEvent validates the HMAC signature, then processes every
// messaging event in the payload
func (h *WebhookHandler) HandleFacebookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		slog.Error("Failed to read webhook body", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// Do NOT process without a valid signature
	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		slog.Warn("Webhook received without signature header")
		http.Error(w, "Forbidden - No signature", http.StatusForbidden)
		return
	}
	if !validateSignature(h.cfg.FacebookAppSecret, body, signature) {
		slog.Warn("Webhook signature validation failed")
		http.Error(w, "Forbidden - Invalid signature", http.StatusForbidden)
		return
	}

	ctx, cancel := h.processContext(r)
	defer cancel()

	result, err := h.processor.ProcessWebhook(ctx, domain.ChannelFacebook, body)
	if !h.acknowledge(w, domain.ChannelFacebook, result, err) {
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))
}

// ============================================================================
// POST /webhook/zalo - Zalo OA events
// ============================================================================

// HandleZaloEvent answers webhook_verify and routes message events.
// Zalo expects {"error":0,"message":"success"} on every accepted call.
func (h *WebhookHandler) HandleZaloEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if signature := r.Header.Get("X-Zalo-Signature"); signature != "" && h.cfg.ZaloSecretKey != "" {
		if !validateSignature(h.cfg.ZaloSecretKey, body, signature) {
			slog.Warn("Zalo signature validation failed")
			http.Error(w, "Forbidden - Invalid signature", http.StatusForbidden)
			return
		}
	}

	parsed, err := dto.ParseZaloWebhook(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if parsed.Verify {
		slog.Info("Zalo webhook verification received")
		writeJSON(w, http.StatusOK, dto.ZaloAck{Error: 0, Message: "success"})
		return
	}

	if len(parsed.Messages) > 0 {
		ctx, cancel := h.processContext(r)
		defer cancel()

		result, err := h.processor.ProcessWebhook(ctx, domain.ChannelZalo, body)
		if !h.acknowledge(w, domain.ChannelZalo, result, err) {
			return
		}
	} else {
		slog.Debug("Zalo event acknowledged without processing", "event", parsed.EventName)
	}
	writeJSON(w, http.StatusOK, dto.ZaloAck{Error: 0, Message: "success"})
}

// acknowledge writes the failure response when the platform should retry.
// Returns true when the caller should answer 2xx.
func (h *WebhookHandler) acknowledge(w http.ResponseWriter, channel domain.Channel, result services.DispatchResult, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrInvalidInput):
		// Redelivering a malformed payload cannot help
		slog.Warn("Webhook payload rejected", "platform", channel, "error", err)
		writeError(w, err)
		return false
	default:
		slog.Error("Webhook processing failed, asking platform to redeliver",
			"platform", channel,
			"processed", result.Processed,
			"failed", result.Failed,
			"error", err,
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return false
	}
}

// ============================================================================
// POST /widget/chat - Web widget
// ============================================================================

// HandleWebChat runs a synchronous turn and returns the reply inline
func (h *WebhookHandler) HandleWebChat(w http.ResponseWriter, r *http.Request) {
	var req dto.WebChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	in, err := req.ToInbound()
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := h.processContext(r)
	defer cancel()

	out, err := h.processor.HandleDirect(ctx, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, dto.NewWebChatResponse(out))
}

// ============================================================================
// HMAC Signature Validation
// ============================================================================

// validateSignature checks a hex HMAC-SHA256 of payload, with or without the
// "sha256=" prefix Facebook sends.
// Ref: https://developers.facebook.com/docs/messenger-platform/webhooks#security
func validateSignature(secret string, payload []byte, signatureHeader string) bool {
	if secret == "" {
		return false
	}
	expected := strings.TrimPrefix(strings.TrimSpace(signatureHeader), "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	computed := hex.EncodeToString(mac.Sum(nil))

	// constant-time comparison
	return hmac.Equal([]byte(computed), []byte(strings.ToLower(expected)))
}
