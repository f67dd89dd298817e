// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bewo-chat/internal/adapters/dto"
	"bewo-chat/internal/adapters/metrics"
	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

// InboundParser turns a raw channel payload into canonical messages
type InboundParser func(payload []byte) ([]domain.InboundMessage, error)

// DefaultParsers covers the channels that deliver through webhooks
func DefaultParsers() map[domain.Channel]InboundParser {
	return map[domain.Channel]InboundParser{
		domain.ChannelFacebook: dto.ParseFacebookWebhook,
		domain.ChannelZalo: func(payload []byte) ([]domain.InboundMessage, error) {
			res, err := dto.ParseZaloWebhook(payload)
			if err != nil {
				return nil, err
			}
			return res.Messages, nil
		},
	}
}

// DispatchResult summarizes one webhook call
type DispatchResult struct {
	Received   int `json:"received"`
	Processed  int `json:"processed"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Dispatcher is the idempotent front door for channel traffic:
// audit log, dedup claim, orchestrator turn, then async delivery.
type Dispatcher struct {
	turns       ports.Turn
	webhookRepo ports.WebhookRepository
	dedupRepo   ports.DedupRepository
	deliverer   *Deliverer
	parsers     map[domain.Channel]InboundParser
	dedupTTL    time.Duration
}

// NewDispatcher creates a new dispatcher instance with dependencies injected
func NewDispatcher(
	turns ports.Turn,
	webhookRepo ports.WebhookRepository,
	dedupRepo ports.DedupRepository,
	deliverer *Deliverer,
	dedupTTL time.Duration,
) *Dispatcher {
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	return &Dispatcher{
		turns:       turns,
		webhookRepo: webhookRepo,
		dedupRepo:   dedupRepo,
		deliverer:   deliverer,
		parsers:     DefaultParsers(),
		dedupTTL:    dedupTTL,
	}
}

// ProcessWebhook handles one webhook delivery synchronously.
// A non-nil error wrapping domain.ErrPersistenceFailed means the platform should redeliver.
func (d *Dispatcher) ProcessWebhook(ctx context.Context, channel domain.Channel, payload []byte) (result DispatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in ProcessWebhook",
				"panic", r,
				"platform", channel,
			)
			err = fmt.Errorf("panic while processing %s webhook: %v", channel, r)
		}
	}()

	parse, ok := d.parsers[channel]
	if !ok {
		return result, fmt.Errorf("%w: no webhook parser for channel %q", domain.ErrInvalidInput, channel)
	}

	webhookLog := &domain.WebhookLog{
		Platform:    channel,
		PayloadJSON: json.RawMessage(payload),
		Status:      domain.WebhookStatusPending,
		CreatedAt:   time.Now(),
	}
	// The audit trail must not block message handling
	if serr := d.webhookRepo.SaveLog(ctx, webhookLog); serr != nil {
		slog.Error("Failed to save webhook log", "error", serr, "platform", channel)
		webhookLog.ID = ""
	}

	messages, err := parse(payload)
	if err != nil {
		d.finishLog(webhookLog, err)
		return result, err
	}
	result.Received = len(messages)

	var firstErr error
	for _, in := range messages {
		out, perr := d.processInbound(ctx, in)
		switch {
		case errors.Is(perr, domain.ErrDuplicateMessage):
			result.Duplicates++
		case perr != nil:
			result.Failed++
			slog.Error("Failed to process message",
				"error", perr,
				"platform", channel,
				"message_id", in.ExternalMessageID,
			)
			if firstErr == nil {
				firstErr = perr
			}
		default:
			result.Processed++
			d.deliver(ctx, in, out)
		}
	}

	d.finishLog(webhookLog, firstErr)
	slog.Info("Webhook processing completed",
		"platform", channel,
		"received", result.Received,
		"processed", result.Processed,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
	)
	return result, firstErr
}

// HandleDirect runs a synchronous turn for callers that render the reply
// themselves (web widget, trainer). Same dedup rules, no channel delivery.
func (d *Dispatcher) HandleDirect(ctx context.Context, in domain.InboundMessage) (*domain.OutboundMessage, error) {
	return d.processInbound(ctx, in)
}

// processInbound claims the idempotency key, runs the turn and
// releases the claim again if the turn could not be persisted
func (d *Dispatcher) processInbound(ctx context.Context, in domain.InboundMessage) (*domain.OutboundMessage, error) {
	key := ""
	if in.ExternalMessageID != "" {
		key = DedupKey(in.Channel, in.ExternalMessageID)
		claimed, err := d.dedupRepo.Claim(ctx, key, d.dedupTTL)
		if err != nil {
			// The store's unique external id still guards correctness
			slog.Warn("Dedup claim failed, relying on store check",
				"error", err,
				"message_id", in.ExternalMessageID,
			)
			key = ""
		} else if !claimed {
			slog.Info("Duplicate message detected, skipping",
				"platform", in.Channel,
				"message_id", in.ExternalMessageID,
			)
			metrics.RecordDuplicate(string(in.Channel))
			return nil, domain.ErrDuplicateMessage
		}
	}

	out, err := d.turns.HandleInbound(ctx, in)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			metrics.RecordDuplicate(string(in.Channel))
			return nil, err
		}
		if key != "" {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if rerr := d.dedupRepo.Release(releaseCtx, key); rerr != nil {
				slog.Warn("Failed to release dedup claim", "error", rerr, "key", key)
			}
			cancel()
		}
		return nil, err
	}
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, in domain.InboundMessage, out *domain.OutboundMessage) {
	if d.deliverer == nil || out == nil || !out.AutoReplied || out.ResponseText == "" {
		return
	}
	if _, err := d.deliverer.Enqueue(ctx, in.Channel, out.ConversationID, in.ExternalSessionID, out.BotMessageID, *out); err != nil {
		// The bot message is stored; the admin UI shows it without a delivery row
		slog.Error("Failed to enqueue delivery",
			"error", err,
			"conversation_id", out.ConversationID,
		)
	}
}

// finishLog records the outcome on the audit row (fire and forget)
func (d *Dispatcher) finishLog(log *domain.WebhookLog, procErr error) {
	if log.ID == "" {
		return
	}
	status, errMsg := domain.WebhookStatusProcessed, ""
	if procErr != nil {
		status, errMsg = domain.WebhookStatusFailed, procErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.webhookRepo.UpdateStatus(ctx, log.ID, status, errMsg); err != nil {
		slog.Error("Failed to update webhook status",
			"error", err,
			"webhook_id", log.ID,
			"status", status,
		)
	}
}

// DedupKey namespaces external ids per channel
func DedupKey(channel domain.Channel, externalMessageID string) string {
	return string(channel) + ":" + externalMessageID
}
