package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"bewo-chat/internal/adapters/metrics"
	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

// DeliveryConfig bounds outbound retries
type DeliveryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	AttemptTimeout  time.Duration
}

func (c DeliveryConfig) withDefaults() DeliveryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 30 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	return c
}

// Deliverer pushes persisted bot/admin messages to channel APIs in the background.
// Each send is recorded; failures end in a failed delivery row, never in the turn.
type Deliverer struct {
	senders map[domain.Channel]ports.ChannelSender
	repo    ports.DeliveryRepository
	events  ports.EventPublisher
	cfg     DeliveryConfig

	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewDeliverer(repo ports.DeliveryRepository, events ports.EventPublisher, cfg DeliveryConfig, senders ...ports.ChannelSender) *Deliverer {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Deliverer{
		senders: make(map[domain.Channel]ports.ChannelSender, len(senders)),
		repo:    repo,
		events:  events,
		cfg:     cfg.withDefaults(),
		baseCtx: ctx,
		cancel:  cancel,
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
	}
	return d
}

// Supports reports whether channel has a push API (web replies are returned inline)
func (d *Deliverer) Supports(channel domain.Channel) bool {
	_, ok := d.senders[channel]
	return ok
}

// Enqueue records a pending delivery and sends it asynchronously.
// Returns nil, nil for channels without a push API.
func (d *Deliverer) Enqueue(ctx context.Context, channel domain.Channel, conversationID, recipient, messageID string, out domain.OutboundMessage) (*domain.Delivery, error) {
	sender, ok := d.senders[channel]
	if !ok {
		return nil, nil
	}

	now := time.Now()
	delivery := &domain.Delivery{
		MessageID:      messageID,
		ConversationID: conversationID,
		Channel:        channel,
		Recipient:      recipient,
		Status:         domain.DeliveryStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.repo.CreateDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}

	snapshot := *delivery
	d.wg.Add(1)
	go d.run(sender, delivery, out)
	return &snapshot, nil
}

func (d *Deliverer) run(sender ports.ChannelSender, delivery *domain.Delivery, out domain.OutboundMessage) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in delivery",
				"panic", r,
				"delivery_id", delivery.ID,
			)
		}
	}()

	ctx, cancel := context.WithTimeout(d.baseCtx, d.cfg.MaxElapsed+d.cfg.AttemptTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialInterval
	policy.MaxInterval = d.cfg.MaxInterval
	policy.MaxElapsedTime = d.cfg.MaxElapsed
	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.cfg.MaxAttempts-1)), ctx)

	operation := func() error {
		delivery.Attempts++
		attemptCtx, cancelAttempt := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancelAttempt()

		err := sender.Send(attemptCtx, delivery.Recipient, out)
		if err != nil && errors.Is(err, domain.ErrDeliveryRejected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("Delivery attempt failed, backing off",
			"delivery_id", delivery.ID,
			"channel", delivery.Channel,
			"attempt", delivery.Attempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
	}

	err := backoff.RetryNotify(operation, bounded, notify)

	delivery.UpdatedAt = time.Now()
	if err != nil {
		delivery.Status = domain.DeliveryStatusFailed
		delivery.LastError = err.Error()
		slog.Error("Delivery failed",
			"delivery_id", delivery.ID,
			"conversation_id", delivery.ConversationID,
			"channel", delivery.Channel,
			"attempts", delivery.Attempts,
			"error", err,
		)
	} else {
		delivery.Status = domain.DeliveryStatusSent
		delivery.LastError = ""
		slog.Info("Delivery sent",
			"delivery_id", delivery.ID,
			"channel", delivery.Channel,
			"attempts", delivery.Attempts,
		)
	}
	metrics.RecordDelivery(string(delivery.Channel), string(delivery.Status))

	// Status must be recorded even when shutdown cancelled the sends
	saveCtx, cancelSave := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSave()
	if uerr := d.repo.UpdateDelivery(saveCtx, delivery); uerr != nil {
		slog.Error("Failed to record delivery status",
			"delivery_id", delivery.ID,
			"status", delivery.Status,
			"error", uerr,
		)
	}

	if delivery.Status == domain.DeliveryStatusFailed && d.events != nil {
		d.events.Publish(domain.Event{
			Type:           domain.EventDeliveryFailed,
			ConversationID: delivery.ConversationID,
			Channel:        delivery.Channel,
			Data:           delivery,
			At:             time.Now(),
		})
	}
}

// Wait blocks until in-flight deliveries finish
func (d *Deliverer) Wait() {
	d.wg.Wait()
}

// Shutdown waits for in-flight deliveries; on ctx expiry it cancels them
func (d *Deliverer) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
