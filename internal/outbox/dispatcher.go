// Package outbox drains persisted domain events and delivers them to
// downstream consumers. Events are written transactionally with the balance
// state that produced them, so delivery here is at-least-once.
package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nutriflow/nutrition-core/internal/model"
)

// EventSource is the slice of the store the dispatcher reads from.
type EventSource interface {
	PendingEvents(ctx context.Context, limit int) ([]model.Event, error)
	MarkEventsProcessed(ctx context.Context, ids []string) error
}

// Sink delivers a single event downstream.
type Sink interface {
	Deliver(ctx context.Context, ev model.Event) error
}

// WebhookSink POSTs each event as JSON to a fixed URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "outbox: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "outbox: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "outbox: post event")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("outbox: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogSink writes each event to the global logger. Default when no webhook is
// configured.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, ev model.Event) error {
	zap.L().Info("domain event",
		zap.String("event_id", ev.ID),
		zap.String("user_id", ev.UserID),
		zap.String("kind", string(ev.Kind)),
		zap.Time("occurred_at", ev.OccurredAt),
	)
	return nil
}

// Dispatcher polls the outbox and pushes pending events through the sink.
type Dispatcher struct {
	src      EventSource
	sink     Sink
	interval time.Duration
	limit    int
}

// NewDispatcher creates a dispatcher polling at interval, draining up to
// limit events per poll.
func NewDispatcher(src EventSource, sink Sink, interval time.Duration, limit int) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if limit <= 0 {
		limit = 100
	}
	if sink == nil {
		sink = LogSink{}
	}
	return &Dispatcher{src: src, sink: sink, interval: interval, limit: limit}
}

// Run polls until ctx is cancelled. Delivery errors are logged; the failed
// event stays pending and is retried on a later poll.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				zap.L().Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// DrainOnce delivers one batch of pending events and marks the delivered
// ones processed. Returns the number delivered.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	events, err := d.src.PendingEvents(ctx, d.limit)
	if err != nil {
		return 0, eris.Wrap(err, "outbox: fetch pending")
	}
	if len(events) == 0 {
		return 0, nil
	}

	delivered := make([]string, 0, len(events))
	for _, ev := range events {
		if err := d.sink.Deliver(ctx, ev); err != nil {
			zap.L().Warn("event delivery failed, will retry",
				zap.String("event_id", ev.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
			continue
		}
		delivered = append(delivered, ev.ID)
	}

	if len(delivered) > 0 {
		if err := d.src.MarkEventsProcessed(ctx, delivered); err != nil {
			return len(delivered), eris.Wrap(err, "outbox: mark processed")
		}
	}
	return len(delivered), nil
}
