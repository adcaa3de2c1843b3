// Package worker re-scores live feed samples in the background and reports
// how often the detectors agree with the generator's labels.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/watchtower/internal/domain"
	"github.com/opensource-finance/watchtower/internal/feed"
	"github.com/opensource-finance/watchtower/internal/scoring"
	"github.com/opensource-finance/watchtower/internal/stats"
)

// ShadowVerdict compares a feed entry's generated label with the verdict the
// detector reaches on the same sample.
type ShadowVerdict struct {
	EntryID     string          `json:"entryId"`
	Seq         uint64          `json:"seq"`
	Detector    domain.Detector `json:"detector"`
	GroundTruth bool            `json:"groundTruth"`
	Verdict     domain.Verdict  `json:"verdict"`
	Agrees      bool            `json:"agrees"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Worker shadow-scores feed entries from the EventBus.
type Worker struct {
	bus    domain.EventBus
	engine *scoring.Engine
	stats  *stats.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed     atomic.Int64
	disagreements atomic.Int64
}

// NewWorker creates a shadow worker. stats may be nil.
func NewWorker(bus domain.EventBus, engine *scoring.Engine, stats *stats.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: engine,
		stats:  stats,
		ctx:    ctx,
		cancel: cancel,
	}
}

// QueueGroup is the group shadow workers join on buses that load-balance,
// so each feed entry is scored once across replicas.
const QueueGroup = "watchtower-shadow"

// Start subscribes to the feed-entry topic.
func (w *Worker) Start() error {
	var (
		sub domain.Subscription
		err error
	)
	if qs, ok := w.bus.(domain.QueueSubscriber); ok {
		sub, err = qs.QueueSubscribe(w.ctx, domain.TopicFeedEntry, QueueGroup, w.handleMessage)
	} else {
		sub, err = w.bus.Subscribe(w.ctx, domain.TopicFeedEntry, w.handleMessage)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicFeedEntry, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("shadow worker started",
		"topic", domain.TopicFeedEntry,
	)
	return nil
}

// handleMessage decodes a feed entry and shadow-scores it.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var entry feed.Entry
	if err := json.Unmarshal(msg.Payload, &entry); err != nil {
		slog.Error("failed to parse feed entry",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	_, err := w.Process(ctx, entry)
	return err
}

// Process scores one entry, records the comparison and publishes it on the
// verdict topic, and on the alert topic when the entry is labeled an attack.
func (w *Worker) Process(ctx context.Context, entry feed.Entry) (ShadowVerdict, error) {
	start := time.Now()

	var (
		input       any
		groundTruth bool
	)
	switch {
	case entry.Transaction != nil:
		input, groundTruth = entry.Transaction.Input(), entry.Transaction.IsBot
	case entry.Incident != nil:
		input, groundTruth = entry.Incident.Input(), entry.Incident.IsStateSponsored
	default:
		return ShadowVerdict{}, fmt.Errorf("feed entry %s carries no sample", entry.ID)
	}

	d := entry.Mode.Detector()
	v, err := w.engine.Evaluate(ctx, d, input)
	if err != nil {
		slog.Error("shadow scoring failed",
			"entry_id", entry.ID,
			"detector", d,
			"error", err,
		)
		return ShadowVerdict{}, err
	}

	shadow := ShadowVerdict{
		EntryID:     entry.ID,
		Seq:         entry.Seq,
		Detector:    d,
		GroundTruth: groundTruth,
		Verdict:     v,
		Agrees:      v.Positive == groundTruth,
		Timestamp:   time.Now(),
	}

	w.processed.Add(1)
	if !shadow.Agrees {
		w.disagreements.Add(1)
	}

	if w.stats != nil {
		if err := w.stats.RecordShadow(ctx, d, shadow.Agrees); err != nil {
			slog.Warn("failed to record shadow stats",
				"entry_id", entry.ID,
				"error", err,
			)
		}
	}

	payload, _ := json.Marshal(shadow)
	if err := w.bus.Publish(ctx, domain.TopicShadowVerdict, payload); err != nil {
		slog.Error("failed to publish shadow verdict",
			"entry_id", entry.ID,
			"error", err,
		)
	}

	if groundTruth {
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"entry_id", entry.ID,
				"error", err,
			)
		}
	}

	slog.Debug("feed entry shadow-scored",
		"entry_id", entry.ID,
		"detector", d,
		"ground_truth", groundTruth,
		"score", v.Score,
		"agrees", shadow.Agrees,
		"duration_us", time.Since(start).Microseconds(),
	)

	return shadow, nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("shadow worker stopped",
		"processed", w.processed.Load(),
		"disagreements", w.disagreements.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Disagreements     int64    `json:"disagreements"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Disagreements:     w.disagreements.Load(),
	}
}
