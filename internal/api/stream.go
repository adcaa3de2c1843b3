package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/watchtower/internal/domain"
)

// streamHeartbeat keeps idle proxies from closing the event stream.
const streamHeartbeat = 15 * time.Second

type streamEvent struct {
	name string
	data []byte
}

// StreamSimulation serves feed entries as server-sent events. With
// ?verdicts=true, shadow verdicts are interleaved as "verdict" events.
func (h *Handler) StreamSimulation(w http.ResponseWriter, r *http.Request) {
	if h.deps.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event bus not available"})
		return
	}

	ctx := r.Context()
	rc := http.NewResponseController(w)
	events := make(chan streamEvent, 64)

	topics := map[string]string{domain.TopicFeedEntry: "entry"}
	if r.URL.Query().Get("verdicts") == "true" {
		topics[domain.TopicShadowVerdict] = "verdict"
	}

	for topic, name := range topics {
		sub, err := h.deps.Bus.Subscribe(ctx, topic, forward(name, events))
		if err != nil {
			slog.Error("failed to subscribe stream",
				"topic", topic,
				"error", err,
			)
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event bus not available"})
			return
		}
		defer sub.Unsubscribe()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Warn("stream flush unsupported", "error", err)
		return
	}

	heartbeat := h.deps.Clock.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.Chan():
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev := <-events:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// forward hands bus messages to the stream without blocking the bus; a
// client that falls behind misses events.
func forward(name string, events chan<- streamEvent) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		select {
		case events <- streamEvent{name: name, data: msg.Payload}:
		default:
		}
		return nil
	}
}
