// Package feed runs the live simulation: a ticker that draws synthetic
// traffic and keeps a short, most-recent-first log of labeled entries.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/opensource-finance/watchtower/internal/domain"
	"github.com/opensource-finance/watchtower/internal/traffic"
)

// Defaults for the tick period and log capacity.
const (
	DefaultInterval = 800 * time.Millisecond
	DefaultCapacity = 15
)

// ErrRunning is returned when Start asks for a different mode while the
// feed is already running.
var ErrRunning = errors.New("feed is already running in another mode")

// Mode selects which generator the feed draws from.
type Mode string

const (
	ModeBot     Mode = "bot"
	ModeNetwork Mode = "network"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeBot || m == ModeNetwork
}

// Detector returns the detector that scores samples of this mode.
func (m Mode) Detector() domain.Detector {
	if m == ModeNetwork {
		return domain.DetectorNetwork
	}
	return domain.DetectorBot
}

// Entry is one line of the feed log. Status and Alert come from the
// generator's label, not from scoring.
type Entry struct {
	ID      string `json:"id"`
	Seq     uint64 `json:"seq"`
	Mode    Mode   `json:"mode"`
	Subject string `json:"subject"`
	Details string `json:"details"`
	Status  string `json:"status"`
	Alert   bool   `json:"alert"`

	// Exactly one of these is set, matching Mode.
	Transaction *domain.TransactionSample `json:"transaction,omitempty"`
	Incident    *domain.NetworkSample     `json:"incident,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// State is a point-in-time view of the feed.
type State struct {
	Running  bool    `json:"running"`
	Mode     Mode    `json:"mode,omitempty"`
	Interval int64   `json:"intervalMs"`
	Capacity int     `json:"capacity"`
	Entries  []Entry `json:"entries"`
}

// Feed is the live simulation. At most one loop runs at a time.
type Feed struct {
	gen      *traffic.Generator
	bus      domain.EventBus
	clock    clockwork.Clock
	interval time.Duration
	capacity int

	mu      sync.Mutex
	running bool
	mode    Mode
	epoch   uint64
	seq     uint64
	entries []Entry
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Feed.
type Option func(*Feed)

// WithClock drives the feed from clock instead of the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(f *Feed) {
		f.clock = clock
	}
}

// WithBus publishes every entry on the feed-entry topic.
func WithBus(bus domain.EventBus) Option {
	return func(f *Feed) {
		f.bus = bus
	}
}

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithCapacity bounds the log length.
func WithCapacity(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.capacity = n
		}
	}
}

// New creates a stopped feed over a generator.
func New(gen *traffic.Generator, opts ...Option) *Feed {
	f := &Feed{
		gen:      gen,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start clears the log and begins ticking in mode. The loop ends on Stop or
// when ctx is done. Starting the running mode again changes nothing.
func (f *Feed) Start(ctx context.Context, mode Mode) error {
	if !mode.Valid() {
		return &domain.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		if f.mode == mode {
			return nil
		}
		return ErrRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ticker := f.clock.NewTicker(f.interval)
	done := make(chan struct{})

	f.running = true
	f.mode = mode
	f.epoch++
	f.seq = 0
	f.entries = nil
	f.cancel = cancel
	f.done = done

	go f.run(loopCtx, f.epoch, mode, ticker, done)

	slog.Info("feed started",
		"mode", mode,
		"interval_ms", f.interval.Milliseconds(),
	)
	return nil
}

// Stop halts the loop and waits for it to exit. The log is kept so the last
// entries stay visible. Stopping a stopped feed does nothing.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.cancel()
	done := f.done
	mode := f.mode
	f.mu.Unlock()

	<-done

	slog.Info("feed stopped", "mode", mode)
}

// Snapshot returns a copy of the current state.
func (f *Feed) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := make([]Entry, len(f.entries))
	copy(entries, f.entries)

	return State{
		Running:  f.running,
		Mode:     f.mode,
		Interval: f.interval.Milliseconds(),
		Capacity: f.capacity,
		Entries:  entries,
	}
}

func (f *Feed) run(ctx context.Context, epoch uint64, mode Mode, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			if f.epoch == epoch {
				f.running = false
			}
			f.mu.Unlock()
			return
		case <-ticker.Chan():
			f.tick(ctx, epoch, mode)
		}
	}
}

// tick draws one sample and prepends its entry, evicting the oldest entries
// beyond capacity.
func (f *Feed) tick(ctx context.Context, epoch uint64, mode Mode) {
	entry := f.draw(mode)

	f.mu.Lock()
	if !f.running || f.epoch != epoch {
		f.mu.Unlock()
		return
	}
	f.seq++
	entry.Seq = f.seq

	entries := make([]Entry, 0, min(len(f.entries)+1, f.capacity))
	entries = append(entries, entry)
	entries = append(entries, f.entries[:min(len(f.entries), f.capacity-1)]...)
	f.entries = entries
	f.mu.Unlock()

	f.publish(ctx, entry)
}

func (f *Feed) draw(mode Mode) Entry {
	entry := Entry{
		ID:        uuid.New().String(),
		Mode:      mode,
		Timestamp: f.clock.Now(),
	}

	switch mode {
	case ModeNetwork:
		s := f.gen.NetworkSample()
		entry.Incident = &s
		entry.Subject = s.Country
		entry.Details = "Attack: " + s.AttackType
		entry.Alert = s.IsStateSponsored
		entry.Status = "Hacker Group"
		if s.IsStateSponsored {
			entry.Status = "NATION-STATE"
		}
	default:
		s := f.gen.TransactionSample()
		entry.Transaction = &s
		entry.Subject = s.Type
		entry.Details = fmt.Sprintf("Amount: $%.2f", s.Amount)
		entry.Alert = s.IsBot
		entry.Status = "Normal"
		if s.IsBot {
			entry.Status = "BOT ATTACK"
		}
	}

	return entry
}

func (f *Feed) publish(ctx context.Context, entry Entry) {
	if f.bus == nil {
		return
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		slog.Error("failed to marshal feed entry",
			"entry_id", entry.ID,
			"error", err,
		)
		return
	}

	if err := f.bus.Publish(ctx, domain.TopicFeedEntry, payload); err != nil {
		slog.Warn("failed to publish feed entry",
			"entry_id", entry.ID,
			"error", err,
		)
	}
}
