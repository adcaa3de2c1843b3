// Package stats keeps the dashboard counters: scans, alerts and shadow
// agreement per detector over a rolling window.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/watchtower/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultWindow is used when no window is configured.
const DefaultWindow = 24 * time.Hour

// Service records detector activity in the cache and as otel metrics.
type Service struct {
	cache  domain.Cache
	window time.Duration

	scans   metric.Int64Counter
	alerts  metric.Int64Counter
	shadows metric.Int64Counter
}

// NewService creates a stats service over a cache.
func NewService(cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}

	meter := otel.Meter("watchtower-stats")
	scans, _ := meter.Int64Counter("watchtower_scans_total")
	alerts, _ := meter.Int64Counter("watchtower_alerts_total")
	shadows, _ := meter.Int64Counter("watchtower_shadow_checks_total")

	return &Service{
		cache:   cache,
		window:  window,
		scans:   scans,
		alerts:  alerts,
		shadows: shadows,
	}
}

// Record counts one scored input and, when positive, one alert.
func (s *Service) Record(ctx context.Context, d domain.Detector, positive bool) error {
	attrs := metric.WithAttributes(attribute.String("detector", string(d)))

	s.scans.Add(ctx, 1, attrs)
	if _, err := s.cache.IncrementCounter(ctx, key(d, "scans"), s.window); err != nil {
		return fmt.Errorf("failed to count scan: %w", err)
	}

	if !positive {
		return nil
	}

	s.alerts.Add(ctx, 1, attrs)
	if _, err := s.cache.IncrementCounter(ctx, key(d, "alerts"), s.window); err != nil {
		return fmt.Errorf("failed to count alert: %w", err)
	}
	return nil
}

// RecordShadow counts one shadow comparison between a generated label and
// the scorer's verdict.
func (s *Service) RecordShadow(ctx context.Context, d domain.Detector, agrees bool) error {
	s.shadows.Add(ctx, 1, metric.WithAttributes(
		attribute.String("detector", string(d)),
		attribute.Bool("agrees", agrees),
	))

	if _, err := s.cache.IncrementCounter(ctx, key(d, "shadow"), s.window); err != nil {
		return fmt.Errorf("failed to count shadow check: %w", err)
	}
	if !agrees {
		return nil
	}
	if _, err := s.cache.IncrementCounter(ctx, key(d, "shadow_agree"), s.window); err != nil {
		return fmt.Errorf("failed to count shadow agreement: %w", err)
	}
	return nil
}

// DetectorStats are the counters for one detector.
type DetectorStats struct {
	Scans  int64 `json:"scans"`
	Alerts int64 `json:"alerts"`

	ShadowChecks     int64   `json:"shadowChecks"`
	ShadowAgreements int64   `json:"shadowAgreements"`
	AgreementRate    float64 `json:"agreementRate"`
}

// Snapshot is the dashboard view of every detector.
type Snapshot struct {
	WindowSeconds int64                             `json:"windowSeconds"`
	Detectors     map[domain.Detector]DetectorStats `json:"detectors"`
}

// Snapshot reads the current counters.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		WindowSeconds: int64(s.window / time.Second),
		Detectors:     make(map[domain.Detector]DetectorStats, len(domain.Detectors)),
	}

	names := []string{"scans", "alerts", "shadow", "shadow_agree"}
	keys := make([]string, 0, len(domain.Detectors)*len(names))
	for _, d := range domain.Detectors {
		for _, name := range names {
			keys = append(keys, key(d, name))
		}
	}
	counts, err := s.cache.Counters(ctx, keys...)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read counters: %w", err)
	}

	for i, d := range domain.Detectors {
		c := counts[i*len(names):]
		ds := DetectorStats{
			Scans:            c[0],
			Alerts:           c[1],
			ShadowChecks:     c[2],
			ShadowAgreements: c[3],
		}
		if ds.ShadowChecks > 0 {
			ds.AgreementRate = float64(ds.ShadowAgreements) / float64(ds.ShadowChecks)
		}
		snap.Detectors[d] = ds
	}

	return snap, nil
}

func key(d domain.Detector, name string) string {
	return "stats:" + string(d) + ":" + name
}
