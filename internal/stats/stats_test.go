package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/watchtower/internal/cache"
	"github.com/opensource-finance/watchtower/internal/domain"
)

func TestRecord(t *testing.T) {
	ctx := context.Background()
	svc := NewService(cache.NewLRUCache(100), time.Hour)

	svc.Record(ctx, domain.DetectorBot, true)
	svc.Record(ctx, domain.DetectorBot, false)
	svc.Record(ctx, domain.DetectorBot, true)
	svc.Record(ctx, domain.DetectorPhishing, false)

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if snap.WindowSeconds != 3600 {
		t.Errorf("expected window 3600, got %d", snap.WindowSeconds)
	}

	bot := snap.Detectors[domain.DetectorBot]
	if bot.Scans != 3 || bot.Alerts != 2 {
		t.Errorf("expected 3 scans and 2 alerts, got %+v", bot)
	}

	phishing := snap.Detectors[domain.DetectorPhishing]
	if phishing.Scans != 1 || phishing.Alerts != 0 {
		t.Errorf("expected 1 scan and no alerts, got %+v", phishing)
	}

	if _, ok := snap.Detectors[domain.DetectorNetwork]; !ok {
		t.Error("expected every detector in the snapshot")
	}
}

func TestRecordShadow(t *testing.T) {
	ctx := context.Background()
	svc := NewService(cache.NewLRUCache(100), 0)

	for _, agrees := range []bool{true, true, true, false} {
		if err := svc.RecordShadow(ctx, domain.DetectorNetwork, agrees); err != nil {
			t.Fatalf("RecordShadow failed: %v", err)
		}
	}

	snap, _ := svc.Snapshot(ctx)
	network := snap.Detectors[domain.DetectorNetwork]
	if network.ShadowChecks != 4 || network.ShadowAgreements != 3 {
		t.Errorf("expected 4 checks and 3 agreements, got %+v", network)
	}
	if network.AgreementRate != 0.75 {
		t.Errorf("expected agreement rate 0.75, got %f", network.AgreementRate)
	}
	if snap.WindowSeconds != int64(DefaultWindow/time.Second) {
		t.Errorf("expected default window, got %d", snap.WindowSeconds)
	}
}

type failingCache struct {
	domain.Cache
}

func (failingCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, errors.New("unavailable")
}

func (failingCache) Counters(ctx context.Context, keys ...string) ([]int64, error) {
	return nil, errors.New("unavailable")
}

func TestCacheErrors(t *testing.T) {
	ctx := context.Background()
	svc := NewService(failingCache{}, time.Minute)

	if err := svc.Record(ctx, domain.DetectorBot, true); err == nil {
		t.Error("expected Record error")
	}
	if err := svc.RecordShadow(ctx, domain.DetectorBot, true); err == nil {
		t.Error("expected RecordShadow error")
	}
	if _, err := svc.Snapshot(ctx); err == nil {
		t.Error("expected Snapshot error")
	}
}
