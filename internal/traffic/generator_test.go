package traffic

import (
	"slices"
	"sync"
	"testing"

	"github.com/opensource-finance/watchtower/internal/domain"
	"github.com/opensource-finance/watchtower/internal/scoring"
)

const draws = 2000

func TestTransactionSampleShape(t *testing.T) {
	g := New(WithSeed(42))

	attacks := 0
	for i := 0; i < draws; i++ {
		s := g.TransactionSample()
		if err := s.Validate(); err != nil {
			t.Fatalf("sample %d is not a valid input: %v", i, err)
		}

		if s.IsBot {
			attacks++
			if s.Type != domain.TxTransfer {
				t.Errorf("attack with type %s", s.Type)
			}
			if s.Amount < 10000 || s.Amount >= 500000 {
				t.Errorf("attack amount %.0f out of range", s.Amount)
			}
			if s.OldBalance != s.Amount || s.NewBalance != 0 {
				t.Errorf("attack must drain the account: %+v", s)
			}
			continue
		}

		if s.Amount < 10 || s.Amount >= 5000 {
			t.Errorf("normal amount %.0f out of range", s.Amount)
		}
		if s.OldBalance < s.Amount || s.OldBalance >= s.Amount+10000 {
			t.Errorf("normal old balance %.0f out of range for amount %.0f", s.OldBalance, s.Amount)
		}
		if s.NewBalance != s.OldBalance-s.Amount {
			t.Errorf("normal balances inconsistent: %+v", s)
		}
	}

	// 15% of 2000 is 300.
	if attacks < 200 || attacks > 400 {
		t.Errorf("expected roughly 300 attacks, got %d", attacks)
	}
}

func TestAttackTransactionsScoreAsBots(t *testing.T) {
	engine, err := scoring.New()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	g := New(WithSeed(7), WithBotAttackRate(1))

	for i := 0; i < 200; i++ {
		s := g.TransactionSample()
		res, err := engine.ScoreTransaction(s.Input())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.IsBot {
			t.Errorf("attack sample scored as human: %+v -> %+v", s, res)
		}
	}
}

func TestNetworkSampleShape(t *testing.T) {
	g := New(WithSeed(42))

	state := 0
	for i := 0; i < draws; i++ {
		s := g.NetworkSample()
		if err := s.Validate(); err != nil {
			t.Fatalf("sample %d is not a valid input: %v", i, err)
		}
		if s.FinancialLoss != 0 || s.AffectedUsers != 0 || s.ResolutionTime != 0 {
			t.Errorf("expected zero impact figures, got %+v", s)
		}

		if s.IsStateSponsored {
			state++
			if !slices.Contains(domain.StateSponsorCountries, s.Country) ||
				!slices.Contains(domain.AdvancedAttackTypes, s.AttackType) ||
				!slices.Contains(domain.CriticalIndustries, s.Industry) {
				t.Errorf("state-sponsored sample outside its tables: %+v", s)
			}
			continue
		}

		if !slices.Contains(domain.FeedCountries, s.Country) ||
			!slices.Contains(domain.FeedAttackTypes, s.AttackType) ||
			s.Industry != domain.BaselineIndustry {
			t.Errorf("ordinary sample outside its tables: %+v", s)
		}
	}

	// 12% of 2000 is 240.
	if state < 150 || state > 330 {
		t.Errorf("expected roughly 240 state-sponsored samples, got %d", state)
	}
}

func TestRates(t *testing.T) {
	never := New(WithSeed(1), WithBotAttackRate(0), WithStateAttackRate(0))
	always := New(WithSeed(1), WithBotAttackRate(1), WithStateAttackRate(1))

	for i := 0; i < 100; i++ {
		if never.TransactionSample().IsBot || never.NetworkSample().IsStateSponsored {
			t.Fatal("rate 0 produced an attack")
		}
		if !always.TransactionSample().IsBot || !always.NetworkSample().IsStateSponsored {
			t.Fatal("rate 1 produced normal traffic")
		}
	}
}

func TestSeedIsDeterministic(t *testing.T) {
	a := New(WithSeed(99))
	b := New(WithSeed(99))

	for i := 0; i < 50; i++ {
		if a.TransactionSample() != b.TransactionSample() {
			t.Fatalf("transaction %d differs for the same seed", i)
		}
		if a.NetworkSample() != b.NetworkSample() {
			t.Fatalf("incident %d differs for the same seed", i)
		}
	}
}

func TestFromConfig(t *testing.T) {
	cfg := domain.DefaultConfig().Simulation
	cfg.Seed = 5
	cfg.BotAttackRate = 1

	a := FromConfig(cfg)
	b := New(WithSeed(5), WithBotAttackRate(1), WithStateAttackRate(cfg.StateAttackRate))
	if a.TransactionSample() != b.TransactionSample() {
		t.Error("expected config seed to reproduce the sequence")
	}
}

func TestSample(t *testing.T) {
	g := New(WithSeed(3))

	if s, err := g.Sample(domain.DetectorBot); err != nil {
		t.Errorf("unexpected error: %v", err)
	} else if _, ok := s.(domain.TransactionSample); !ok {
		t.Errorf("expected transaction sample, got %T", s)
	}

	if s, err := g.Sample(domain.DetectorNetwork); err != nil {
		t.Errorf("unexpected error: %v", err)
	} else if _, ok := s.(domain.NetworkSample); !ok {
		t.Errorf("expected network sample, got %T", s)
	}

	if _, err := g.Sample(domain.DetectorPhishing); err == nil {
		t.Error("expected error for phishing")
	}
}

func TestConcurrentDraws(t *testing.T) {
	g := New(WithSeed(11))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.TransactionSample()
				g.NetworkSample()
			}
		}()
	}
	wg.Wait()
}

func TestPackageGenerator(t *testing.T) {
	if err := TransactionSample().Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := NetworkSample().Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
