// Package traffic produces labeled synthetic transactions and network
// incidents for the live feed and the accuracy benchmark.
package traffic

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/opensource-finance/watchtower/internal/domain"
)

// Default attack probabilities.
const (
	DefaultBotAttackRate   = 0.15
	DefaultStateAttackRate = 0.12
)

// Generator draws synthetic samples from a single random source.
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand

	botAttackRate   float64
	stateAttackRate float64
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes the generated sequence reproducible.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithSource draws from src instead of a freshly seeded PCG.
func WithSource(src rand.Source) Option {
	return func(g *Generator) {
		g.rng = rand.New(src)
	}
}

// WithBotAttackRate sets the probability of an attack transaction.
func WithBotAttackRate(rate float64) Option {
	return func(g *Generator) {
		g.botAttackRate = rate
	}
}

// WithStateAttackRate sets the probability of a state-sponsored incident.
func WithStateAttackRate(rate float64) Option {
	return func(g *Generator) {
		g.stateAttackRate = rate
	}
}

// New creates a generator. Without WithSeed or WithSource it is seeded from
// the runtime's random source.
func New(opts ...Option) *Generator {
	g := &Generator{
		botAttackRate:   DefaultBotAttackRate,
		stateAttackRate: DefaultStateAttackRate,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return g
}

// FromConfig creates a generator from simulation settings.
func FromConfig(cfg domain.SimulationConfig) *Generator {
	opts := []Option{
		WithBotAttackRate(cfg.BotAttackRate),
		WithStateAttackRate(cfg.StateAttackRate),
	}
	if cfg.Seed != 0 {
		opts = append(opts, WithSeed(cfg.Seed))
	}
	return New(opts...)
}

// TransactionSample draws one transaction. Attacks are large transfers that
// empty the source account; normal traffic is a small movement of any type
// that leaves the balance consistent.
func (g *Generator) TransactionSample() domain.TransactionSample {
	g.mu.Lock()
	defer g.mu.Unlock()

	step := 1 + g.rng.IntN(domain.MaxStep)

	if g.rng.Float64() < g.botAttackRate {
		amount := g.uniform(10000, 500000)
		return domain.TransactionSample{
			TransactionInput: domain.TransactionInput{
				Step:       step,
				Type:       domain.TxTransfer,
				Amount:     amount,
				OldBalance: amount,
				NewBalance: 0,
			},
			IsBot: true,
		}
	}

	txType := pick(g.rng, domain.TransactionTypes)
	amount := g.uniform(10, 5000)
	oldBalance := amount + g.uniform(0, 10000)
	return domain.TransactionSample{
		TransactionInput: domain.TransactionInput{
			Step:       step,
			Type:       txType,
			Amount:     amount,
			OldBalance: oldBalance,
			NewBalance: oldBalance - amount,
		},
		IsBot: false,
	}
}

// NetworkSample draws one incident. Only origin, technique and target are
// modeled; impact figures stay zero.
func (g *Generator) NetworkSample() domain.NetworkSample {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rng.Float64() < g.stateAttackRate {
		return domain.NetworkSample{
			NetworkThreatInput: domain.NetworkThreatInput{
				Country:    pick(g.rng, domain.StateSponsorCountries),
				AttackType: pick(g.rng, domain.AdvancedAttackTypes),
				Industry:   pick(g.rng, domain.CriticalIndustries),
			},
			IsStateSponsored: true,
		}
	}

	return domain.NetworkSample{
		NetworkThreatInput: domain.NetworkThreatInput{
			Country:    pick(g.rng, domain.FeedCountries),
			AttackType: pick(g.rng, domain.FeedAttackTypes),
			Industry:   domain.BaselineIndustry,
		},
		IsStateSponsored: false,
	}
}

// Sample draws one sample for a detector that has a generator.
func (g *Generator) Sample(d domain.Detector) (any, error) {
	switch d {
	case domain.DetectorBot:
		return g.TransactionSample(), nil
	case domain.DetectorNetwork:
		return g.NetworkSample(), nil
	default:
		return nil, fmt.Errorf("no generator for detector %q", d)
	}
}

// uniform returns a whole number in [lo, hi). Callers hold g.mu.
func (g *Generator) uniform(lo, hi float64) float64 {
	return math.Floor(lo + g.rng.Float64()*(hi-lo))
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}

var std = New()

// TransactionSample draws a transaction from the package generator.
func TransactionSample() domain.TransactionSample {
	return std.TransactionSample()
}

// NetworkSample draws an incident from the package generator.
func NetworkSample() domain.NetworkSample {
	return std.NetworkSample()
}
