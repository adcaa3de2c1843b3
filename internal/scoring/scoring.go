// Package scoring is the heuristic scoring engine: three rule-based
// detectors that map validated input records to a classification and a
// confidence.
//
// Scoring is deterministic and side-effect free. An Engine may be shared by
// any number of goroutines.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opensource-finance/watchtower/internal/domain"
	"github.com/opensource-finance/watchtower/internal/rules"
	"github.com/opensource-finance/watchtower/internal/verdict"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Classification thresholds. The network detector is deliberately stricter.
const (
	PhishingThreshold = 50
	BotThreshold      = 50
	NetworkThreshold  = 55
)

// ErrInputMismatch is returned by Evaluate when the input type does not
// belong to the requested detector.
var ErrInputMismatch = errors.New("input does not match detector")

var tracer = otel.Tracer("watchtower-scoring")

type detector struct {
	rules     *rules.Engine
	processor *verdict.Processor
}

func (d detector) evaluate(vars map[string]any) (domain.Verdict, error) {
	results, err := d.rules.Evaluate(vars)
	if err != nil {
		return domain.Verdict{}, err
	}
	return d.processor.Process(results), nil
}

// Engine owns the compiled rule sets of all detectors.
type Engine struct {
	phishing detector
	bot      detector
	network  detector
}

// New compiles the built-in rule sets.
func New() (*Engine, error) {
	phishingRules, err := rules.NewPhishingEngine()
	if err != nil {
		return nil, fmt.Errorf("phishing rules: %w", err)
	}
	botRules, err := rules.NewBotEngine()
	if err != nil {
		return nil, fmt.Errorf("bot rules: %w", err)
	}
	networkRules, err := rules.NewNetworkEngine()
	if err != nil {
		return nil, fmt.Errorf("network rules: %w", err)
	}

	phishingProc := verdict.NewProcessor(domain.DetectorPhishing, PhishingThreshold)
	phishingProc.NegativeReason = domain.LegitimateURLReason

	return &Engine{
		phishing: detector{rules: phishingRules, processor: phishingProc},
		bot:      detector{rules: botRules, processor: verdict.NewProcessor(domain.DetectorBot, BotThreshold)},
		network:  detector{rules: networkRules, processor: verdict.NewProcessor(domain.DetectorNetwork, NetworkThreshold)},
	}, nil
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// Default returns the process-wide engine, compiling it on first use.
// The built-in rule sets are static, so a compile failure is a bug and panics.
func Default() *Engine {
	defaultOnce.Do(func() {
		engine, err := New()
		if err != nil {
			panic(fmt.Sprintf("scoring: built-in rules do not compile: %v", err))
		}
		defaultEngine = engine
	})
	return defaultEngine
}

// PhishingVerdict validates and scores a URL.
func (e *Engine) PhishingVerdict(url string) (domain.Verdict, error) {
	if err := domain.ValidateURL(url); err != nil {
		return domain.Verdict{}, err
	}
	return e.phishing.evaluate(rules.PhishingActivation(url))
}

// BotVerdict validates and scores a transaction.
func (e *Engine) BotVerdict(in domain.TransactionInput) (domain.Verdict, error) {
	if err := in.Validate(); err != nil {
		return domain.Verdict{}, err
	}
	return e.bot.evaluate(rules.BotActivation(in))
}

// NetworkVerdict validates and scores an incident.
func (e *Engine) NetworkVerdict(in domain.NetworkThreatInput) (domain.Verdict, error) {
	if err := in.Validate(); err != nil {
		return domain.Verdict{}, err
	}
	return e.network.evaluate(rules.NetworkActivation(in))
}

// ScorePhishingURL classifies a URL as phishing or legitimate.
func (e *Engine) ScorePhishingURL(url string) (domain.PhishingResult, error) {
	v, err := e.PhishingVerdict(url)
	if err != nil {
		return domain.PhishingResult{}, err
	}
	return v.PhishingResult(), nil
}

// ScoreTransaction classifies a transaction as bot-driven or not.
func (e *Engine) ScoreTransaction(in domain.TransactionInput) (domain.BotResult, error) {
	v, err := e.BotVerdict(in)
	if err != nil {
		return domain.BotResult{}, err
	}
	return v.BotResult(), nil
}

// ScoreNetworkThreat classifies an incident as state-sponsored or not.
func (e *Engine) ScoreNetworkThreat(in domain.NetworkThreatInput) (domain.NetworkResult, error) {
	v, err := e.NetworkVerdict(in)
	if err != nil {
		return domain.NetworkResult{}, err
	}
	return v.NetworkResult(), nil
}

// Evaluate scores input with the named detector inside a trace span.
// input must be a string for phishing, a TransactionInput for bot and a
// NetworkThreatInput for network.
func (e *Engine) Evaluate(ctx context.Context, d domain.Detector, input any) (domain.Verdict, error) {
	_, span := tracer.Start(ctx, "scoring.Evaluate",
		trace.WithAttributes(attribute.String("detector", string(d))),
	)
	defer span.End()

	var (
		v   domain.Verdict
		err error
	)
	switch in := input.(type) {
	case string:
		if d != domain.DetectorPhishing {
			err = fmt.Errorf("%w: %s detector given a URL", ErrInputMismatch, d)
			break
		}
		v, err = e.PhishingVerdict(in)
	case domain.TransactionInput:
		if d != domain.DetectorBot {
			err = fmt.Errorf("%w: %s detector given a transaction", ErrInputMismatch, d)
			break
		}
		v, err = e.BotVerdict(in)
	case domain.NetworkThreatInput:
		if d != domain.DetectorNetwork {
			err = fmt.Errorf("%w: %s detector given an incident", ErrInputMismatch, d)
			break
		}
		v, err = e.NetworkVerdict(in)
	default:
		err = fmt.Errorf("%w: unsupported input %T", ErrInputMismatch, input)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Verdict{}, err
	}

	span.SetAttributes(
		attribute.Int("score", v.Score),
		attribute.Bool("positive", v.Positive),
	)
	return v, nil
}

// RuleSet describes a detector's loaded rules and its threshold.
type RuleSet struct {
	Detector  domain.Detector      `json:"detector"`
	Threshold int                  `json:"threshold"`
	Rules     []*domain.RuleConfig `json:"rules"`
}

// Rules returns the rule set of a detector in evaluation order.
func (e *Engine) Rules(d domain.Detector) (RuleSet, bool) {
	var det detector
	switch d {
	case domain.DetectorPhishing:
		det = e.phishing
	case domain.DetectorBot:
		det = e.bot
	case domain.DetectorNetwork:
		det = e.network
	default:
		return RuleSet{}, false
	}
	return RuleSet{
		Detector:  d,
		Threshold: det.processor.Threshold,
		Rules:     det.rules.GetLoadedRules(),
	}, true
}

// ScorePhishingURL scores a URL with the default engine.
func ScorePhishingURL(url string) (domain.PhishingResult, error) {
	return Default().ScorePhishingURL(url)
}

// ScoreTransaction scores a transaction with the default engine.
func ScoreTransaction(in domain.TransactionInput) (domain.BotResult, error) {
	return Default().ScoreTransaction(in)
}

// ScoreNetworkThreat scores an incident with the default engine.
func ScoreNetworkThreat(in domain.NetworkThreatInput) (domain.NetworkResult, error) {
	return Default().ScoreNetworkThreat(in)
}
