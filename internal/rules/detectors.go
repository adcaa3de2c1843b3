package rules

import (
	"strings"
	"unicode/utf8"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"github.com/opensource-finance/watchtower/internal/domain"
)

// BotVariables declares the CEL variables visible to bot detector rules.
func BotVariables() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Variable("step", cel.IntType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		// Balance variables for account drain detection (PaySim pattern)
		cel.Variable("old_balance", cel.DoubleType),
		cel.Variable("new_balance", cel.DoubleType),
		cel.Variable("drain_types", cel.ListType(cel.StringType)),
	}
}

// BotActivation binds a transaction to the bot detector variables.
func BotActivation(in domain.TransactionInput) map[string]any {
	return map[string]any{
		"step":        int64(in.Step),
		"tx_type":     in.Type,
		"amount":      in.Amount,
		"old_balance": in.OldBalance,
		"new_balance": in.NewBalance,
		"drain_types": domain.DrainTransactionTypes,
	}
}

// BotRules returns the bot detector's rules in evaluation order.
// Large transfers earn both amount rules.
func BotRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:         "bot-amount-high",
			Name:       "High Amount",
			Expression: "amount > 10000.0",
			Weight:     30,
			Reason:     "Amount above 10,000",
			Enabled:    true,
		},
		{
			ID:         "bot-amount-very-high",
			Name:       "Very High Amount",
			Expression: "amount > 50000.0",
			Weight:     20,
			Reason:     "Amount above 50,000",
			Enabled:    true,
		},
		{
			ID:         "bot-drain-type",
			Name:       "Outbound Transaction Type",
			Expression: "tx_type in drain_types",
			Weight:     20,
			Reason:     "Transfer or cash-out transaction",
			Enabled:    true,
		},
		{
			ID:          "bot-account-drained",
			Name:        "Account Drained",
			Description: "A funded account left with a zero balance",
			Expression:  "old_balance > 0.0 && new_balance == 0.0",
			Weight:      25,
			Reason:      "Account fully drained",
			Enabled:     true,
		},
		{
			ID:         "bot-overdraw",
			Name:       "Overdraw",
			Expression: "old_balance < amount",
			Weight:     15,
			Reason:     "Amount exceeds available balance",
			Enabled:    true,
		},
		{
			ID:          "bot-exact-movement",
			Name:        "Exact Balance Movement",
			Description: "Balance moved by exactly the transaction amount on a large transaction",
			Expression:  "(old_balance - new_balance == amount || new_balance - old_balance == amount) && amount > 5000.0",
			Weight:      10,
			Reason:      "Balance moved by exactly the transaction amount",
			Enabled:     true,
		},
	}
}

// NetworkVariables declares the CEL variables visible to network detector rules.
func NetworkVariables() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Variable("country", cel.StringType),
		cel.Variable("attack_type", cel.StringType),
		cel.Variable("industry", cel.StringType),
		cel.Variable("financial_loss", cel.DoubleType),
		cel.Variable("affected_users", cel.IntType),
		cel.Variable("resolution_time", cel.DoubleType),
		cel.Variable("state_sponsor_countries", cel.ListType(cel.StringType)),
		cel.Variable("advanced_attack_types", cel.ListType(cel.StringType)),
		cel.Variable("critical_industries", cel.ListType(cel.StringType)),
	}
}

// NetworkActivation binds an incident to the network detector variables.
func NetworkActivation(in domain.NetworkThreatInput) map[string]any {
	return map[string]any{
		"country":                 in.Country,
		"attack_type":             in.AttackType,
		"industry":                in.Industry,
		"financial_loss":          in.FinancialLoss,
		"affected_users":          in.AffectedUsers,
		"resolution_time":         in.ResolutionTime,
		"state_sponsor_countries": domain.StateSponsorCountries,
		"advanced_attack_types":   domain.AdvancedAttackTypes,
		"critical_industries":     domain.CriticalIndustries,
	}
}

// NetworkRules returns the network detector's rules in evaluation order.
func NetworkRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:         "net-state-origin",
			Name:       "State Sponsor Origin",
			Expression: "country in state_sponsor_countries",
			Weight:     30,
			Reason:     "Origin associated with state-sponsored activity",
			Enabled:    true,
		},
		{
			ID:         "net-advanced-attack",
			Name:       "Advanced Technique",
			Expression: "attack_type in advanced_attack_types",
			Weight:     25,
			Reason:     "Advanced attack technique",
			Enabled:    true,
		},
		{
			ID:         "net-critical-target",
			Name:       "Critical Industry",
			Expression: "industry in critical_industries",
			Weight:     15,
			Reason:     "Critical industry targeted",
			Enabled:    true,
		},
		{
			ID:         "net-financial-loss",
			Name:       "Financial Loss",
			Expression: "financial_loss > 50.0",
			Weight:     20,
			Reason:     "Financial loss above 50M",
			Enabled:    true,
		},
		{
			ID:         "net-affected-users",
			Name:       "Affected Users",
			Expression: "affected_users > 10000",
			Weight:     15,
			Reason:     "More than 10,000 users affected",
			Enabled:    true,
		},
		{
			ID:         "net-resolution-time",
			Name:       "Resolution Time",
			Expression: "resolution_time > 72.0",
			Weight:     10,
			Reason:     "Resolution took longer than 72 hours",
			Enabled:    true,
		},
	}
}

// URLFeatures are the structural counts phishing rules inspect.
type URLFeatures struct {
	Length int
	Dots   int
	Dashes int
	Digits int
	Lower  string
}

// ExtractURLFeatures counts the structural features of a URL as written.
// Digits are ASCII 0-9 only.
func ExtractURLFeatures(url string) URLFeatures {
	f := URLFeatures{
		Length: utf8.RuneCountInString(url),
		Lower:  strings.ToLower(url),
	}
	for i := 0; i < len(url); i++ {
		switch c := url[i]; {
		case c == '.':
			f.Dots++
		case c == '-':
			f.Dashes++
		case c >= '0' && c <= '9':
			f.Digits++
		}
	}
	return f
}

// PhishingVariables declares the CEL variables visible to phishing detector rules.
func PhishingVariables() []cel.EnvOption {
	return []cel.EnvOption{
		ext.Strings(),
		cel.Variable("url", cel.StringType),
		cel.Variable("url_lower", cel.StringType),
		cel.Variable("url_length", cel.IntType),
		cel.Variable("dot_count", cel.IntType),
		cel.Variable("dash_count", cel.IntType),
		cel.Variable("digit_count", cel.IntType),
		cel.Variable("suspicious_keywords", cel.ListType(cel.StringType)),
	}
}

// PhishingActivation binds a URL and its features to the phishing detector variables.
func PhishingActivation(url string) map[string]any {
	f := ExtractURLFeatures(url)
	return map[string]any{
		"url":                 url,
		"url_lower":           f.Lower,
		"url_length":          int64(f.Length),
		"dot_count":           int64(f.Dots),
		"dash_count":          int64(f.Dashes),
		"digit_count":         int64(f.Digits),
		"suspicious_keywords": domain.SuspiciousKeywords,
	}
}

const keywordMatches = "suspicious_keywords.filter(k, url_lower.contains(k))"

// PhishingRules returns the phishing detector's rules in evaluation order.
// Structural checks are case-sensitive; keyword matching is not.
func PhishingRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:         "url-length",
			Name:       "Long URL",
			Expression: "url_length > 75",
			Weight:     25,
			Reason:     "Unusually long URL (common in phishing)",
			Enabled:    true,
		},
		{
			ID:         "url-subdomains",
			Name:       "Excessive Subdomains",
			Expression: "dot_count > 4",
			Weight:     20,
			Reason:     "Excessive subdomains detected",
			Enabled:    true,
		},
		{
			ID:         "url-dashes",
			Name:       "Dash Obfuscation",
			Expression: "dash_count > 3",
			Weight:     15,
			Reason:     "Multiple dashes in URL (obfuscation technique)",
			Enabled:    true,
		},
		{
			ID:         "url-no-https",
			Name:       "Insecure Scheme",
			Expression: "!url.startsWith('https')",
			Weight:     20,
			Reason:     "Not using secure HTTPS protocol",
			Enabled:    true,
		},
		{
			ID:               "url-keywords",
			Name:             "Suspicious Keywords",
			Description:      "Each distinct keyword found adds its weight once",
			Expression:       "size(" + keywordMatches + ")",
			Weight:           10,
			ReasonExpression: "'Contains suspicious keywords: ' + " + keywordMatches + ".join(', ')",
			Enabled:          true,
		},
		{
			ID:         "url-digits",
			Name:       "Digit Heavy",
			Expression: "digit_count > 8",
			Weight:     15,
			Reason:     "Unusual number of digits in URL",
			Enabled:    true,
		},
	}
}

// NewBotEngine returns an engine loaded with the bot detector rules.
func NewBotEngine() (*Engine, error) {
	return newLoadedEngine(BotVariables(), BotRules())
}

// NewNetworkEngine returns an engine loaded with the network detector rules.
func NewNetworkEngine() (*Engine, error) {
	return newLoadedEngine(NetworkVariables(), NetworkRules())
}

// NewPhishingEngine returns an engine loaded with the phishing detector rules.
func NewPhishingEngine() (*Engine, error) {
	return newLoadedEngine(PhishingVariables(), PhishingRules())
}

func newLoadedEngine(vars []cel.EnvOption, rules []*domain.RuleConfig) (*Engine, error) {
	engine, err := NewEngine(vars...)
	if err != nil {
		return nil, err
	}
	if err := engine.LoadRules(rules); err != nil {
		return nil, err
	}
	return engine, nil
}
