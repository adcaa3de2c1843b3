package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// ValidationError reports an input field rejected before scoring.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the transaction against the detector's input domain.
func (in TransactionInput) Validate() error {
	if in.Step < 1 || in.Step > MaxStep {
		return invalid("step", "must be between 1 and %d, got %d", MaxStep, in.Step)
	}
	if !slices.Contains(TransactionTypes, in.Type) {
		return invalid("type", "unknown transaction type %q", in.Type)
	}
	if err := nonNegative("amount", in.Amount); err != nil {
		return err
	}
	if err := nonNegative("oldBalance", in.OldBalance); err != nil {
		return err
	}
	return nonNegative("newBalance", in.NewBalance)
}

// Validate checks the incident against the detector's input domain.
func (in NetworkThreatInput) Validate() error {
	if !slices.Contains(Countries, in.Country) {
		return invalid("country", "unknown country %q", in.Country)
	}
	if !slices.Contains(AttackTypes, in.AttackType) {
		return invalid("attackType", "unknown attack type %q", in.AttackType)
	}
	if !slices.Contains(Industries, in.Industry) {
		return invalid("industry", "unknown industry %q", in.Industry)
	}
	if err := nonNegative("financialLoss", in.FinancialLoss); err != nil {
		return err
	}
	if in.AffectedUsers < 0 {
		return invalid("affectedUsers", "must not be negative, got %d", in.AffectedUsers)
	}
	return nonNegative("resolutionTime", in.ResolutionTime)
}

// ValidateURL rejects empty and whitespace-only URLs.
func ValidateURL(url string) error {
	if strings.TrimSpace(url) == "" {
		return invalid("url", "must not be blank")
	}
	return nil
}

func nonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(field, "must be a finite number")
	}
	if v < 0 {
		return invalid(field, "must not be negative, got %g", v)
	}
	return nil
}
