package domain

// RuleConfig defines one additive scoring rule of a detector.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// CEL expression to evaluate. A bool result contributes Weight when
	// true; an int result contributes Weight times the value.
	Expression string `json:"expression"`

	// Points contributed per unit of the expression result.
	Weight int `json:"weight"`

	// Reason is reported when the rule contributes points.
	Reason string `json:"reason"`

	// ReasonExpression, when set, is a string-valued CEL expression that
	// replaces Reason for reasons that depend on the input.
	ReasonExpression string `json:"reasonExpression,omitempty"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleResult is the output of a rule evaluation.
type RuleResult struct {
	RuleID    string `json:"ruleId"`
	Triggered bool   `json:"triggered"`
	Points    int    `json:"points"`
	Reason    string `json:"reason,omitempty"`
}
