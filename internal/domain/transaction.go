package domain

// TransactionInput is a single account movement submitted to the bot detector.
// Field semantics follow the PaySim dataset the detector was tuned against.
type TransactionInput struct {
	// Step is the simulation hour the transaction happened in (1-744).
	Step int `json:"step"`

	// Type is one of TransactionTypes.
	Type string `json:"type"`

	Amount     float64 `json:"amount"`
	OldBalance float64 `json:"oldBalance"`
	NewBalance float64 `json:"newBalance"`
}

// BotResult is the bot detector's classification of a transaction.
type BotResult struct {
	IsBot      bool `json:"isBot"`
	Confidence int  `json:"confidence"`
}

// TransactionSample is a synthetic transaction with its generation-time label.
// IsBot is ground truth assigned by the generator, never by the scorer.
type TransactionSample struct {
	TransactionInput
	IsBot bool `json:"isBot"`
}

// Input returns the scorable part of the sample.
func (s TransactionSample) Input() TransactionInput {
	return s.TransactionInput
}
