package domain

// NetworkThreatInput describes an incident submitted to the network threat detector.
type NetworkThreatInput struct {
	Country    string `json:"country"`
	AttackType string `json:"attackType"`
	Industry   string `json:"industry"`

	// FinancialLoss is in millions of currency units.
	FinancialLoss float64 `json:"financialLoss"`
	AffectedUsers int64   `json:"affectedUsers"`

	// ResolutionTime is in hours.
	ResolutionTime float64 `json:"resolutionTime"`
}

// NetworkResult is the network detector's classification of an incident.
type NetworkResult struct {
	IsStateSponsored bool `json:"isStateSponsored"`
	Confidence       int  `json:"confidence"`
}

// NetworkSample is a synthetic incident with its generation-time label.
type NetworkSample struct {
	NetworkThreatInput
	IsStateSponsored bool `json:"isStateSponsored"`
}

// Input returns the scorable part of the sample.
func (s NetworkSample) Input() NetworkThreatInput {
	return s.NetworkThreatInput
}
