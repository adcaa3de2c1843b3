package domain

// Detector names one of the scoring detectors.
type Detector string

const (
	DetectorPhishing Detector = "phishing"
	DetectorBot      Detector = "bot"
	DetectorNetwork  Detector = "network"
)

// Detectors lists every detector in display order.
var Detectors = []Detector{DetectorPhishing, DetectorBot, DetectorNetwork}

// Valid reports whether d names a known detector.
func (d Detector) Valid() bool {
	switch d {
	case DetectorPhishing, DetectorBot, DetectorNetwork:
		return true
	}
	return false
}

// Verdict is the detector-neutral outcome of aggregating rule results.
//
// Score is the clamped suspicion in [0,100]. Confidence equals Score when
// Positive and 100-Score otherwise.
type Verdict struct {
	Detector   Detector     `json:"detector"`
	Score      int          `json:"score"`
	Threshold  int          `json:"threshold"`
	Positive   bool         `json:"positive"`
	Confidence int          `json:"confidence"`
	Reasons    []string     `json:"reasons"`
	Rules      []RuleResult `json:"rules,omitempty"`
}

// BotResult converts the verdict to the bot detector's result shape.
func (v Verdict) BotResult() BotResult {
	return BotResult{IsBot: v.Positive, Confidence: v.Confidence}
}

// NetworkResult converts the verdict to the network detector's result shape.
func (v Verdict) NetworkResult() NetworkResult {
	return NetworkResult{IsStateSponsored: v.Positive, Confidence: v.Confidence}
}

// PhishingResult converts the verdict to the phishing detector's result shape.
func (v Verdict) PhishingResult() PhishingResult {
	reasons := make([]string, len(v.Reasons))
	copy(reasons, v.Reasons)
	return PhishingResult{IsPhishing: v.Positive, Confidence: v.Confidence, Reasons: reasons}
}
