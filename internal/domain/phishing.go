package domain

// PhishingRequest is the payload of a URL check.
type PhishingRequest struct {
	URL string `json:"url"`
}

// PhishingResult is the phishing detector's classification of a URL.
// Reasons is never empty: it lists every triggered signal in evaluation
// order, followed by LegitimateURLReason when the URL is not flagged.
type PhishingResult struct {
	IsPhishing bool     `json:"isPhishing"`
	Confidence int      `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// LegitimateURLReason closes the reason list of every URL that is not flagged.
const LegitimateURLReason = "URL appears legitimate based on standard patterns"
