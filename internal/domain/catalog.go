package domain

// Fixed enumeration tables. Validation, the rule engine and the presentation
// layer all read these; nothing else should carry its own copy of the values.

// MaxStep is the last simulation hour a transaction can carry (31 days).
const MaxStep = 744

// Transaction types.
const (
	TxPayment  = "PAYMENT"
	TxTransfer = "TRANSFER"
	TxCashOut  = "CASH_OUT"
	TxDebit    = "DEBIT"
	TxCashIn   = "CASH_IN"
)

// BaselineIndustry is the target of every non-state-sponsored synthetic incident.
const BaselineIndustry = "Technology"

var (
	// TransactionTypes lists every transaction type the bot detector accepts.
	TransactionTypes = []string{TxPayment, TxTransfer, TxCashOut, TxDebit, TxCashIn}

	// DrainTransactionTypes move money out of an account and raise bot suspicion.
	DrainTransactionTypes = []string{TxTransfer, TxCashOut}

	// Countries lists every incident origin the network detector accepts.
	Countries = []string{
		"United States", "China", "Russia", "North Korea", "Iran",
		"United Kingdom", "Germany", "France", "Israel", "India",
	}

	// StateSponsorCountries are origins associated with state-sponsored activity.
	StateSponsorCountries = []string{"Russia", "China", "North Korea", "Iran"}

	// FeedCountries are the origins drawn for ordinary synthetic incidents.
	FeedCountries = []string{
		"United States", "China", "Russia", "North Korea", "Iran",
		"United Kingdom", "Germany",
	}

	// AttackTypes lists every attack technique the network detector accepts.
	AttackTypes = []string{
		"Ransomware", "APT", "DDoS", "Data Breach", "Phishing Campaign",
		"Zero-Day Exploit", "Supply Chain Attack",
	}

	// AdvancedAttackTypes are techniques that usually need state-level resources.
	AdvancedAttackTypes = []string{"APT", "Zero-Day Exploit", "Supply Chain Attack"}

	// FeedAttackTypes are the techniques drawn for ordinary synthetic incidents.
	FeedAttackTypes = []string{
		"Ransomware", "APT", "DDoS", "Data Breach", "Phishing Campaign",
		"Zero-Day Exploit",
	}

	// Industries lists every target industry the network detector accepts.
	Industries = []string{
		"Healthcare", "Finance", "Government", "Energy", "Technology",
		"Education", "Retail", "Manufacturing",
	}

	// CriticalIndustries are targets of strategic interest.
	CriticalIndustries = []string{"Government", "Energy", "Finance"}

	// SuspiciousKeywords are matched case-insensitively against URLs, in this order.
	SuspiciousKeywords = []string{
		"login", "secure", "account", "verify", "signin",
		"banking", "confirm", "update", "suspended",
	}
)

// CatalogView is the set of selectable options offered to form clients.
type CatalogView struct {
	TransactionTypes   []string `json:"transactionTypes"`
	Countries          []string `json:"countries"`
	AttackTypes        []string `json:"attackTypes"`
	Industries         []string `json:"industries"`
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
	MaxStep            int      `json:"maxStep"`
}

// Catalog returns copies of the option tables so callers cannot mutate them.
func Catalog() CatalogView {
	return CatalogView{
		TransactionTypes:   clone(TransactionTypes),
		Countries:          clone(Countries),
		AttackTypes:        clone(AttackTypes),
		Industries:         clone(Industries),
		SuspiciousKeywords: clone(SuspiciousKeywords),
		MaxStep:            MaxStep,
	}
}

func clone(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}
