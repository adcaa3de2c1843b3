package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/watchtower/internal/domain"
)

func TestReadPaySimCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paysim.csv")
	data := "step,type,amount,nameOrig,oldbalanceOrg,newbalanceOrig,nameDest,oldbalanceDest,newbalanceDest,isFraud,isFlaggedFraud\n" +
		"1,PAYMENT,9839.64,C1231006815,170136.0,160296.36,M1979787155,0.0,0.0,0,0\n" +
		"1,TRANSFER,181.0,C1305486145,181.0,0.0,C553264065,0.0,0.0,1,0\n" +
		"1,CASH_OUT,181.0,C840083671,181.0,0.0,C38997010,21182.0,0.0,1,0\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cases, err := readPaySimCSV(path, 0, false, 1.0)
	if err != nil {
		t.Fatalf("readPaySimCSV failed: %v", err)
	}
	if len(cases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(cases))
	}

	tx := cases[1].Input.(domain.TransactionInput)
	if tx.Type != "TRANSFER" || tx.Amount != 181 || tx.OldBalance != 181 || tx.NewBalance != 0 || !cases[1].Positive {
		t.Errorf("unexpected case: %+v", cases[1])
	}

	fraud, err := readPaySimCSV(path, 1, true, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(fraud) != 1 || !fraud[0].Positive {
		t.Errorf("expected one fraud case, got %+v", fraud)
	}
}

func TestReadPaySimCSVMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("step,type\n1,PAYMENT\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readPaySimCSV(path, 0, false, 1.0); err == nil {
		t.Error("expected error for missing columns")
	}
}

func TestSyntheticCases(t *testing.T) {
	cases, err := syntheticCases(domain.DetectorNetwork, 50, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 50 {
		t.Fatalf("expected 50 cases, got %d", len(cases))
	}
	for _, c := range cases {
		if err := c.Input.(domain.NetworkThreatInput).Validate(); err != nil {
			t.Errorf("invalid synthetic input: %v", err)
		}
	}

	if _, err := syntheticCases(domain.DetectorPhishing, 1, 0); err == nil {
		t.Error("expected error for a detector without labeled samples")
	}
}

func TestRunBenchmark(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in domain.TransactionInput
		json.NewDecoder(r.Body).Decode(&in)
		json.NewEncoder(w).Encode(DetectResponse{IsBot: in.Amount > 1000, Confidence: 80})
	}))
	defer ts.Close()

	cases := []Case{
		{Label: "tp", Detector: domain.DetectorBot, Input: domain.TransactionInput{Step: 1, Type: "TRANSFER", Amount: 5000}, Positive: true},
		{Label: "fn", Detector: domain.DetectorBot, Input: domain.TransactionInput{Step: 1, Type: "TRANSFER", Amount: 10}, Positive: true},
		{Label: "fp", Detector: domain.DetectorBot, Input: domain.TransactionInput{Step: 1, Type: "PAYMENT", Amount: 2000}, Positive: false},
		{Label: "tn", Detector: domain.DetectorBot, Input: domain.TransactionInput{Step: 1, Type: "PAYMENT", Amount: 20}, Positive: false},
	}

	m := runBenchmark(cases, ts.URL, 2, false)
	if m.TruePositives != 1 || m.FalseNegatives != 1 || m.FalsePositives != 1 || m.TrueNegatives != 1 {
		t.Errorf("unexpected confusion matrix: %+v", m)
	}
	if m.TotalErrors != 0 || m.TotalProcessed != 4 {
		t.Errorf("unexpected totals: %+v", m)
	}

	precision, recall, f1, accuracy := m.Scores()
	if precision != 0.5 || recall != 0.5 || f1 != 0.5 || accuracy != 0.5 {
		t.Errorf("unexpected scores: %v %v %v %v", precision, recall, f1, accuracy)
	}
}

func TestRunBenchmarkCountsErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	m := runBenchmark([]Case{{Label: "x", Detector: domain.DetectorBot, Input: domain.TransactionInput{}}}, ts.URL, 1, false)
	if m.TotalErrors != 1 || m.TotalPositive+m.TotalNegative != 0 {
		t.Errorf("expected one error, got %+v", m)
	}
}
