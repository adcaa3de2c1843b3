// Benchmark tool for measuring Watchtower's detectors against labeled data.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -url http://localhost:8080
//	go run ./cmd/benchmark -synthetic 5000 -detector network
//
// This tool:
//  1. Reads PaySim transactions (with fraud labels) or draws labeled synthetic samples
//  2. Sends each one to the matching /detect endpoint
//  3. Compares the detector's verdict with the label
//  4. Calculates precision, recall, F1-score, and confusion matrix
//
// Run the server with WATCHTOWER_SIMULATED_LATENCY=false to measure scoring
// rather than the artificial response delay.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/watchtower/internal/domain"
	"github.com/opensource-finance/watchtower/internal/traffic"
)

// Case is one labeled input for a detector endpoint.
type Case struct {
	Label    string
	Detector domain.Detector
	Input    any
	Positive bool
}

// DetectResponse covers the result shapes of the bot and network detectors.
type DetectResponse struct {
	IsBot            bool `json:"isBot"`
	IsStateSponsored bool `json:"isStateSponsored"`
	Confidence       int  `json:"confidence"`
}

// Flagged reports the detector's positive classification.
func (r DetectResponse) Flagged() bool {
	return r.IsBot || r.IsStateSponsored
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Attack flagged
	FalsePositives int64 // Benign flagged
	TrueNegatives  int64 // Benign passed
	FalseNegatives int64 // Attack passed (missed!)

	TotalProcessed int64
	TotalPositive  int64
	TotalNegative  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	synthetic := flag.Int("synthetic", 0, "Number of synthetic samples to draw instead of reading a CSV")
	detector := flag.String("detector", "bot", "Detector for synthetic samples (bot, network)")
	seed := flag.Uint64("seed", 0, "Generator seed for reproducible synthetic runs (0 = random)")
	baseURL := flag.String("url", "http://localhost:8080", "Watchtower base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to read from the CSV (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	if *csvPath == "" && *synthetic <= 0 {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv | -synthetic N [-detector bot|network] [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            WATCHTOWER BENCHMARK - Detector Accuracy           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	if *csvPath != "" {
		fmt.Printf("\nCSV File:    %s\n", *csvPath)
		fmt.Printf("Limit:       %d\n", *limit)
		fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
		fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	} else {
		fmt.Printf("\nSynthetic:   %d %s samples\n", *synthetic, *detector)
	}
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	// Check Watchtower is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Watchtower not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Watchtower is running:")
		fmt.Println("  go run ./cmd/watchtower")
		os.Exit(1)
	}
	fmt.Println("✓ Watchtower is healthy")

	var cases []Case
	var err error
	if *csvPath != "" {
		fmt.Printf("\nReading PaySim data from %s...\n", *csvPath)
		cases, err = readPaySimCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	} else {
		cases, err = syntheticCases(domain.Detector(*detector), *synthetic, *seed)
	}
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	if len(cases) == 0 {
		fmt.Println("ERROR: no cases to run")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d cases\n", len(cases))

	positives := 0
	for _, c := range cases {
		if c.Positive {
			positives++
		}
	}
	fmt.Printf("  - Positive: %d (%.2f%%)\n", positives, 100*float64(positives)/float64(len(cases)))
	fmt.Printf("  - Negative: %d (%.2f%%)\n", len(cases)-positives, 100*float64(len(cases)-positives)/float64(len(cases)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(cases, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// syntheticCases draws n labeled samples, using each sample's generator label
// as ground truth.
func syntheticCases(d domain.Detector, n int, seed uint64) ([]Case, error) {
	opts := []traffic.Option{}
	if seed != 0 {
		opts = append(opts, traffic.WithSeed(seed))
	}
	gen := traffic.New(opts...)

	cases := make([]Case, 0, n)
	for i := 0; i < n; i++ {
		switch d {
		case domain.DetectorBot:
			s := gen.TransactionSample()
			cases = append(cases, Case{
				Label:    fmt.Sprintf("tx-%d", i),
				Detector: d,
				Input:    s.Input(),
				Positive: s.IsBot,
			})
		case domain.DetectorNetwork:
			s := gen.NetworkSample()
			cases = append(cases, Case{
				Label:    s.Country,
				Detector: d,
				Input:    s.Input(),
				Positive: s.IsStateSponsored,
			})
		default:
			return nil, fmt.Errorf("no labeled generator for detector %q", d)
		}
	}
	return cases, nil
}

func readPaySimCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]Case, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}
	for _, col := range []string{"step", "type", "amount", "nameorig", "oldbalanceorg", "newbalanceorig", "isfraud"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var cases []Case
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := record[colIndex["isfraud"]] == "1"

		// Apply filters
		if fraudOnly && !isFraud {
			continue
		}

		// Sample non-fraud transactions
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		step, _ := strconv.Atoi(record[colIndex["step"]])
		amount, _ := strconv.ParseFloat(record[colIndex["amount"]], 64)
		oldBalance, _ := strconv.ParseFloat(record[colIndex["oldbalanceorg"]], 64)
		newBalance, _ := strconv.ParseFloat(record[colIndex["newbalanceorig"]], 64)

		cases = append(cases, Case{
			Label:    record[colIndex["nameorig"]],
			Detector: domain.DetectorBot,
			Input: domain.TransactionInput{
				Step:       step,
				Type:       record[colIndex["type"]],
				Amount:     amount,
				OldBalance: oldBalance,
				NewBalance: newBalance,
			},
			Positive: isFraud,
		})

		if limit > 0 && len(cases) >= limit {
			break
		}
	}

	return cases, nil
}

func runBenchmark(cases []Case, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan Case, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := detect(client, baseURL, c)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.Label, err)
					}
					continue
				}

				// Track actual labels
				if c.Positive {
					atomic.AddInt64(&metrics.TotalPositive, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNegative, 1)
				}

				// Calculate confusion matrix
				predicted := result.Flagged()
				actual := c.Positive

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else {
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					label := c.Label
					if len(label) > 12 {
						label = label[:12]
					}
					fmt.Printf("%s %-12s | %-7s | Actual: %-5v | Flagged: %-5v | Confidence: %3d%%\n",
						status,
						label,
						c.Detector,
						actual,
						predicted,
						result.Confidence,
					)
				}
			}
		}()
	}

	// Send work
	for _, c := range cases {
		work <- c
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func detect(client *http.Client, baseURL string, c Case) (*DetectResponse, error) {
	body, err := json.Marshal(c.Input)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/detect/"+string(c.Detector), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Positive:   %d\n", m.TotalPositive)
	fmt.Printf("   Total Negative:   %d\n", m.TotalNegative)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    FLAG        PASS")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  P  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           N  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision, recall, f1, accuracy := m.Scores()

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were real attacks)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of attacks, how many were flagged)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalPositive > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalPositive) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalPositive) * 100
		fmt.Printf("   Attacks Flagged:   %d / %d (%.2f%%)\n", m.TruePositives, m.TotalPositive, detectionRate)
		fmt.Printf("   Attacks Missed:    %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalPositive, missRate)
	}
	if m.TotalNegative > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNegative) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNegative, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}

	fmt.Println()
}

// Scores derives precision, recall, F1 and accuracy from the confusion matrix.
func (m *Metrics) Scores() (precision, recall, f1, accuracy float64) {
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	return precision, recall, f1, accuracy
}
