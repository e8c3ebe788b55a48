// Benchmark tool for replaying labelled card transactions against FraudWatch.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/creditcard.csv -url http://localhost:8080
//
// The CSV carries Time, V1..V28, Amount and a Class label (1 = fraud). An
// optional model_score column supplies the upstream model output; without it
// every row is sent with -model-score. Each row is scored through POST /score
// and the decision (REVIEW/BLOCK = flagged) is compared with the label.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
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

	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// LabelledTransaction is one CSV row.
type LabelledTransaction struct {
	Row        int
	Features   map[string]float64
	ModelScore float64
	IsFraud    bool
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud flagged
	FalsePositives int64 // Non-fraud flagged
	TrueNegatives  int64 // Non-fraud allowed
	FalseNegatives int64 // Fraud allowed (missed fraud!)

	Blocked  int64
	Reviewed int64

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to the labelled transaction CSV")
	baseURL := flag.String("url", "http://localhost:8080", "FraudWatch base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	users := flag.Int("users", 500, "Number of synthetic card holders rows are spread over")
	modelScore := flag.Float64("model-score", 0.5, "Model score used when the CSV has no model_score column")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/creditcard.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *users <= 0 {
		*users = 1
	}

	fmt.Println("FraudWatch benchmark")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Target URL:  %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Users:       %d\n", *users)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: FraudWatch not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("✓ FraudWatch is healthy")

	transactions, err := readCSV(*csvPath, *limit, *modelScore)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(transactions) == 0 {
		fmt.Println("ERROR: no transactions in CSV")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d\n", len(transactions)-fraudCount)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *workers, *users, *verbose)
	duration := time.Since(startTime)

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

func readCSV(path string, limit int, defaultModelScore float64) ([]LabelledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.Trim(col, `" `)] = i
	}
	classCol, ok := colIndex["Class"]
	if !ok {
		return nil, errors.New("CSV has no Class column")
	}
	scoreCol, hasScore := colIndex["model_score"]

	var transactions []LabelledTransaction
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		row++

		tx := LabelledTransaction{
			Row:        row,
			Features:   make(map[string]float64, domain.FeatureCount+2),
			ModelScore: defaultModelScore,
			IsFraud:    strings.Trim(record[classCol], `" `) == "1",
		}
		for name, idx := range colIndex {
			if name != "Time" && name != "Amount" && !strings.HasPrefix(name, "V") {
				continue
			}
			if v, err := strconv.ParseFloat(record[idx], 64); err == nil {
				tx.Features[name] = v
			}
		}
		if hasScore {
			if v, err := strconv.ParseFloat(record[scoreCol], 64); err == nil {
				tx.ModelScore = v
			}
		}

		transactions = append(transactions, tx)
		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []LabelledTransaction, baseURL string, numWorkers, users int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabelledTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				userID := fmt.Sprintf("card-%d", tx.Row%users)

				start := time.Now()
				result, err := scoreTransaction(client, baseURL, userID, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: row %d -> %v\n", tx.Row, err)
					}
					continue
				}

				switch result.Decision {
				case domain.LabelBlock:
					atomic.AddInt64(&metrics.Blocked, 1)
				case domain.LabelReview:
					atomic.AddInt64(&metrics.Reviewed, 1)
				}

				predicted := result.Decision.Flagged()
				actual := tx.IsFraud
				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s row %-7d | Amount: $%10.2f | Fraud: %-5v | %-6s (%.3f) | rules %.3f\n",
						status,
						tx.Row,
						tx.Features["Amount"],
						tx.IsFraud,
						result.Decision,
						result.RiskScore,
						result.RuleScore,
					)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func scoreTransaction(client *http.Client, baseURL, userID string, tx LabelledTransaction) (*domain.ScoreResponse, error) {
	payload := make(map[string]any, len(tx.Features)+2)
	for k, v := range tx.Features {
		payload[k] = v
	}
	payload["user_id"] = userID
	payload["model_score"] = tx.ModelScore

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
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
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Blocked:          %d\n", m.Blocked)
	fmt.Printf("   Reviewed:         %d\n", m.Reviewed)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  FLAGGED      ALLOW")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}
	fmt.Println()
}
