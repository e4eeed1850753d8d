package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/auth"
)

// Config holds the benchmark settings
var (
	targetURL    string
	concurrency  int
	duration     time.Duration
	workload     string
	accountsFile string
	jwtSecret    string
	amount       string
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Committed
	fail409       uint64 // Conflicts
	fail422       uint64 // Insufficient funds / validation
	fail403       uint64 // Fraud gate
	failOther     uint64
)

type account struct {
	ID    uuid.UUID `json:"id"`
	Owner string    `json:"owner"`
	token string
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&accountsFile, "accounts", "accounts.json", "Account list written by walletctl seed")
	flag.StringVar(&jwtSecret, "secret", os.Getenv("JWT_SECRET"), "JWT secret used to mint bearer tokens")
	flag.StringVar(&amount, "amount", "1.00", "Amount per transfer")
}

func main() {
	flag.Parse()

	accounts, err := loadAccounts(accountsFile)
	if err != nil {
		log.Fatalf("Unable to load accounts: %v", err)
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Accounts: %d", workload, concurrency, duration, len(accounts))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, accounts)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func loadAccounts(path string) ([]account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var accounts []account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, err
	}
	if len(accounts) < 2 {
		return nil, fmt.Errorf("need at least 2 accounts, found %d", len(accounts))
	}
	if jwtSecret == "" {
		jwtSecret = "dev-secret"
	}
	authn := auth.New(jwtSecret)
	for i := range accounts {
		tok, err := authn.IssueToken(accounts[i].ID, duration+time.Hour)
		if err != nil {
			return nil, err
		}
		accounts[i].token = tok
	}
	return accounts, nil
}

func worker(wg *sync.WaitGroup, start time.Time, accounts []account) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		from, to := pickAccounts(accounts)

		payload := map[string]string{
			"receiver_id": to.ID.String(),
			"amount":      amount,
			"description": "benchmark",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+from.token)
		req.Header.Set("Idempotency-Key", uuid.NewString())

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		case http.StatusForbidden:
			atomic.AddUint64(&fail403, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickAccounts(accounts []account) (account, account) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes between the first two accounts
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return accounts[0], accounts[1]
			}
			return accounts[1], accounts[0]
		}
	}

	// Uniform Random
	a := rand.Intn(len(accounts))
	b := rand.Intn(len(accounts))
	for a == b {
		b = rand.Intn(len(accounts))
	}
	return accounts[a], accounts[b]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	f403 := atomic.LoadUint64(&fail403)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	abortRate := 0.0
	if total > 0 {
		abortRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"success_committed": s201,
		"aborts_conflict":   f409,
		"abort_rate_pct":    abortRate,
		"rejected_funds":    f422,
		"rejected_fraud":    f403,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
