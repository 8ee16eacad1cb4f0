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

	"github.com/bitvalo34/ccvi-visa-emisor/internal/domain"
)

// Config holds the benchmark settings
var (
	targetURL   string
	apiKey      string
	concurrency int
	duration    time.Duration
	workload    string
	replayPct   float64
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Fresh decisions
	success200    uint64 // Idempotent replays
	fail409       uint64 // Key conflicts
	fail422       uint64 // Validation rejects
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&apiKey, "api-key", os.Getenv("API_KEY"), "X-Api-Key value")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.Float64Var(&replayPct, "replay", 0.10, "Fraction of requests reusing a recent idempotency key")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	var lastKey string
	var lastBody []byte

	for time.Since(start) < duration {
		key := uuid.NewString()
		payload := map[string]interface{}{
			"tarjeta":    benchPAN(),
			"nombre":     "BENCH CARDHOLDER",
			"cvv":        "123",
			"fecha_venc": "203112",
			"monto":      "1.00",
			"tienda":     "BENCHSTORE",
		}
		body, _ := json.Marshal(payload)

		// Occasionally replay the previous request verbatim to exercise the
		// idempotency path.
		if lastKey != "" && rand.Float64() < replayPct {
			key, body = lastKey, lastBody
		} else {
			lastKey, lastBody = key, body
		}

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/authorizations", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Api-Key", apiKey)
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

// benchPAN picks a seeded card. Hotspot concentrates 90% of traffic on one
// card to measure row-lock contention.
func benchPAN() string {
	slot := rand.Intn(1000)
	if workload == "hotspot" && rand.Float32() < 0.90 {
		slot = 0
	}
	prefix := fmt.Sprintf("411111%05d%04d", slot, 0)[:15]
	return prefix + string(domain.LuhnCheckDigit(prefix))
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"fresh_decisions": s201,
		"replays":         s200,
		"conflicts":       f409,
		"rejects":         f422,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
