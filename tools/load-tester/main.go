package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// event builds one synthetic record the way a host agent would report it.
// errorRate and connRate are the fractions of error and connection records;
// the rest are system metric samples.
func event(host string, rng *rand.Rand, errorRate, connRate float64) map[string]any {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	switch p := rng.Float64(); {
	case p < errorRate:
		return map[string]any{
			"host":      host,
			"timestamp": now,
			"log_type":  "error",
			"severity":  "error",
			"message":   "service returned 500 on /checkout",
		}
	case p < errorRate+connRate:
		return map[string]any{
			"host":      host,
			"timestamp": now,
			"log_type":  "connection",
			"severity":  "info",
			"message":   "inbound connection accepted",
			"source_ip": "10.0.0." + strconv.Itoa(rng.IntN(254)+1),
			"port":      22,
		}
	default:
		return map[string]any{
			"host":           host,
			"timestamp":      now,
			"cpu_percent":    rng.Float64() * 100,
			"memory_percent": 40 + rng.Float64()*60,
			"disk_percent":   50 + rng.Float64()*30,
			"os":             "linux",
		}
	}
}

func main() {
	targetURL := flag.String("url", "http://localhost:5000/logs", "Target URL for ingestion")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 200, "Requests per second limit")
	hosts := flag.Int("hosts", 5, "Number of simulated hosts")
	errorRate := flag.Float64("error-rate", 0.1, "Fraction of error records")
	connRate := flag.Float64("conn-rate", 0.2, "Fraction of connection records")
	analyze := flag.Bool("analyze", true, "Trigger POST /analyze when finished")
	flag.Parse()

	hostIDs := make([]string, *hosts)
	for i := range hostIDs {
		hostIDs[i] = "agent-" + uuid.NewString()[:8]
	}

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d, Hosts: %d", *concurrency, *duration, *rps, *hosts)

	var wg sync.WaitGroup
	var successCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: 5 * time.Second}
			rng := rand.New(rand.NewPCG(uint64(workerID), uint64(time.Now().UnixNano())))

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				payload, err := json.Marshal(event(hostIDs[rng.IntN(len(hostIDs))], rng, *errorRate, *connRate))
				if err != nil {
					continue
				}
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewReader(payload))
				if err != nil {
					continue
				}
				req.Header.Set("Content-Type", "application/json")

				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						errorCount.Add(1)
					}
					continue
				}
				if resp.StatusCode == http.StatusOK {
					successCount.Add(1)
				} else {
					errorCount.Add(1)
				}
				resp.Body.Close()
			}
		}(i)
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful (200 OK): %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)

	if *analyze {
		triggerAnalysis(*targetURL)
	}
}

func triggerAnalysis(logsURL string) {
	analyzeURL := strings.TrimSuffix(logsURL, "/logs") + "/analyze"
	resp, err := http.Post(analyzeURL, "application/json", nil)
	if err != nil {
		log.Printf("analysis trigger failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var body struct {
		AlertsGenerated int `json:"alerts_generated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("could not decode analysis response: %v", err)
		return
	}
	log.Printf("Alerts generated: %d", body.AlertsGenerated)
}
