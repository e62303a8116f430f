// main.go - Load testing tool for the stats query API
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	v1 "statsq/api/v1"
	"statsq/internal/analytics"
	"statsq/internal/filters"
	"statsq/internal/timeframe"
)

// BenchConfig holds the configuration for the load test
type BenchConfig struct {
	BaseURL     string
	SiteID      uint
	Caller      string
	Concurrency int
	Duration    time.Duration
	Rate        int
	Timeout     time.Duration
}

// BenchStats holds statistics about the load test
type BenchStats struct {
	TotalRequests int64
	Failed        int64
	StatusCodes   map[int]int64
	Latencies     []time.Duration
	StartTime     time.Time
	EndTime       time.Time
}

// Result captures the result of a single request
type Result struct {
	Duration   time.Duration
	StatusCode int
	Error      error
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the API")
	siteID := flag.Uint("site", 1, "Site id to query")
	caller := flag.String("caller", "local-dev", "Caller identity sent in "+v1.CallerHeader)
	concurrency := flag.Int("c", 4, "Number of concurrent clients")
	duration := flag.Duration("d", 30*time.Second, "Duration of the test")
	rate := flag.Int("rate", 0, "Target queries per second (0 = unlimited)")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")
	file := flag.String("f", "", "Request file (.yaml or .json); uses a built-in mix when empty")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := &BenchConfig{
		BaseURL:     *baseURL,
		SiteID:      *siteID,
		Caller:      *caller,
		Concurrency: *concurrency,
		Duration:    *duration,
		Rate:        *rate,
		Timeout:     *timeout,
	}

	payloads, err := buildPayloads(*file)
	if err != nil {
		logger.Error("Failed to build query payloads", slog.Any("error", err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		fmt.Printf("Received signal %v, shutting down...\n", sig)
		cancel()
	}()

	fmt.Printf("Running %d clients for %v against %s/api/v1/sites/%d/stats\n",
		cfg.Concurrency, cfg.Duration, cfg.BaseURL, cfg.SiteID)

	stats := &BenchStats{StatusCodes: make(map[int]int64), StartTime: time.Now()}

	testCtx, testCancel := context.WithTimeout(ctx, cfg.Duration)
	defer testCancel()

	for result := range runBench(testCtx, cfg, payloads, logger) {
		stats.TotalRequests++
		if result.Error != nil {
			stats.Failed++
			continue
		}
		stats.StatusCodes[result.StatusCode]++
		stats.Latencies = append(stats.Latencies, result.Duration)
		if result.StatusCode >= 400 {
			stats.Failed++
		}
	}
	stats.EndTime = time.Now()

	printResults(stats)
}

// buildPayloads returns the request bodies the clients cycle through.
func buildPayloads(file string) ([][]byte, error) {
	var reqs []analytics.QueryRequest
	if file != "" {
		req, err := analytics.LoadRequestFile(file)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	} else {
		reqs = defaultMix()
	}

	payloads := make([][]byte, 0, len(reqs))
	for _, r := range reqs {
		body, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payloads = append(payloads, body)
	}
	return payloads, nil
}

// defaultMix covers the planner paths: plain counts, session metrics, funnels and breakdowns.
func defaultMix() []analytics.QueryRequest {
	intervals := 30
	return []analytics.QueryRequest{
		{
			TimeData: timeRange("last_7_days", nil),
			Aggregations: []analytics.Aggregation{
				{Type: analytics.AggregationCount, Property: "path", Metrics: []string{"visitors", "completions"}, Limit: 10},
			},
		},
		{
			TimeData: timeRange("last_30_days", &intervals),
			Metrics:  []string{"bounceRate", "sessionDuration", "viewsPerSession", "averageTimeSpent"},
		},
		{
			TimeData: timeRange("last_30_days", nil),
			Aggregations: []analytics.Aggregation{
				{Type: analytics.AggregationCount, Property: "country", Metrics: []string{"visitors", "bounceRate", "entries", "exits"}},
				{Type: analytics.AggregationSum, Property: "revenue"},
			},
		},
		{
			TimeData: timeRange("last_30_days", nil),
			Metrics:  []string{analytics.SectionFunnels},
			Funnels: []analytics.Funnel{{
				Name: "signup",
				Steps: [][]filters.Filter{
					{{Property: "path", Condition: filters.ConditionIs, Value: "/"}},
					{{Property: "path", Condition: filters.ConditionIs, Value: "/pricing"}},
					{{Property: "path", Condition: filters.ConditionIs, Value: "/signup"}},
				},
			}},
		},
	}
}

// runBench starts the clients and returns a channel of results
func runBench(ctx context.Context, cfg *BenchConfig, payloads [][]byte, logger *slog.Logger) <-chan Result {
	results := make(chan Result, cfg.Concurrency*10)
	var wg sync.WaitGroup

	perWorker := 0.0
	if cfg.Rate > 0 {
		perWorker = float64(cfg.Rate) / float64(cfg.Concurrency)
		logger.Info("Rate limiting enabled", slog.Int("rate", cfg.Rate))
	}

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}

			var ticker *time.Ticker
			if perWorker > 0 {
				ticker = time.NewTicker(time.Duration(float64(time.Second) / perWorker))
				defer ticker.Stop()
			}

			for n := workerID; ; n++ {
				if ticker != nil {
					select {
					case <-ticker.C:
					case <-ctx.Done():
						return
					}
				}
				if ctx.Err() != nil {
					return
				}
				results <- sendQuery(ctx, client, cfg, payloads[n%len(payloads)])
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func sendQuery(ctx context.Context, client *http.Client, cfg *BenchConfig, body []byte) Result {
	url := fmt.Sprintf("%s/api/v1/sites/%d/stats", cfg.BaseURL, cfg.SiteID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(v1.CallerHeader, cfg.Caller)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Duration: elapsed, Error: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		fmt.Printf("Error response [%d]: %s\n", resp.StatusCode, string(raw))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return Result{Duration: elapsed, StatusCode: resp.StatusCode}
}

func timeRange(name string, intervals *int) timeframe.TimeData {
	return timeframe.TimeData{Range: name, Intervals: intervals}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(stats *BenchStats) {
	elapsed := stats.EndTime.Sub(stats.StartTime)
	sort.Slice(stats.Latencies, func(i, j int) bool { return stats.Latencies[i] < stats.Latencies[j] })

	fmt.Println("\nQuery Benchmark Results:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", "METRIC", "VALUE")
	fmt.Fprintf(w, "%s\t%s\n", "------", "-----")
	fmt.Fprintf(w, "Duration\t%v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Requests\t%d\n", stats.TotalRequests)
	fmt.Fprintf(w, "Failed Requests\t%d\n", stats.Failed)
	if elapsed > 0 {
		fmt.Fprintf(w, "Queries Per Second\t%.2f\n", float64(stats.TotalRequests)/elapsed.Seconds())
	}
	for _, p := range []float64{0.5, 0.9, 0.99} {
		fmt.Fprintf(w, "p%.0f Latency\t%v\n", p*100, percentile(stats.Latencies, p))
	}
	if n := len(stats.Latencies); n > 0 {
		fmt.Fprintf(w, "Max Latency\t%v\n", stats.Latencies[n-1])
	}
	w.Flush()

	if len(stats.StatusCodes) > 0 {
		fmt.Println("\nStatus Code Distribution:")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		codes := lo.Keys(stats.StatusCodes)
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(w, "%d\t%d\n", code, stats.StatusCodes[code])
		}
		w.Flush()
	}
}
