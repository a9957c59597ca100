// Command loadtest replays as-you-type search traffic against a running
// search service. Every phrase is sent one keystroke at a time, the way the
// site search box issues requests, so the unfinished-term path and the
// result cache both see realistic load.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var defaultPhrases = []string{
	"select",
	"insert into",
	"edgeql functions",
	"schema migrations",
	"link properties",
	"computed properties",
	"access policies",
	"str ++ str",
	"quickstart",
	"client libraries",
	"group by",
	"full text search",
	"triggers",
	"globals",
	"cli reference",
}

type Config struct {
	BaseURL     string
	Indexes     string
	Concurrency int
	Duration    time.Duration
	RPS         float64
	Phrases     []string
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	zeroResults   atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	s.statusCodes[statusCode]++
	s.statusCodesMu.Unlock()
}

// keystrokes expands a phrase into the queries typing it produces.
func keystrokes(phrase string) []string {
	runes := []rune(phrase)
	queries := make([]string, 0, len(runes))
	for i := 1; i <= len(runes); i++ {
		queries = append(queries, string(runes[:i]))
	}
	return queries
}

func loadPhrases(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var phrases []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			phrases = append(phrases, line)
		}
	}
	return phrases, sc.Err()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	indexes := flag.String("index", "", "comma separated indexes to query (default: all)")
	concurrency := flag.Int("concurrency", 10, "number of concurrent typists")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rps := flag.Float64("rps", 0, "overall request rate limit (0: unlimited)")
	phrasesPath := flag.String("phrases", "", "file with one phrase per line")
	flag.Parse()

	phrases := defaultPhrases
	if *phrasesPath != "" {
		loaded, err := loadPhrases(*phrasesPath)
		if err != nil || len(loaded) == 0 {
			fmt.Fprintf(os.Stderr, "failed to load phrases from %s: %v\n", *phrasesPath, err)
			os.Exit(1)
		}
		phrases = loaded
	}

	cfg := Config{
		BaseURL:     strings.TrimSuffix(*baseURL, "/"),
		Indexes:     *indexes,
		Concurrency: *concurrency,
		Duration:    *duration,
		RPS:         *rps,
		Phrases:     phrases,
	}

	fmt.Println("=== Site Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Phrases:     %d\n", len(cfg.Phrases))
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS/10)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				for _, q := range keystrokes(cfg.Phrases[i%len(cfg.Phrases)]) {
					if err := limiter.Wait(ctx); err != nil {
						return nil
					}
					search(ctx, client, cfg, q, stats)
				}
			}
			return nil
		})
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	g.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func search(ctx context.Context, client *http.Client, cfg Config, query string, stats *Stats) {
	params := url.Values{"q": {query}, "limit": {"10"}}
	if cfg.Indexes != "" {
		params.Set("index", cfg.Indexes)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/api/v1/search?"+params.Encode(), nil)
	if err != nil {
		stats.RecordRequest(0, 0, err)
		return
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			stats.RecordRequest(time.Since(start), 0, err)
		}
		return
	}
	defer resp.Body.Close()

	var body struct {
		Total int `json:"total"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	stats.RecordRequest(time.Since(start), resp.StatusCode, nil)
	if resp.StatusCode == http.StatusOK && decodeErr == nil && body.Total == 0 {
		stats.zeroResults.Add(1)
	}
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)
	fmt.Printf("Zero Results:    %d\n", stats.zeroResults.Load())

	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code])
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
