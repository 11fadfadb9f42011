package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/kafka"
)

type Config struct {
	Mode        string
	BaseURL     string
	Brokers     []string
	Topic       string
	Concurrency int
	Duration    time.Duration
	NumShards   int
	BatchSize   int
	QueryKeys   int
	QueryRatio  float64
	// Events per Kafka write in -mode=kafka.
	WriteEvents int
}

// opStats accumulates results for one operation type.
type opStats struct {
	total       atomic.Int64
	success     atomic.Int64
	errors      atomic.Int64
	latencies   []time.Duration
	latenciesMu sync.Mutex
	statusCodes map[int]int64
	statusMu    sync.Mutex
}

func newOpStats() *opStats {
	return &opStats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
	}
}

func (s *opStats) record(d time.Duration, status int, err error) {
	s.total.Add(1)
	if err != nil || status >= 300 {
		s.errors.Add(1)
	} else {
		s.success.Add(1)
	}
	if err != nil {
		return
	}
	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, d)
	s.latenciesMu.Unlock()
	s.statusMu.Lock()
	s.statusCodes[status]++
	s.statusMu.Unlock()
}

type Stats struct {
	add   *opStats
	query *opStats
}

func main() {
	mode := flag.String("mode", "http", "traffic source: http or kafka")
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the key indexer")
	brokers := flag.String("brokers", "localhost:9092", "kafka broker for -mode=kafka")
	topic := flag.String("topic", "chunk-batches", "chunk batch topic for -mode=kafka")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	numShards := flag.Int("shards", 4, "number of shards to spread traffic over")
	batchSize := flag.Int("batch", 256, "pairs per add batch")
	queryKeys := flag.Int("keys", 64, "keys per query")
	queryRatio := flag.Float64("query-ratio", 0.5, "fraction of http requests that are queries")
	writeEvents := flag.Int("events-per-write", 10, "chunk batch events per kafka write for -mode=kafka")
	flag.Parse()

	cfg := Config{
		Mode:        *mode,
		BaseURL:     *baseURL,
		Brokers:     []string{*brokers},
		Topic:       *topic,
		Concurrency: *concurrency,
		Duration:    *duration,
		NumShards:   *numShards,
		BatchSize:   *batchSize,
		QueryKeys:   *queryKeys,
		QueryRatio:  *queryRatio,
		WriteEvents: max(*writeEvents, 1),
	}

	fmt.Println("=== Key Indexer Load Test ===")
	fmt.Printf("Mode:        %s\n", cfg.Mode)
	if cfg.Mode == "kafka" {
		fmt.Printf("Target:      %v topic %s\n", cfg.Brokers, cfg.Topic)
		fmt.Printf("Events/write: %d\n", cfg.WriteEvents)
	} else {
		fmt.Printf("Target:      %s\n", cfg.BaseURL)
	}
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Shards:      %d\n", cfg.NumShards)
	fmt.Printf("Batch size:  %d\n", cfg.BatchSize)
	fmt.Println()

	stats := Stats{add: newOpStats(), query: newOpStats()}
	run(cfg, stats)
	printReport("Add", stats.add, cfg.Duration)
	if cfg.Mode != "kafka" {
		printReport("Query", stats.query, cfg.Duration)
	}
	if stats.add.total.Load()+stats.query.total.Load() == 0 {
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func run(cfg Config, stats Stats) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var producer *kafka.Producer
	if cfg.Mode == "kafka" {
		producer = kafka.NewProducer(config.KafkaConfig{Brokers: cfg.Brokers}, cfg.Topic)
		defer producer.Close()
	}
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	// Rows added per shard, so queries only ask for keys that exist.
	sizes := make([]atomic.Int64, cfg.NumShards)

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(workerID), uint64(time.Now().UnixNano())))
			var seq int64
			for ctx.Err() == nil {
				shardID := rng.IntN(cfg.NumShards)
				seq++
				if producer != nil {
					events := make([]kafka.Event, cfg.WriteEvents)
					for i := range events {
						event := ingest.ChunkBatchEvent{
							BatchID:    fmt.Sprintf("lt-%d-%d-%d", workerID, seq, i),
							ShardID:    rng.IntN(cfg.NumShards),
							ProducedAt: time.Now().UTC(),
						}
						event.Pairs, event.Weights = randomBatch(rng, cfg.BatchSize)
						events[i] = kafka.Event{Key: fmt.Sprint(event.ShardID), Value: event}
					}
					start := time.Now()
					err := producer.PublishBatch(ctx, events)
					if ctx.Err() == nil {
						stats.add.record(time.Since(start), http.StatusAccepted, err)
					}
					continue
				}

				size := sizes[shardID].Load()
				if size > 0 && rng.Float64() < cfg.QueryRatio {
					keys := make([]int64, cfg.QueryKeys)
					for i := range keys {
						keys[i] = rng.Int64N(size)
					}
					status, d, err := postJSON(ctx, client, fmt.Sprintf("%s/api/v1/shards/%d/query", cfg.BaseURL, shardID), ingest.QueryRequest{Keys: keys})
					if ctx.Err() == nil {
						stats.query.record(d, status, err)
					}
					continue
				}

				var req ingest.AddRequest
				req.Pairs, req.Weights = randomBatch(rng, cfg.BatchSize)
				status, d, err := postJSON(ctx, client, fmt.Sprintf("%s/api/v1/shards/%d/records", cfg.BaseURL, shardID), req)
				if ctx.Err() != nil {
					continue
				}
				stats.add.record(d, status, err)
				if err == nil && status == http.StatusOK {
					sizes[shardID].Add(int64(len(req.Pairs)))
				}
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
}

func randomBatch(rng *rand.Rand, n int) ([][2]int64, []float64) {
	pairs := make([][2]int64, n)
	weights := make([]float64, n)
	doc := rng.Int64N(1 << 40)
	for i := range pairs {
		if rng.IntN(8) == 0 {
			doc = rng.Int64N(1 << 40)
		}
		pairs[i] = [2]int64{doc, int64(i)}
		weights[i] = rng.Float64()
	}
	return pairs, weights
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) (int, time.Duration, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := client.Do(req)
	d := time.Since(start)
	if err != nil {
		return 0, d, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, d, nil
}

func printReport(name string, s *opStats, duration time.Duration) {
	total := s.total.Load()
	errors := s.errors.Load()

	fmt.Printf("=== %s ===\n", name)
	fmt.Printf("Total:           %d\n", total)
	fmt.Printf("Successful:      %d\n", s.success.Load())
	fmt.Printf("Errors:          %d\n", errors)
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Ops/sec:         %.2f\n", float64(total)/duration.Seconds())
	}

	s.latenciesMu.Lock()
	latencies := slices.Clone(s.latencies)
	s.latenciesMu.Unlock()
	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sumSquared float64
		for _, l := range latencies {
			diff := float64(l - avg)
			sumSquared += diff * diff
		}
		fmt.Printf("Latency min/avg: %s / %s\n", latencies[0], avg)
		fmt.Printf("P50/P90/P99:     %s / %s / %s\n",
			percentile(latencies, 50), percentile(latencies, 90), percentile(latencies, 99))
		fmt.Printf("Max:             %s\n", latencies[len(latencies)-1])
		fmt.Printf("StdDev:          %s\n", time.Duration(math.Sqrt(sumSquared/float64(len(latencies)))))
	}

	s.statusMu.Lock()
	codes := make([]int, 0, len(s.statusCodes))
	for code := range s.statusCodes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, s.statusCodes[code])
	}
	s.statusMu.Unlock()
	fmt.Println()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
