package load

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kartikbazzad/docdb/cmd/docdbsh/client"
	"github.com/kartikbazzad/docdb/internal/router"
)

// TestConfiguration describes one load-test shape: a number of
// connections, each driving a number of concurrent workers, against a
// single collection for a fixed duration.
type TestConfiguration struct {
	Name                 string
	Connections          int
	WorkersPerConnection int
	Collection           string
	Duration             time.Duration
}

// Result is one configuration's measured outcome.
type Result struct {
	Config       TestConfiguration
	Duration     time.Duration
	TotalOps     int64
	Throughput   float64
	P95LatencyMs float64
	P99LatencyMs float64
	Errors       int64
}

// Run drives cfg.Connections client connections against addr, each
// running cfg.WorkersPerConnection goroutines that insert documents into
// cfg.Collection until cfg.Duration elapses.
func Run(addr string, cfg TestConfiguration) (Result, error) {
	var (
		mu        sync.Mutex
		latencies []time.Duration
		totalOps  int64
		errCount  int64
		wg        sync.WaitGroup
	)

	deadline := time.Now().Add(cfg.Duration)

	for c := 0; c < cfg.Connections; c++ {
		conn := client.New(addr)
		if err := conn.Connect(); err != nil {
			return Result{}, fmt.Errorf("load: connect worker %d: %w", c, err)
		}
		for w := 0; w < cfg.WorkersPerConnection; w++ {
			wg.Add(1)
			go func(conn *client.Client, workerID int) {
				defer wg.Done()
				i := 0
				for time.Now().Before(deadline) {
					docID := fmt.Sprintf("load-%d-%d", workerID, i)
					payload, _ := json.Marshal(map[string]any{"worker": workerID, "seq": i})

					start := time.Now()
					resp, err := conn.Do(router.CmdInsert, cfg.Collection, docID, payload, nil)
					elapsed := time.Since(start)

					mu.Lock()
					totalOps++
					latencies = append(latencies, elapsed)
					if err != nil || !resp.OK {
						errCount++
					}
					mu.Unlock()
					i++
				}
			}(conn, c*cfg.WorkersPerConnection+w)
		}
	}

	wg.Wait()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p95 := percentile(latencies, 0.95)
	p99 := percentile(latencies, 0.99)

	return Result{
		Config:       cfg,
		Duration:     cfg.Duration,
		TotalOps:     totalOps,
		Throughput:   float64(totalOps) / cfg.Duration.Seconds(),
		P95LatencyMs: float64(p95.Microseconds()) / 1000.0,
		P99LatencyMs: float64(p99.Microseconds()) / 1000.0,
		Errors:       errCount,
	}, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
