// Command loadtest drives a running docdb server through a small matrix
// of connection/worker shapes and records throughput and latency
// percentiles into a SQLite results database, grounded on the teacher's
// tests/load/cmd/loadtest/main.go driver loop.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kartikbazzad/docdb/tests/load"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:27117", "address of the running docdb server")
	outDir := flag.String("out-dir", "./load-results", "directory to write the results database into")
	duration := flag.Duration("duration", 5*time.Second, "duration of each configuration run")
	collection := flag.String("collection", "loadtest", "collection to write load-test documents into")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	db, err := load.OpenMatrixDB(load.MatrixDBPath(*outDir))
	if err != nil {
		log.Fatalf("open results db: %v", err)
	}
	defer db.Close()

	runID, err := load.InsertRun(db, *addr)
	if err != nil {
		log.Fatalf("insert run: %v", err)
	}

	configs := []load.TestConfiguration{
		{Name: "light", Connections: 2, WorkersPerConnection: 2, Collection: *collection, Duration: *duration},
		{Name: "moderate", Connections: 4, WorkersPerConnection: 4, Collection: *collection, Duration: *duration},
		{Name: "heavy", Connections: 8, WorkersPerConnection: 8, Collection: *collection, Duration: *duration},
	}

	success, failed := 0, 0
	for _, cfg := range configs {
		fmt.Printf("running %s (%d conns x %d workers)...\n", cfg.Name, cfg.Connections, cfg.WorkersPerConnection)
		result, err := load.Run(*addr, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config %s failed: %v\n", cfg.Name, err)
			failed++
			continue
		}
		if err := load.InsertResult(db, runID, result); err != nil {
			fmt.Fprintf(os.Stderr, "config %s: failed to record result: %v\n", cfg.Name, err)
			failed++
			continue
		}
		fmt.Printf("  ops=%d throughput=%.1f/s p95=%.2fms p99=%.2fms errors=%d\n",
			result.TotalOps, result.Throughput, result.P95LatencyMs, result.P99LatencyMs, result.Errors)
		success++
	}

	if err := load.FinishRun(db, runID, len(configs), success, failed); err != nil {
		log.Fatalf("finish run: %v", err)
	}
}
