package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/kartikbazzad/docdb/internal/config"
	"github.com/kartikbazzad/docdb/internal/document"
	"github.com/kartikbazzad/docdb/internal/errors"
	"github.com/kartikbazzad/docdb/internal/indexmgr"
	"github.com/kartikbazzad/docdb/internal/lockmgr"
	"github.com/kartikbazzad/docdb/internal/logger"
	"github.com/kartikbazzad/docdb/internal/metrics"
	"github.com/kartikbazzad/docdb/internal/query"
	"github.com/kartikbazzad/docdb/internal/router"
	"github.com/kartikbazzad/docdb/internal/security"
	"github.com/kartikbazzad/docdb/internal/server"
	"github.com/kartikbazzad/docdb/internal/store"
	"github.com/kartikbazzad/docdb/internal/txn"
	"github.com/kartikbazzad/docdb/internal/wal"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config file (optional; defaults are used if omitted)")
	dataDir := flag.String("data-dir", "", "Override storage.data_path")
	addr := flag.String("addr", "127.0.0.1:27117", "TCP address for the wire protocol listener")
	metricsAddr := flag.String("metrics-addr", "", "Address for the Prometheus /metrics endpoint (empty = disabled)")
	debugAddr := flag.String("debug-addr", "", "Enable pprof HTTP server at address (e.g. localhost:6060); empty = disabled")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *cfgPath, err)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.Storage.DataPath = *dataDir
		cfg.Storage.WAL.Dir = cfg.Storage.DataPath + "/wal"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr := logger.New(os.Stderr, logger.ParseLevel(cfg.Logging.Level), "[docdb]")
	if cfg.Logging.Format == "json" {
		logr.SetFormat(logger.FormatJSON)
	}
	logr.Info("starting docdb")
	logr.Info("data directory: %s", cfg.Storage.DataPath)

	st, err := store.Open(store.Options{
		DataPath:     cfg.Storage.DataPath,
		NumShards:    cfg.Storage.IndexShards,
		WriteWorkers: cfg.Storage.WriteWorkers,
		WriteQueue:   cfg.Storage.WriteQueueDepth,
	}, logr)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	collections, err := st.Collections()
	if err != nil {
		logr.Warn("failed to list existing collections: %v", err)
	}
	for _, coll := range collections {
		if err := st.EnsureCollection(coll); err != nil {
			logr.Warn("failed to register collection %q: %v", coll, err)
			continue
		}
		if err := st.LoadAll(coll); err != nil {
			logr.Warn("failed to load collection %q: %v", coll, err)
		}
	}

	walLog, err := wal.Open(cfg.Storage.WAL, logr)
	if err != nil {
		log.Fatalf("failed to open WAL: %v", err)
	}
	defer walLog.Close()

	locks := lockmgr.New(cfg.Transaction.DeadlockScanInterval, logr)
	idx := indexmgr.New(cfg.Performance.TTLSweepInterval, logr)

	catalog := indexmgr.NewCatalogStore(cfg.Storage.DataPath)
	idx.SetCatalogStore(catalog)
	if err := idx.Rebuild(catalog, collections); err != nil {
		logr.Warn("failed to rebuild index catalog: %v", err)
	}
	for _, coll := range collections {
		_ = st.Scan(coll, func(d *document.Document) bool {
			if err := idx.OnInsert(coll, d); err != nil {
				logr.Warn("failed to index existing document %s/%s: %v", coll, d.ID, err)
			}
			return true
		})
	}

	coord := txn.New(locks, walLog, st, idx, txn.ParseIsolation(cfg.Transaction.DefaultIsolation), cfg.Transaction.LockAcquireTimeout, cfg.Transaction.DefaultTimeout, logr)
	engine := query.NewEngine(st, idx, coord, logr)
	cursors := query.NewCursorManager(cfg.Performance.CursorIdleTimeout, logr)

	var sec security.SecurityContext = security.AllowAllSecurityContext{}

	tracker := errors.NewErrorTracker()
	exporter := metrics.NewExporter(tracker)

	r := router.New(st, idx, engine, coord, cursors, sec, logr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx.OnExpire(func(collection, docID string) error {
		tx := coord.Begin(txn.ReadCommitted)
		if err := coord.Delete(tx, collection, docID); err != nil {
			_ = coord.Rollback(tx)
			return err
		}
		return coord.Commit(tx)
	})

	locks.Start(ctx)
	defer locks.Stop()
	idx.Start(ctx, func(collection string) []*document.Document {
		var docs []*document.Document
		_ = st.Scan(collection, func(d *document.Document) bool {
			docs = append(docs, d)
			return true
		})
		return docs
	})
	defer idx.Stop()
	coord.StartTimeoutSweeper(ctx, cfg.Transaction.TimeoutSweepInterval)
	defer coord.Stop()
	cursors.Start(cfg.Performance.CursorIdleTimeout)
	defer cursors.Stop()

	srv := server.New(*addr, cfg, r, exporter, logr)
	if err := srv.Start(); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		go func() {
			logr.Info("metrics listening on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logr.Error("metrics server error: %v", err)
			}
		}()
	}

	if *debugAddr != "" {
		go func() {
			logr.Info("pprof enabled at http://%s/debug/pprof/", *debugAddr)
			if err := http.ListenAndServe(*debugAddr, nil); err != nil {
				logr.Error("pprof server error: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logr.Info("shutting down")
	if err := srv.Stop(); err != nil {
		logr.Error("error during shutdown: %v", err)
	}

	logr.Info("docdb stopped")
}
