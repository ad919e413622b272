// Package config implements the validated configuration tree described in
// spec.md §6: sections {server, security, storage, transaction, cache,
// logging, performance}, schema-validated at load time, with debounced
// file-watch reload (see watch.go).
package config

import (
	"fmt"
	"time"
)

// FsyncMode selects the WAL durability/throughput tradeoff.
type FsyncMode int

const (
	FsyncAlways   FsyncMode = iota // Sync on every write (safest, slowest)
	FsyncGroup                     // Batch syncs with group commit (recommended)
	FsyncInterval                  // Sync at fixed intervals
	FsyncNone                      // Never sync (benchmarks only, unsafe)
)

func (m FsyncMode) String() string {
	switch m {
	case FsyncAlways:
		return "always"
	case FsyncGroup:
		return "group"
	case FsyncInterval:
		return "interval"
	case FsyncNone:
		return "none"
	default:
		return "unknown"
	}
}

// FsyncConfig configures the WAL's group-commit behavior.
type FsyncConfig struct {
	Mode         FsyncMode `yaml:"mode"`
	IntervalMS   int       `yaml:"interval_ms"`
	MaxBatchSize int       `yaml:"max_batch_size"`
}

// ServerConfig covers the knobs of the TCP listener in internal/server.
type ServerConfig struct {
	MaxFrameSize    int           `yaml:"max_frame_size"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxConnections  int           `yaml:"max_connections"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SecurityConfig is consumed by whatever implements SecurityContext; the
// core only validates shape, per spec.md §1.
type SecurityConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AuditLogPath  string        `yaml:"audit_log_path"`
	RequireTLS    bool          `yaml:"require_tls"`
	MinTLSVersion string        `yaml:"min_tls_version"`
}

// StorageConfig configures the hybrid document store and WAL.
type StorageConfig struct {
	DataPath        string    `yaml:"data_path"`
	WriteQueueDepth int       `yaml:"write_queue_depth"`
	WriteWorkers    int       `yaml:"write_workers"`
	IndexShards     int       `yaml:"index_shards"`
	WAL             WALConfig `yaml:"wal"`
}

// WALConfig configures segment rotation, fsync policy, and checkpointing.
type WALConfig struct {
	Dir                 string      `yaml:"dir"`
	MaxSegmentSizeBytes uint64      `yaml:"max_segment_size_bytes"`
	Fsync               FsyncConfig `yaml:"fsync"`
	Checkpoint          CheckpointConfig
	AllowSkipCorrupt    bool `yaml:"allow_skip_corrupt"`
}

// CheckpointConfig configures checkpoint cadence and segment trimming.
type CheckpointConfig struct {
	IntervalRecords int  `yaml:"interval_records"`
	AutoCreate      bool `yaml:"auto_create"`
	TrimAfter       bool `yaml:"trim_after"`
}

// TransactionConfig configures the lock manager and transaction coordinator.
type TransactionConfig struct {
	DefaultIsolation     string        `yaml:"default_isolation"`
	DefaultTimeout       time.Duration `yaml:"default_timeout"`
	LockAcquireTimeout   time.Duration `yaml:"lock_acquire_timeout"`
	DeadlockScanInterval time.Duration `yaml:"deadlock_scan_interval"`
	TimeoutSweepInterval time.Duration `yaml:"timeout_sweep_interval"`
}

// CacheConfig configures the resident-document and buffer-pool sizing.
type CacheConfig struct {
	MaxResidentDocs int `yaml:"max_resident_docs"`
	BufferPoolSize  int `yaml:"buffer_pool_size"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// PerformanceConfig configures cross-cutting executor knobs.
type PerformanceConfig struct {
	TTLSweepInterval     time.Duration `yaml:"ttl_sweep_interval"`
	RegexTimeout         time.Duration `yaml:"regex_timeout"`
	CursorIdleTimeout    time.Duration `yaml:"cursor_idle_timeout"`
	MaxConcurrentQueries int           `yaml:"max_concurrent_queries"`
}

// Config is the root validated configuration tree.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Security    SecurityConfig    `yaml:"security"`
	Storage     StorageConfig     `yaml:"storage"`
	Transaction TransactionConfig `yaml:"transaction"`
	Cache       CacheConfig       `yaml:"cache"`
	Logging     LoggingConfig     `yaml:"logging"`
	Performance PerformanceConfig `yaml:"performance"`
}

// Default returns a Config populated with conservative defaults, following
// the same sizing the teacher shipped for storage/WAL and extended with the
// sections this spec adds.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			MaxFrameSize:    10 * 1024 * 1024,
			RequestTimeout:  30 * time.Second,
			MaxConnections:  1000,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			Enabled:       false,
			TokenTTL:      1 * time.Hour,
			MinTLSVersion: "1.2",
		},
		Storage: StorageConfig{
			DataPath:        "./data",
			WriteQueueDepth: 4096,
			WriteWorkers:    8,
			IndexShards:     256,
			WAL: WALConfig{
				Dir:                 "./data/wal",
				MaxSegmentSizeBytes: 64 * 1024 * 1024,
				Fsync: FsyncConfig{
					Mode:         FsyncGroup,
					IntervalMS:   1,
					MaxBatchSize: 100,
				},
				Checkpoint: CheckpointConfig{
					IntervalRecords: 10000,
					AutoCreate:      true,
					TrimAfter:       true,
				},
			},
		},
		Transaction: TransactionConfig{
			DefaultIsolation:     "read_committed",
			DefaultTimeout:       30 * time.Second,
			LockAcquireTimeout:   5 * time.Second,
			DeadlockScanInterval: 500 * time.Millisecond,
			TimeoutSweepInterval: 1 * time.Second,
		},
		Cache: CacheConfig{
			MaxResidentDocs: 1_000_000,
			BufferPoolSize:  1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Performance: PerformanceConfig{
			TTLSweepInterval:     60 * time.Second,
			RegexTimeout:         100 * time.Millisecond,
			CursorIdleTimeout:    10 * time.Minute,
			MaxConcurrentQueries: 100,
		},
	}
}

// Validate checks the config tree for internally-inconsistent values,
// mirroring the schema-validation pass spec.md §6 requires at load time.
func (c *Config) Validate() error {
	if c.Storage.DataPath == "" {
		return fmt.Errorf("config: storage.data_path must not be empty")
	}
	if c.Storage.WriteWorkers <= 0 {
		return fmt.Errorf("config: storage.write_workers must be positive")
	}
	if c.Storage.IndexShards <= 0 {
		return fmt.Errorf("config: storage.index_shards must be positive")
	}
	if c.Storage.WAL.MaxSegmentSizeBytes == 0 {
		return fmt.Errorf("config: storage.wal.max_segment_size_bytes must be positive")
	}
	switch c.Storage.WAL.Fsync.Mode {
	case FsyncAlways, FsyncGroup, FsyncInterval, FsyncNone:
	default:
		return fmt.Errorf("config: storage.wal.fsync.mode %d is invalid", c.Storage.WAL.Fsync.Mode)
	}
	switch c.Transaction.DefaultIsolation {
	case "read_uncommitted", "read_committed", "repeatable_read", "serializable":
	default:
		return fmt.Errorf("config: transaction.default_isolation %q is invalid", c.Transaction.DefaultIsolation)
	}
	if c.Server.MaxFrameSize <= 0 {
		return fmt.Errorf("config: server.max_frame_size must be positive")
	}
	if c.Performance.RegexTimeout <= 0 {
		return fmt.Errorf("config: performance.regex_timeout must be positive")
	}
	return nil
}
