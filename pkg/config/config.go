package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultMaxStorageMB = 512
	DefaultMaxMemoryMB  = 48
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 15 * time.Second
	ShutdownTimeout     = 10 * time.Second
)

// Storage defaults
const (
	DefaultStorageBackend = "file"
	DefaultDataDir        = "./data"
	DefaultLogFile        = "market-data.ndjson"
	BadgerGCInterval      = 10 * time.Minute
	StorageCheckCacheTTL  = 10 * time.Second
)

// Ingestion defaults
const (
	DefaultIngestSchedule = "@every 10s"
	DefaultSourceTimeout  = 5 * time.Second
	IngestAppendTimeout   = 5 * time.Second

	// Health thresholds for the ingest monitor
	IngestStaleAfter          = 2 * time.Minute
	IngestMaxConsecutiveFails = 3
)

// Query timeouts and defaults
const (
	DefaultQueryHours = 24
	QueryTimeout      = 10 * time.Second
	MaxQueryWindow    = 90 * 24 * time.Hour

	DefaultBucketWidth     = 10 * time.Second
	DefaultBucketTolerance = 5 * time.Second
)

// Backfill defaults
const (
	DefaultBackfillWindow  = 24 * time.Hour
	DefaultBackfillEpsilon = time.Second
	DefaultHistoryCapacity = 1000
	DefaultBackfillMargin  = 5 * time.Minute
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 30 * 24 * time.Hour
)

// Derived series defaults
const (
	DefaultSnapshotPath = "./data/chart-jsdata.json"
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
