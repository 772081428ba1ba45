/*
Package storage provides the durable sample log abstraction for capdiff.

# Log Interface

capdiff keeps one authoritative history: an append-only log of samples written by a
single ingestion loop and read by any number of query handlers. All backends implement:

	type Log interface {
	    Append(ctx context.Context, s sample.Sample) error
	    Scan(ctx context.Context, match Predicate) ([]sample.Sample, error)
	    Reset(ctx context.Context) error
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

Backends:
  - file: newline-delimited JSON, one record per line (default, production)
  - badger: BadgerDB keyed by timestamp, for hosts that already run an embedded KV
  - memory: in-memory slice for tests and ephemeral runs

# On-disk Format (file backend)

Each record is a self-contained JSON object terminated by '\n':

	{"timestamp":"2024-01-02T09:15:00.000Z","upCapitalization":5512.1,"downCapitalization":15654.3,"difference":-10142.2,"source":"synthetic"}
	{"timestamp":"2024-01-02T09:15:10.000Z","upCapitalization":5530.4,"downCapitalization":15601.0,"difference":-10070.6,"source":"real"}

There is no index and no metadata file. The difference field is written for readers
that consume the file directly; it is recomputed on load.

# Crash Safety

A record is written with a single write call followed by fsync. A crash can leave
at most one partial trailing line. Scan parses every line on its own and drops
lines that fail to parse, so a torn record never hides the records before it.
Before the next append the writer terminates a torn line with '\n' so the new
record starts on a fresh line.

# Ordering

Scan returns records in the order they were written. Under the single writer,
fixed cadence access pattern this is timestamp order. Backends do not sort.

# Usage Example

	log, err := file.Open(file.Config{Path: "./data/market-data.ndjson"})
	if err != nil {
	    return err
	}
	defer log.Close()

	err = log.Append(ctx, sample.New(time.Now(), 5512.1, 15654.3, sample.ProvenanceReal))

	// Last hour only
	recent, err := log.Scan(ctx, storage.After(time.Now().Add(-time.Hour)))

# Best Practices

 1. Only the ingestion loop appends. Never run two server processes on one log.
 2. Use context.WithTimeout() around Scan on large logs.
 3. Reset is destructive; it is serialized with Append inside each backend.
*/
package storage
