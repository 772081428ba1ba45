// Command watch follows a running capdiff server from the terminal. It
// rehydrates recent history, optionally backfills older windows, then
// prints every live sample pushed over the websocket stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nicktill/capdiff/pkg/backfill"
	"github.com/nicktill/capdiff/pkg/bucket"
	"github.com/nicktill/capdiff/pkg/client"
	"github.com/nicktill/capdiff/pkg/config"
	"github.com/nicktill/capdiff/pkg/ingest"
	"github.com/nicktill/capdiff/pkg/logging"
	"github.com/nicktill/capdiff/pkg/sample"
)

func main() {
	endpoint := flag.String("endpoint", client.DefaultEndpoint, "capdiff server base URL")
	hours := flag.Int("hours", config.DefaultQueryHours, "hours of history to rehydrate")
	older := flag.Int("backfill", 0, "older windows to fetch before following")
	width := flag.Duration("width", time.Hour, "summary bucket width")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Development: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *endpoint, *hours, *older, *width, logger); err != nil && ctx.Err() == nil {
		logger.Fatal("watch failed", zap.Error(err))
	}
}

func run(ctx context.Context, endpoint string, hours, older int, width time.Duration, logger *zap.Logger) error {
	c := client.New(client.Config{Endpoint: endpoint})
	coord, err := backfill.New(backfill.Config{Querier: c, Logger: logger.Named("backfill")})
	if err != nil {
		return err
	}

	if err := coord.Rehydrate(ctx, hours); err != nil {
		return err
	}
	for i := 0; i < older; i++ {
		res, err := coord.RequestOlderWindow(ctx)
		if err != nil {
			return err
		}
		logger.Info("backfilled",
			zap.Time("window_start", res.Start),
			zap.Int("added", res.Added))
	}

	printSummary(coord.Series(), width)

	url := "ws" + strings.TrimPrefix(strings.TrimRight(endpoint, "/"), "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg ingest.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if coord.Observe(msg.Sample) {
			printSample(msg.Sample)
		}
	}
}

// printSummary prints one line per bucket of the held series
func printSummary(series sample.Series, width time.Duration) {
	first, ok := series.Earliest()
	if !ok {
		fmt.Println("no samples yet")
		return
	}
	last, _ := series.Latest()

	start := bucket.AlignDown(first, width)
	end := bucket.AlignDown(last.Timestamp, width).Add(width)
	points, err := bucket.Bucketize(series, start, end, width, width/2)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	for _, p := range points {
		if p.IsGap() {
			fmt.Printf("%s  %12s\n", p.SlotTime.Format(time.RFC3339), "-")
			continue
		}
		fmt.Printf("%s  %12.1f\n", p.SlotTime.Format(time.RFC3339), p.Sample.Difference())
	}
}

func printSample(s sample.Sample) {
	tag := ""
	if s.IsSynthetic() {
		tag = " (synthetic)"
	}
	fmt.Printf("%s  up %.1f  down %.1f  diff %+.1f%s\n",
		s.Timestamp.Format(sample.TimestampLayout), s.Up, s.Down, s.Difference(), tag)
}
