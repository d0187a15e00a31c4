package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopwise/listsync/feed"
	"github.com/shopwise/listsync/store"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		runGenerator(args)
	case "version":
		fmt.Printf("feedgen version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`feedgen - synthetic list_items change feed

Usage:
  feedgen <command> [options]

Commands:
  run       Publish change events to NATS
  version   Print version
  help      Show this help

Run Options:
  --nats-url      NATS server URL (default: nats://127.0.0.1:4222)
  --prefix        Subject prefix (default: shopwise)
  --lists         Comma-separated list ids (default: groceries)
  --actors        Comma-separated actor ids (default: u2,u3)
  --events        Events to publish (default: 100)
  --duration      Duration to run (e.g., 60s), overrides --events
  --rate          Events per second, 0 = unthrottled (default: 10)
  --seed          Random seed (default: current time)
  --insert-pct    Insert percentage (default: 40)
  --check-pct     Check-off percentage (default: 30)
  --update-pct    Other update percentage (default: 20)
  --delete-pct    Delete percentage (default: 10)
  --driver        Mirror rows into a store: sqlite3|mysql (optional)
  --dsn           Store DSN (required with --driver)

Examples:
  feedgen run --lists=abc,xyz --actors=u2 --rate=5 --duration=30s
  feedgen run --driver=sqlite3 --dsn=file:listsync.db --events=500`)
}

func runGenerator(args []string) {
	cfg := &Config{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	fs.StringVar(&cfg.NatsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	fs.StringVar(&cfg.SubjectPrefix, "prefix", "shopwise", "Subject prefix")
	fs.StringVar(&cfg.Lists, "lists", "groceries", "Comma-separated list ids")
	fs.StringVar(&cfg.Actors, "actors", "u2,u3", "Comma-separated actor ids")
	fs.IntVar(&cfg.Events, "events", 100, "Events to publish")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Duration to run, overrides --events")
	fs.IntVar(&cfg.Rate, "rate", 10, "Events per second (0 = unthrottled)")
	fs.Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "Random seed")
	fs.IntVar(&cfg.InsertPct, "insert-pct", 40, "Insert percentage")
	fs.IntVar(&cfg.CheckPct, "check-pct", 30, "Check-off percentage")
	fs.IntVar(&cfg.UpdatePct, "update-pct", 20, "Other update percentage")
	fs.IntVar(&cfg.DeletePct, "delete-pct", 10, "Delete percentage")
	fs.StringVar(&cfg.Driver, "driver", "", "Store driver (sqlite3|mysql)")
	fs.StringVar(&cfg.DSN, "dsn", "", "Store DSN")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if cfg.Duration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), cfg.Duration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, shutting down...")
		cancel()
	}()

	if err := execute(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "feedgen failed: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, cfg *Config) error {
	tr, err := feed.NewNATSTransport(feed.NATSConfig{
		URL:               cfg.NatsURL,
		SubjectPrefix:     cfg.SubjectPrefix,
		CompressThreshold: 1024,
		ClientName:        "feedgen",
	})
	if err != nil {
		return err
	}
	defer tr.Close()

	var mirror *store.SQLStore
	if cfg.Driver != "" {
		mirror, err = store.OpenSQLStore(cfg.Driver, cfg.DSN)
		if err != nil {
			return err
		}
		defer mirror.Close()
	}

	w := NewWorkload(cfg)
	stats := NewStats()
	defer stats.Report()

	var tick <-chan time.Time
	if cfg.Rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(cfg.Rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for n := 0; cfg.Duration > 0 || n < cfg.Events; n++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		op, ev := w.Next()

		if mirror != nil {
			if err := applyToStore(ctx, mirror, ev); err != nil {
				stats.RecordError(op)
				fmt.Fprintf(os.Stderr, "store write failed: %v\n", err)
				continue
			}
		}

		if err := tr.Publish(ctx, ev); err != nil {
			stats.RecordError(op)
			continue
		}
		stats.RecordOp(op)
	}

	return nil
}

func applyToStore(ctx context.Context, s *store.SQLStore, ev feed.ChangeEvent) error {
	if ev.Operation == feed.OpDelete {
		return s.Delete(ctx, ev.Row.ID)
	}
	return s.Put(ctx, store.Item{
		ID:             ev.Row.ID,
		ListID:         ev.Row.ListID,
		Name:           ev.Row.Name,
		IsChecked:      ev.Row.IsChecked,
		LastModifiedBy: ev.Row.LastModifiedBy,
	})
}
