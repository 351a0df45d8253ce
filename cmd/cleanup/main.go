// Command cleanup performs maintenance on stored observation history.
//
// Usage:
//
//	go run ./cmd/cleanup -mode history -places Mumbai,Delhi
//	go run ./cmd/cleanup -mode future
//
// "history" deletes every hourly reading for the given places (defaults to
// MONITORED_PLACES) so the next refresh starts from a clean slate. "future"
// deletes readings timestamped after now, which older collectors wrote when
// they stored forecast hours as observations.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/disaster-alert-service/internal/adapter/postgres"
	"github.com/couchcryptid/disaster-alert-service/internal/config"
	"github.com/couchcryptid/disaster-alert-service/internal/domain"
)

// historyStore is the part of the history store cleanup needs.
type historyStore interface {
	DeleteHistory(ctx context.Context, location string) (int64, error)
	DeleteFutureHistory(ctx context.Context, now time.Time) (int64, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := sharedobs.NewLogger(cfg.LogLevel, "text")
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	store := postgres.NewHistoryStore(pool, cfg.HistoryRetention, clock, logger)
	if err := run(ctx, os.Args[1:], store, cfg.MonitoredPlaces, clock, os.Stdout); err != nil {
		pool.Close()
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, store historyStore, defaultPlaces []string, clock clockwork.Clock, out io.Writer) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	mode := fs.String("mode", "history", "cleanup mode: history or future")
	places := fs.String("places", "", "comma-separated places for history mode (default MONITORED_PLACES)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch strings.ToLower(*mode) {
	case "history":
		targets := defaultPlaces
		if *places != "" {
			targets = config.ParseList(*places)
		}
		var total int64
		for _, name := range targets {
			loc := domain.NormalizeLocation(name)
			if loc == "" {
				continue
			}
			n, err := store.DeleteHistory(ctx, loc)
			if err != nil {
				return fmt.Errorf("clear %s: %w", name, err)
			}
			fmt.Fprintf(out, "%-12s %d readings removed\n", name, n)
			total += n
		}
		fmt.Fprintf(out, "done: %d readings removed from %d places\n", total, len(targets))

	case "future":
		n, err := store.DeleteFutureHistory(ctx, clock.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "done: %d future readings removed\n", n)

	default:
		fs.Usage()
		return fmt.Errorf("unknown mode %q", *mode)
	}
	return nil
}
