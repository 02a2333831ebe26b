// Команда migrate применяет и откатывает встроенные миграции схемы.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "DRAFTS_POSTGRES_DSN"
	appName        = "drafts-migrate"
)

type options struct {
	direction string
	steps     int
	dsn       string
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	_ = godotenv.Load()
	logger := log.WithField("component", appName)

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		logger.WithError(err).Fatal("invalid migrate options")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn, postgres.WithApplicationName(appName))
	if err != nil {
		logger.WithError(err).Fatal("open postgres store")
	}
	defer store.Close()

	if err := migrate(ctx, store, opts, os.Stdout); err != nil {
		logger.WithError(err).WithField("direction", opts.direction).Error("migration failed")
		store.Close()
		os.Exit(1)
	}
}

func parseOptions(fs *flag.FlagSet, args []string, getenv func(string) string) (options, error) {
	var opts options
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	if strings.TrimSpace(opts.dsn) == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}
	if opts.direction == "down" && opts.steps <= 0 {
		opts.steps = 1
	}
	return opts, nil
}

func migrate(ctx context.Context, store *postgres.Store, opts options, out io.Writer) error {
	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	}

	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", opts.direction, version, count)
	return nil
}
