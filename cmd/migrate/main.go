// Command migrate applies or rolls back the event table migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	dbmigrations "github.com/souuzaa/performance-api/db/migrations"
	"github.com/souuzaa/performance-api/internal/infra/config"
	"github.com/souuzaa/performance-api/internal/infra/persistence/migrations"
)

const (
	defaultConfigPath = "config/app.yaml"
	defaultTimeout    = 30 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	dsn     string
	dir     string
	timeout time.Duration
	quiet   bool
	command string
	steps   int
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	if opts.dsn == "" {
		if err := config.LoadDotEnv(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		cfg, _, err := config.LoadOrDefault(context.Background(), defaultConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		opts.dsn = cfg.Database.DSN
	}

	var logger *log.Logger
	if !opts.quiet {
		logger = log.New(os.Stdout, "ingest-migrate ", log.LstdFlags)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	switch opts.command {
	case "up":
		if opts.dir == "" {
			return migrations.ApplyEmbedded(ctx, opts.dsn, dbmigrations.Files, logger)
		}
		return migrations.Apply(ctx, opts.dsn, opts.dir, logger)
	case "down":
		if opts.dir == "" {
			return migrations.RollbackEmbedded(ctx, opts.dsn, dbmigrations.Files, opts.steps, logger)
		}
		return migrations.Rollback(ctx, opts.dsn, opts.dir, opts.steps, logger)
	default:
		return fmt.Errorf("unknown command %q (expected up or down)", opts.command)
	}
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.dsn, "database", "", "PostgreSQL DSN (defaults to DATABASE_URL or the config file)")
	fs.StringVar(&opts.dir, "path", "", "Directory containing SQL migrations (defaults to the embedded set)")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "Maximum time to wait for database connectivity")
	fs.BoolVar(&opts.quiet, "quiet", false, "Suppress informational logs")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.dsn = strings.TrimSpace(opts.dsn)
	opts.dir = strings.TrimSpace(opts.dir)

	rest := fs.Args()
	if len(rest) == 0 {
		return options{}, errors.New("command required (up|down)")
	}
	opts.command = rest[0]
	opts.steps = 1
	if opts.command == "down" && len(rest) > 1 {
		n, err := strconv.Atoi(rest[1])
		if err != nil {
			return options{}, fmt.Errorf("invalid down steps %q: %w", rest[1], err)
		}
		opts.steps = n
	}
	return opts, nil
}
