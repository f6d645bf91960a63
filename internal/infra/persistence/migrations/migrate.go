// Package migrations wires golang-migrate execution for the event tables.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/souuzaa/performance-api/internal/infra/telemetry"
)

const embeddedSourceName = "embedded"

var (
	errNotDirectory = errors.New("migrations path must be a directory")
	errInvalidSteps = errors.New("rollback steps must be positive")

	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

// source opens the migration files for one run.
type source struct {
	name string
	open func(driver database.Driver) (*migrate.Migrate, error)
}

// Apply ensures the migrations located at migrationsDir are applied to the Postgres
// instance reachable via dsn. A nil logger disables informational logging.
func Apply(ctx context.Context, dsn, migrationsDir string, logger *log.Logger) error {
	src, err := dirSource(migrationsDir)
	if err != nil {
		return err
	}
	return up(ctx, dsn, src, logger)
}

// ApplyEmbedded applies the migrations found at the root of fsys.
func ApplyEmbedded(ctx context.Context, dsn string, fsys fs.FS, logger *log.Logger) error {
	src, err := fsSource(fsys)
	if err != nil {
		return err
	}
	return up(ctx, dsn, src, logger)
}

// Rollback reverts the last steps migrations found in migrationsDir.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int, logger *log.Logger) error {
	src, err := dirSource(migrationsDir)
	if err != nil {
		return err
	}
	return down(ctx, dsn, src, steps, logger)
}

// RollbackEmbedded reverts the last steps migrations found at the root of fsys.
func RollbackEmbedded(ctx context.Context, dsn string, fsys fs.FS, steps int, logger *log.Logger) error {
	src, err := fsSource(fsys)
	if err != nil {
		return err
	}
	return down(ctx, dsn, src, steps, logger)
}

func up(ctx context.Context, dsn string, src source, logger *log.Logger) error {
	return run(ctx, dsn, src, logger, func(m *migrate.Migrate) error {
		if logger != nil {
			logger.Printf("running database migrations: source=%s", src.name)
		}
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				recordMigrationMetric(ctx, telemetry.ResultNoop, src.name)
				if logger != nil {
					logger.Printf("database migrations up-to-date")
				}
				return nil
			}
			recordMigrationMetric(ctx, telemetry.ResultFailed, src.name)
			return fmt.Errorf("apply migrations: %w", err)
		}
		recordMigrationMetric(ctx, telemetry.ResultApplied, src.name)
		if logger != nil {
			logger.Printf("database migrations applied successfully")
		}
		return nil
	})
}

func down(ctx context.Context, dsn string, src source, steps int, logger *log.Logger) error {
	if steps <= 0 {
		return errInvalidSteps
	}
	return run(ctx, dsn, src, logger, func(m *migrate.Migrate) error {
		if logger != nil {
			logger.Printf("rolling back database migrations: source=%s steps=%d", src.name, steps)
		}
		if err := m.Steps(-steps); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				return nil
			}
			recordMigrationMetric(ctx, telemetry.ResultFailed, src.name)
			return fmt.Errorf("rollback migrations: %w", err)
		}
		recordMigrationMetric(ctx, "rolled_back", src.name)
		return nil
	})
}

func run(ctx context.Context, dsn string, src source, logger *log.Logger, fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && logger != nil {
			logger.Printf("database migrations close: %v", cerr)
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}
	m, err := src.open(driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if logger == nil {
			return
		}
		if sourceErr != nil {
			logger.Printf("database migrations source close: %v", sourceErr)
		}
		if dbErr != nil {
			logger.Printf("database migrations db close: %v", dbErr)
		}
	}()
	return fn(m)
}

func dirSource(dir string) (source, error) {
	resolvedDir, err := resolveDir(dir)
	if err != nil {
		return source{}, err
	}
	sourceURL := fileURL(resolvedDir)
	return source{
		name: resolvedDir,
		open: func(driver database.Driver) (*migrate.Migrate, error) {
			return migrate.NewWithDatabaseInstance(sourceURL, "pgx5", driver)
		},
	}, nil
}

func fsSource(fsys fs.FS) (source, error) {
	if fsys == nil {
		return source{}, fmt.Errorf("migrations filesystem required")
	}
	return source{
		name: embeddedSourceName,
		open: func(driver database.Driver) (*migrate.Migrate, error) {
			src, err := iofs.New(fsys, ".")
			if err != nil {
				return nil, fmt.Errorf("open embedded migrations: %w", err)
			}
			return migrate.NewWithInstance("iofs", src, "pgx5", driver)
		},
	}, nil
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}

	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}

func recordMigrationMetric(ctx context.Context, result, path string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("persistence.migrations")
		counter, err := meter.Int64Counter("ingest_db_migrations_total",
			metric.WithDescription("Total migrations executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(telemetry.MigrationAttributes(telemetry.Environment(), result, path)...))
}
