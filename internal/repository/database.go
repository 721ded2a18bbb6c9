package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// NewPostgresDB establishes a new connection to the PostgreSQL database.
func NewPostgresDB(dataSourceName string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect(DriverPostgres, dataSourceName)
	if err != nil {
		return nil, err
	}

	logger.Info("Successfully connected to the database", zap.String("driver", DriverPostgres))
	return db, nil
}

// NewSQLiteDB opens a SQLite database. SQLite allows a single writer, so the
// pool is limited to one connection.
func NewSQLiteDB(path string, logger *zap.Logger) (*sqlx.DB, error) {
	dsn := path
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_time_format=sqlite"
	}

	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Successfully connected to the database",
		zap.String("driver", DriverSQLite),
		zap.String("path", path))
	return db, nil
}

// Open connects to the configured database type.
func Open(dbType, url string, logger *zap.Logger) (*sqlx.DB, error) {
	switch dbType {
	case DriverPostgres:
		return NewPostgresDB(url, logger)
	case DriverSQLite, "":
		return NewSQLiteDB(url, logger)
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}
}

// MigrateDB runs the embedded migrations for the connection's driver.
func MigrateDB(db *sqlx.DB, logger *zap.Logger) error {
	var (
		driver database.Driver
		err    error
	)
	switch db.DriverName() {
	case DriverPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case DriverSQLite:
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", db.DriverName())
	}
	if err != nil {
		return fmt.Errorf("couldn't get database instance for running migrations: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+db.DriverName())
	if err != nil {
		return fmt.Errorf("couldn't open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "safetunes", driver)
	if err != nil {
		return fmt.Errorf("couldn't create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("couldn't run database migration: %w", err)
	}

	logger.Info("Database migration was run successfully", zap.String("driver", db.DriverName()))
	return nil
}

// Store combines all repositories behind one connection or transaction.
type Store struct {
	db     *sqlx.DB
	inTx   bool
	logger *zap.Logger

	Requests   RequestRepository
	Approved   ApprovedContentRepository
	Moderation ModerationCacheRepository
	Queries    QueryCacheRepository
	Batches    NotificationBatchRepository
}

// NewStore creates a new Store with all repositories bound to db.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return newStore(db, db, false, logger)
}

func newStore(db *sqlx.DB, ext sqlx.ExtContext, inTx bool, logger *zap.Logger) *Store {
	return &Store{
		db:         db,
		inTx:       inTx,
		logger:     logger,
		Requests:   &requestRepository{db: ext, logger: logger},
		Approved:   &approvedContentRepository{db: ext, logger: logger},
		Moderation: &moderationCacheRepository{db: ext, logger: logger},
		Queries:    &queryCacheRepository{db: ext, logger: logger},
		Batches:    &notificationBatchRepository{db: ext, logger: logger},
	}
}

// WithinTx runs fn with a Store whose repositories share one transaction.
// Nested calls reuse the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(newStore(s.db, tx, true, s.logger)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
