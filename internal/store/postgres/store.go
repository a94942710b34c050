package postgres

import (
	"context"
	"embed"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	conf "github.com/yoma-network/export-worker/config"
	"github.com/yoma-network/export-worker/internal/errors"
	"github.com/yoma-network/export-worker/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same sub-store code runs inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the struct implementing the store.Store interface.
type Store struct {
	config *conf.DatabaseConfig
	conn   *pgxpool.Pool
	// tx is non-nil for transaction-bound views produced by InTx.
	tx pgx.Tx
}

// New creates a new Store instance.
func New(config *conf.DatabaseConfig) *Store {
	return &Store{config: config}
}

func (s *Store) BlobObject() store.BlobObjectStore {
	return &BlobObject{storage: s}
}

func (s *Store) DownloadSchedule() store.DownloadScheduleStore {
	return &DownloadSchedule{storage: s}
}

// Database returns the active query target: the transaction when this view is
// transaction-bound, the pool otherwise.
func (s *Store) Database() (querier, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	if s.conn == nil {
		return nil, errors.New("database connection is not opened")
	}
	return s.conn, nil
}

// InTx runs fn against a transaction-bound view of this store.
func (s *Store) InTx(ctx context.Context, fn func(store.Store) error) error {
	if s.tx != nil {
		// Nested call joins the ambient transaction.
		return fn(s)
	}
	if s.conn == nil {
		return errors.New("database connection is not opened")
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return errors.NewDBInternalError("begin_tx", err)
	}

	bound := &Store{config: s.config, conn: s.conn, tx: tx}
	if err := fn(bound); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.NewDBInternalError("commit_tx", err)
	}
	return nil
}

// Open establishes a connection to the database, applies pending migrations
// and returns a custom error if either fails.
func (s *Store) Open() error {
	if err := s.migrate(); err != nil {
		return err
	}

	config, err := pgxpool.ParseConfig(s.config.Url)
	if err != nil {
		return err
	}

	conn, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return err
	}
	s.conn = conn
	slog.Debug("export_worker.store.connection_opened", slog.String("message", "postgres: connection opened"))
	return nil
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.NewDBInternalError("migrate", err)
	}

	url := s.config.Url
	if strings.HasPrefix(url, "postgres://") {
		url = "pgx5://" + strings.TrimPrefix(url, "postgres://")
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return errors.NewDBInternalError("migrate", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.NewDBInternalError("migrate", err)
	}
	slog.Debug("export_worker.store.migrations_applied")
	return nil
}

// Close closes the database connection and returns a custom error if it fails.
func (s *Store) Close() error {
	if s.conn != nil {
		s.conn.Close()
		slog.Debug("export_worker.store.connection_closed", slog.String("message", "postgres: connection closed"))
		s.conn = nil
	}
	return nil
}
