package sink

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anstrom/netscope/internal/aggregate"
	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/logging"
)

const (
	insertRunQuery = `
		INSERT INTO runs (id, run_id, name, target, seq, status, started_at, finished_at, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertResultQuery = `
		INSERT INTO probe_results (id, run_id, probe_key, kind, target, status,
			started_at, finished_at, duration_ms, attempts, metrics, error_code, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
)

// PostgresSink stores runs in PostgreSQL.
type PostgresSink struct {
	db     *sqlx.DB
	logger *logging.Logger
	newID  func() uuid.UUID
}

// NewPostgresSink wraps an open connection.
func NewPostgresSink(db *sqlx.DB, logger *logging.Logger) *PostgresSink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &PostgresSink{db: db, logger: logger.WithComponent("sink.postgres"), newID: uuid.New}
}

// OpenPostgres connects with cfg and applies pending migrations.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (*PostgresSink, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		// The DSN carries the password; only the driver error is kept.
		return nil, errors.Wrap(errors.CodeStorage, "failed to connect to database", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := NewPostgresSink(db, logger)
	if err := NewMigrator(db, logger).Up(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(errors.CodeStorage, "database migration failed", err)
	}
	return s, nil
}

// Write implements Sink. A run and its results are stored in one
// transaction.
func (s *PostgresSink) Write(ctx context.Context, record *aggregate.RunRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	runID := s.newID()
	if _, err := tx.ExecContext(ctx, insertRunQuery,
		runID, record.ID, record.Name, record.Target, record.Seq, record.Status.String(),
		record.Started, record.Finished, record.Summary,
	); err != nil {
		return storageError("insert run", err)
	}

	for _, r := range record.Results {
		metrics, err := json.Marshal(r.Metrics)
		if err != nil {
			return errors.Wrap(errors.CodeStorage, fmt.Sprintf("failed to encode metrics for %s", r.Spec.Key), err)
		}
		var code, message *string
		if r.Err != nil {
			c, m := string(r.Err.Code), r.Err.Error()
			code, message = &c, &m
		}
		if _, err := tx.ExecContext(ctx, insertResultQuery,
			s.newID(), runID, r.Spec.Key, string(r.Spec.Kind), r.Spec.Target.String(), r.Status.String(),
			r.Start, r.End, r.Duration.Milliseconds(), r.Attempts, metrics, code, message,
		); err != nil {
			return storageError("insert probe result", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit run", err)
	}
	s.logger.Debug("Run stored", "run_id", record.ID, "results", len(record.Results))
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

// storageError turns driver errors into messages that carry no SQL or
// connection details. The driver error stays reachable through Unwrap.
func storageError(operation string, err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		msg := "database operation failed: " + operation
		switch pqErr.Code {
		case "23505":
			msg = "run already stored"
		case "23502", "23514":
			msg = "run failed database validation"
		case "57014":
			msg = "database operation was canceled"
		case "08000", "08003", "08006", "57P01":
			msg = "database connection lost"
		}
		return errors.Wrap(errors.CodeStorage, msg, err).WithContext("operation", operation)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Classify(err).WithContext("operation", operation)
	}
	return errors.Wrap(errors.CodeStorage, "database operation failed: "+operation, err)
}
