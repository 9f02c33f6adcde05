package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/refiner/pkg/types"
)

// unmarshalJSON unmarshals a non-critical JSON column, logging corruption
// instead of failing the query.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (creating if needed) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL DEFAULT 'running',
		token_id TEXT NOT NULL,
		signer TEXT NOT NULL,
		registry TEXT NOT NULL,
		tx_count INTEGER NOT NULL,
		iterations_per_tx INTEGER NOT NULL,
		starting_iterations INTEGER DEFAULT 0,
		gas_price_wei TEXT NOT NULL,
		initial_balance_wei TEXT NOT NULL,
		final_balance_wei TEXT,
		total_fees_wei TEXT,
		tx_confirmed INTEGER DEFAULT 0,
		total_iterations INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		latency_stats TEXT,
		error_message TEXT,
		error_kind TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS tx_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tx_index INTEGER NOT NULL,
		nonce INTEGER NOT NULL,
		tx_hash TEXT NOT NULL,
		block_number INTEGER NOT NULL,
		gas_used INTEGER NOT NULL,
		cumulative_iterations INTEGER NOT NULL,
		fee_wei TEXT NOT NULL,
		balance_wei TEXT NOT NULL,
		latency_ms INTEGER,
		confirmed_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tx_records_run ON tx_records(run_id, tx_index);
	CREATE INDEX IF NOT EXISTS idx_tx_records_hash ON tx_records(tx_hash);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *Run) error {
	status := run.Status
	if status == "" {
		status = types.StatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, token_id, signer, registry, tx_count,
			iterations_per_tx, starting_iterations, gas_price_wei, initial_balance_wei)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, string(status), run.TokenID, run.Signer, run.Registry, run.TxCount,
		run.IterationsPerTx, run.StartingIterations, run.GasPriceWei, run.InitialBalanceWei)
	return err
}

// AppendTxRecord stores one confirmed transaction of runID.
func (s *SQLiteStorage) AppendTxRecord(ctx context.Context, runID string, rec types.TxRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tx_records (run_id, tx_index, nonce, tx_hash, block_number, gas_used,
			cumulative_iterations, fee_wei, balance_wei, latency_ms, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, rec.Index, rec.Nonce, rec.Hash, rec.BlockNumber, rec.GasUsed,
		rec.CumulativeIterations, rec.FeeWei, rec.BalanceWei, nullInt64(rec.LatencyMs), rec.ConfirmedAt)
	return err
}

// CompleteRun writes the final figures of a run.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, id string, done *RunCompletion) error {
	latencyJSON, _ := json.Marshal(done.LatencyStats)

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?,
			status = ?,
			final_balance_wei = ?,
			total_fees_wei = ?,
			tx_confirmed = ?,
			total_iterations = ?,
			duration_ms = ?,
			latency_stats = ?,
			error_message = ?,
			error_kind = ?
		WHERE id = ?
	`, time.Now(), string(done.Status), nullString(done.FinalBalanceWei), nullString(done.TotalFeesWei),
		done.TxConfirmed, done.TotalIterations, done.DurationMs, string(latencyJSON),
		nullString(done.ErrorMessage), nullString(done.ErrorKind), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

const runColumns = `id, started_at, completed_at, status, token_id, signer, registry, tx_count,
	iterations_per_tx, COALESCE(starting_iterations, 0), gas_price_wei, initial_balance_wei,
	final_balance_wei, total_fees_wei, COALESCE(tx_confirmed, 0), COALESCE(total_iterations, 0),
	COALESCE(duration_ms, 0), latency_stats, error_message, error_kind`

// GetRun retrieves a single run by ID. It returns nil, nil if there is none.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns a paginated list of runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// DeleteRun deletes a run and its transactions.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

const txColumns = `tx_index, nonce, tx_hash, block_number, gas_used, cumulative_iterations,
	fee_wei, balance_wei, latency_ms, confirmed_at`

// GetTxRecords retrieves the confirmed transactions of a run in submission order.
func (s *SQLiteStorage) GetTxRecords(ctx context.Context, runID string, limit, offset int) (*PaginatedTxRecords, error) {
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tx_records WHERE run_id = ?", runID).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+txColumns+" FROM tx_records WHERE run_id = ? ORDER BY tx_index LIMIT ? OFFSET ?",
		runID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []types.TxRecord{}
	for rows.Next() {
		rec, err := scanTxRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedTxRecords{
		Transactions: records,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}

// GetTxRecordByHash retrieves a single transaction by hash, or nil, nil.
func (s *SQLiteStorage) GetTxRecordByHash(ctx context.Context, txHash string) (*types.TxRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+txColumns+" FROM tx_records WHERE tx_hash = ?", txHash)
	rec, err := scanTxRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Helper functions

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var status string
	var completedAt sql.NullTime
	var finalBalance, totalFees, latencyJSON, errorMsg, errorKind sql.NullString

	err := row.Scan(&run.ID, &run.StartedAt, &completedAt, &status, &run.TokenID, &run.Signer,
		&run.Registry, &run.TxCount, &run.IterationsPerTx, &run.StartingIterations,
		&run.GasPriceWei, &run.InitialBalanceWei, &finalBalance, &totalFees,
		&run.TxConfirmed, &run.TotalIterations, &run.DurationMs, &latencyJSON, &errorMsg, &errorKind)
	if err != nil {
		return nil, err
	}

	run.Status = types.RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.FinalBalanceWei = finalBalance.String
	run.TotalFeesWei = totalFees.String
	run.ErrorMessage = errorMsg.String
	run.ErrorKind = errorKind.String
	if latencyJSON.Valid && latencyJSON.String != "" && latencyJSON.String != "null" {
		var stats types.LatencyStats
		unmarshalJSON(latencyJSON.String, &stats, "latency_stats", run.ID)
		run.LatencyStats = &stats
	}
	return &run, nil
}

func scanTxRecord(row scanner) (*types.TxRecord, error) {
	var rec types.TxRecord
	var latency sql.NullInt64

	err := row.Scan(&rec.Index, &rec.Nonce, &rec.Hash, &rec.BlockNumber, &rec.GasUsed,
		&rec.CumulativeIterations, &rec.FeeWei, &rec.BalanceWei, &latency, &rec.ConfirmedAt)
	if err != nil {
		return nil, err
	}
	if latency.Valid {
		rec.LatencyMs = latency.Int64
	}
	return &rec, nil
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
