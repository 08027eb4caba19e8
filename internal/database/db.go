// Package database persists predictions, feedback and the model registry in
// SQLite.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the database file created under the data directory
const FileName = "beastml.db"

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool creates a new database connection pool
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB opens (creating if needed) the database under dataDir
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, FileName)
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite allows a single writer
	pool := NewConnectionPool(db, 4, 2, 5*time.Minute)

	database := &DB{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := database.initPreparedStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized",
		"path", dbPath,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns)

	return database, nil
}

// migrate creates the necessary tables. Timestamps are unix milliseconds.
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS model_versions (
			id TEXT PRIMARY KEY,
			algorithm TEXT NOT NULL,
			path TEXT NOT NULL,
			r2 REAL NOT NULL,
			mae REAL NOT NULL,
			rmse REAL NOT NULL,
			samples INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL, -- 'candidate', 'production', 'rejected', 'retired'
			traffic_percent INTEGER NOT NULL DEFAULT 0,
			trained_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS ml_predictions (
			id TEXT PRIMARY KEY,
			model_version TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			predicted_value REAL NOT NULL,
			features TEXT NOT NULL, -- JSON feature record
			variant TEXT NOT NULL, -- 'control', 'candidate'
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS ml_feedback (
			id TEXT PRIMARY KEY,
			prediction_id TEXT NOT NULL,
			actual_value REAL NOT NULL,
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (prediction_id) REFERENCES ml_predictions(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_model_versions_status ON model_versions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_ml_predictions_repo ON ml_predictions(repo_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ml_predictions_created ON ml_predictions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ml_feedback_prediction ON ml_feedback(prediction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ml_feedback_created ON ml_feedback(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// initPreparedStatements initializes frequently used prepared statements
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"insert_prediction": `INSERT INTO ml_predictions (id, model_version, repo_id, predicted_value, features, variant, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,

		"insert_feedback": `INSERT INTO ml_feedback (id, prediction_id, actual_value, source, created_at)
			VALUES (?, ?, ?, ?, ?)`,

		"insert_model_version": `INSERT INTO model_versions (
			id, algorithm, path, r2, mae, rmse, samples, status, traffic_percent, trained_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		"get_prediction": `SELECT id, model_version, repo_id, predicted_value, features, variant, created_at
			FROM ml_predictions WHERE id = ?`,

		"count_feedback_since": `SELECT COUNT(*) FROM ml_feedback WHERE created_at >= ?`,

		"feedback_pairs_since": `SELECT p.predicted_value, f.actual_value
			FROM ml_feedback f JOIN ml_predictions p ON p.id = f.prediction_id
			WHERE f.created_at >= ? ORDER BY f.created_at DESC LIMIT ?`,

		"feedback_examples_since": `SELECT p.repo_id, p.features, f.actual_value
			FROM ml_feedback f JOIN ml_predictions p ON p.id = f.prediction_id
			WHERE f.created_at >= ? ORDER BY f.created_at DESC`,

		"get_models_by_status": `SELECT id, algorithm, path, r2, mae, rmse, samples, status, traffic_percent, trained_at, updated_at
			FROM model_versions WHERE status = ? ORDER BY trained_at DESC`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// HealthCheck pings the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
