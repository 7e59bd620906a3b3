// Package db opens the SQLite database that keeps the artifact build history.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure Go SQLite driver (modernc.org/sqlite underneath), registered as "sqlite".
	_ "github.com/glebarez/sqlite"
)

// DefaultDBName is the database file created inside the data directory.
const DefaultDBName = "ctydna.db"

// DBClient abstracts the database handle so consumers can be tested against
// any SQL backend.
type DBClient interface {
	// GetDB returns the raw *sql.DB instance.
	GetDB() *sql.DB
	// Close closes the database connection.
	Close() error
	// Init applies connection-level settings.
	Init() error
	// Ping checks the database connection.
	Ping(ctx context.Context) error
	// Path returns the database file path.
	Path() string
}

// SQLiteClient implements DBClient for a file-backed SQLite database.
type SQLiteClient struct {
	db       *sql.DB
	filePath string
}

// NewSQLiteClient opens (creating if needed) dataDir/dbName in WAL mode.
func NewSQLiteClient(dataDir, dbName string) (*SQLiteClient, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory must be specified for SQLite database")
	}
	if dbName == "" {
		dbName = DefaultDBName
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	dbPath := filepath.Join(dataDir, dbName)
	// WAL lets the HTTP server read builds while the CLI writes new ones. The
	// pragmas run on every pooled connection.
	connStr := fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	client := &SQLiteClient{db: db, filePath: dbPath}
	if err := client.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return client, nil
}

// GetDB returns the raw *sql.DB instance.
func (s *SQLiteClient) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteClient) Close() error {
	return s.db.Close()
}

// Init verifies the database is reachable and in WAL mode. Table creation
// belongs to the store that owns the tables.
func (s *SQLiteClient) Init() error {
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&mode); err != nil {
		return fmt.Errorf("failed to enable WAL on %s: %w", s.filePath, err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteClient) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteClient) Path() string {
	return s.filePath
}
