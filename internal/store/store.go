// Package store keeps the history of compiled artifacts and source downloads
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/user00265/ctydna/internal/db"
	"github.com/user00265/ctydna/internal/dna"
)

const (
	buildsTableName   = "dna_builds"
	metadataTableName = "dna_metadata"

	// DataTypeBuild is the dna_metadata row touched by every SaveBuild.
	DataTypeBuild = "build"
)

// ErrNoBuild is returned by LatestBuild when nothing has been saved yet.
var ErrNoBuild = errors.New("no artifact build recorded")

// Build is one row of the build history.
type Build struct {
	ID            int64     `json:"id"`
	BuiltAt       time.Time `json:"built_at"`
	SourceSHA256  string    `json:"source_sha256"`
	ArtifactSHA   string    `json:"artifact_sha256"`
	PoolSize      int       `json:"pool_size"`
	NodeCount     int       `json:"node_count"`
	SkippedBlocks int       `json:"skipped_blocks"`
	// Artifact holds the JSON encoding; ListBuilds leaves it empty.
	Artifact []byte `json:"-"`
}

// Store wraps the database handle.
type Store struct {
	dbClient db.DBClient
}

// New creates the store tables if they do not exist.
func New(dbClient db.DBClient) (*Store, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("dbClient cannot be nil")
	}
	s := &Store{dbClient: dbClient}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create store tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				built_at TEXT NOT NULL,
				source_sha256 TEXT NOT NULL,
				artifact_sha256 TEXT NOT NULL,
				pool_size INTEGER NOT NULL,
				node_count INTEGER NOT NULL,
				skipped_blocks INTEGER NOT NULL,
				artifact BLOB NOT NULL
			);
		`, buildsTableName),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				data_type TEXT PRIMARY KEY,
				last_updated TEXT NOT NULL,
				file_size INTEGER,
				source_url TEXT
			);
		`, metadataTableName),
	}
	conn := s.dbClient.GetDB()
	for _, query := range queries {
		if _, err := conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w\nQuery: %s", err, query)
		}
	}
	return nil
}

// SaveBuild inserts b and returns its id. A zero BuiltAt is stamped with the
// current time and an empty ArtifactSHA is computed from the artifact bytes.
func (s *Store) SaveBuild(ctx context.Context, b Build) (int64, error) {
	if len(b.Artifact) == 0 {
		return 0, fmt.Errorf("refusing to save a build without artifact data")
	}
	if b.BuiltAt.IsZero() {
		b.BuiltAt = time.Now()
	}
	if b.ArtifactSHA == "" {
		b.ArtifactSHA = dna.Checksum(b.Artifact)
	}
	builtAt := b.BuiltAt.UTC().Format(time.RFC3339Nano)

	tx, err := s.dbClient.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (built_at, source_sha256, artifact_sha256, pool_size, node_count, skipped_blocks, artifact)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, buildsTableName), builtAt, b.SourceSHA256, b.ArtifactSHA, b.PoolSize, b.NodeCount, b.SkippedBlocks, b.Artifact)
	if err != nil {
		return 0, fmt.Errorf("failed to insert build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read build id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (data_type, last_updated, file_size, source_url)
		VALUES (?, ?, ?, NULL)
	`, metadataTableName), DataTypeBuild, builtAt, len(b.Artifact)); err != nil {
		return 0, fmt.Errorf("failed to update build metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit build: %w", err)
	}
	return id, nil
}

// LatestBuild returns the most recent build including its artifact bytes.
func (s *Store) LatestBuild(ctx context.Context) (*Build, error) {
	row := s.dbClient.GetDB().QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, built_at, source_sha256, artifact_sha256, pool_size, node_count, skipped_blocks, artifact
		FROM %s ORDER BY id DESC LIMIT 1
	`, buildsTableName))

	var b Build
	var builtAt string
	err := row.Scan(&b.ID, &builtAt, &b.SourceSHA256, &b.ArtifactSHA, &b.PoolSize, &b.NodeCount, &b.SkippedBlocks, &b.Artifact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoBuild
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest build: %w", err)
	}
	if b.BuiltAt, err = time.Parse(time.RFC3339Nano, builtAt); err != nil {
		return nil, fmt.Errorf("failed to parse build time %q: %w", builtAt, err)
	}
	return &b, nil
}

// ListBuilds returns up to limit builds, newest first, without artifact bytes.
func (s *Store) ListBuilds(ctx context.Context, limit int) ([]Build, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.dbClient.GetDB().QueryContext(ctx, fmt.Sprintf(`
		SELECT id, built_at, source_sha256, artifact_sha256, pool_size, node_count, skipped_blocks
		FROM %s ORDER BY id DESC LIMIT ?
	`, buildsTableName), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query builds: %w", err)
	}
	defer rows.Close()

	builds := []Build{}
	for rows.Next() {
		var b Build
		var builtAt string
		if err := rows.Scan(&b.ID, &builtAt, &b.SourceSHA256, &b.ArtifactSHA, &b.PoolSize, &b.NodeCount, &b.SkippedBlocks); err != nil {
			return nil, fmt.Errorf("failed to scan build row: %w", err)
		}
		if b.BuiltAt, err = time.Parse(time.RFC3339Nano, builtAt); err != nil {
			return nil, fmt.Errorf("failed to parse build time %q: %w", builtAt, err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate builds: %w", err)
	}
	return builds, nil
}

// PruneBuilds deletes all but the newest keep builds and returns how many
// rows were removed.
func (s *Store) PruneBuilds(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	res, err := s.dbClient.GetDB().ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %[1]s WHERE id NOT IN (SELECT id FROM %[1]s ORDER BY id DESC LIMIT ?)
	`, buildsTableName), keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune builds: %w", err)
	}
	return res.RowsAffected()
}

// RecordDownload records that dataType was fetched from sourceURL.
func (s *Store) RecordDownload(ctx context.Context, dataType, sourceURL string, fileSize int) error {
	_, err := s.dbClient.GetDB().ExecContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (data_type, last_updated, file_size, source_url)
		VALUES (?, ?, ?, ?)
	`, metadataTableName), dataType, time.Now().UTC().Format(time.RFC3339Nano), fileSize, sourceURL)
	if err != nil {
		return fmt.Errorf("failed to record %s download: %w", dataType, err)
	}
	return nil
}

// GetLastUpdate returns when dataType was last recorded. The zero time means never.
func (s *Store) GetLastUpdate(ctx context.Context, dataType string) (time.Time, error) {
	var lastUpdated string
	err := s.dbClient.GetDB().QueryRowContext(ctx, fmt.Sprintf(`
		SELECT last_updated FROM %s WHERE data_type = ?
	`, metadataTableName), dataType).Scan(&lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query %s metadata: %w", dataType, err)
	}
	t, err := time.Parse(time.RFC3339Nano, lastUpdated)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last update time: %w", err)
	}
	return t, nil
}

// GetLastBuildTime returns when the last build was saved.
func (s *Store) GetLastBuildTime(ctx context.Context) (time.Time, error) {
	return s.GetLastUpdate(ctx, DataTypeBuild)
}
