package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
)

// schemaVersion is the current on-disk layout. Version 1 databases (before
// edge context columns) are migrated in place on open.
const schemaVersion = schemas.GraphSchemaVersion

// Store is the embedded persistence layer: durable copies of the graph for
// cold start, the signature cache table, and scan history.
type Store struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

// Open creates or opens the database at path, runs schema setup and any
// pending migration, and verifies the connection.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	s := &Store{db: db, path: path, log: logger.Named("store")}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

const createStatements = `
CREATE TABLE IF NOT EXISTS schema_info (
    version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS assets (
    guid              TEXT PRIMARY KEY,
    path              TEXT NOT NULL,
    kind              TEXT NOT NULL,
    size_bytes        INTEGER NOT NULL DEFAULT 0,
    last_modified_ns  INTEGER NOT NULL DEFAULT 0,
    content_hash      TEXT NOT NULL DEFAULT '',
    is_analyzed       INTEGER NOT NULL DEFAULT 0,
    importer_kind     TEXT NOT NULL DEFAULT '',
    importer_metadata TEXT NOT NULL DEFAULT '{}',
    active            INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_assets_path ON assets(path);
CREATE INDEX IF NOT EXISTS idx_assets_kind_active ON assets(kind, active);
CREATE TABLE IF NOT EXISTS dependencies (
    source_guid    TEXT NOT NULL,
    target_guid    TEXT NOT NULL,
    dep_kind       TEXT NOT NULL,
    strength       INTEGER NOT NULL DEFAULT 0,
    context_path   TEXT NOT NULL DEFAULT '',
    component_type TEXT NOT NULL DEFAULT '',
    property_name  TEXT NOT NULL DEFAULT '',
    source_file_id INTEGER NOT NULL DEFAULT 0,
    active         INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (source_guid, target_guid, dep_kind, context_path)
);
CREATE INDEX IF NOT EXISTS idx_dependencies_target ON dependencies(target_guid);
CREATE TABLE IF NOT EXISTS signatures (
    path              TEXT PRIMARY KEY,
    size              INTEGER NOT NULL,
    mtime_ns          INTEGER NOT NULL,
    content_hash      TEXT NOT NULL DEFAULT '',
    last_seen_scan_id TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS scans (
    scan_id      TEXT PRIMARY KEY,
    scan_type    TEXT NOT NULL,
    status       TEXT NOT NULL,
    project_root TEXT NOT NULL,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER NOT NULL,
    report       TEXT NOT NULL DEFAULT '{}'
);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createStatements); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_info LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_info (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("failed to stamp schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	switch version {
	case schemaVersion:
		return nil
	case schemaVersion - 1:
		return s.migrateFromV1(ctx)
	default:
		return fmt.Errorf("unsupported store schema version %d (supported: %d, %d)", version, schemaVersion-1, schemaVersion)
	}
}

// migrateFromV1 upgrades a version-1 database: the edge table gained
// component_type, property_name and source_file_id.
func (s *Store) migrateFromV1(ctx context.Context) error {
	s.log.Info("migrating store schema", zap.Int("from", schemaVersion-1), zap.Int("to", schemaVersion))
	stmts := []string{
		`ALTER TABLE dependencies ADD COLUMN component_type TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE dependencies ADD COLUMN property_name TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE dependencies ADD COLUMN source_file_id INTEGER NOT NULL DEFAULT 0`,
		`UPDATE schema_info SET version = ` + fmt.Sprint(schemaVersion),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			// Columns may already exist when a prior migration was interrupted
			// after the ALTERs but before the version bump.
			if !isDuplicateColumn(err) {
				return fmt.Errorf("migration step failed: %w", err)
			}
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// SaveGraph rewrites the durable graph copy from a snapshot, inside one
// transaction. An optional pre-write backup is the caller's call.
func (s *Store) SaveGraph(ctx context.Context, export *schemas.GraphExport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("failed to rollback graph save", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies`); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assets`); err != nil {
		return fmt.Errorf("failed to clear assets: %w", err)
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
        INSERT INTO assets (guid, path, kind, size_bytes, last_modified_ns, content_hash, is_analyzed, importer_kind, importer_metadata, active)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare asset insert: %w", err)
	}
	defer nodeStmt.Close()

	for _, n := range export.Nodes {
		meta, merr := json.Marshal(n.ImporterMetadata)
		if merr != nil {
			meta = []byte("{}")
		}
		if _, err := nodeStmt.ExecContext(ctx,
			n.GUID, n.Path, string(n.Kind), n.SizeBytes, n.LastModified.UnixNano(),
			n.ContentHash, boolInt(n.IsAnalyzed), string(n.ImporterKind), string(meta), boolInt(n.Active),
		); err != nil {
			return fmt.Errorf("failed to insert asset %s: %w", n.GUID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
        INSERT INTO dependencies (source_guid, target_guid, dep_kind, strength, context_path, component_type, property_name, source_file_id, active)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare dependency insert: %w", err)
	}
	defer edgeStmt.Close()

	for _, e := range export.Edges {
		if _, err := edgeStmt.ExecContext(ctx,
			e.Source, e.Target, string(e.Kind), int(e.Strength), e.ContextPath,
			e.ComponentType, e.PropertyName, e.SourceFileID, boolInt(e.Active),
		); err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", e.Source, e.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph save: %w", err)
	}
	return nil
}

// LoadGraph reconstructs the graph snapshot for cold start. An empty store
// yields an empty export, not an error.
func (s *Store) LoadGraph(ctx context.Context) (*schemas.GraphExport, error) {
	export := &schemas.GraphExport{SchemaVersion: schemaVersion}

	rows, err := s.db.QueryContext(ctx, `
        SELECT guid, path, kind, size_bytes, last_modified_ns, content_hash, is_analyzed, importer_kind, importer_metadata, active
        FROM assets ORDER BY guid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n        schemas.Node
			kind     string
			modNS    int64
			analyzed int
			importer string
			metaJSON string
			active   int
		)
		if err := rows.Scan(&n.GUID, &n.Path, &kind, &n.SizeBytes, &modNS, &n.ContentHash, &analyzed, &importer, &metaJSON, &active); err != nil {
			return nil, fmt.Errorf("failed to scan asset row: %w", err)
		}
		n.Kind = schemas.AssetKind(kind)
		n.LastModified = time.Unix(0, modNS).UTC()
		n.IsAnalyzed = analyzed != 0
		n.ImporterKind = schemas.ImporterKind(importer)
		n.Active = active != 0
		if metaJSON != "" && metaJSON != "{}" {
			if err := json.Unmarshal([]byte(metaJSON), &n.ImporterMetadata); err != nil {
				s.log.Warn("dropping unreadable importer metadata", zap.String("guid", n.GUID), zap.Error(err))
			}
		}
		export.Nodes = append(export.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during asset iteration: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `
        SELECT source_guid, target_guid, dep_kind, strength, context_path, component_type, property_name, source_file_id, active
        FROM dependencies ORDER BY source_guid, target_guid, dep_kind, context_path`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var (
			e        schemas.Edge
			kind     string
			strength int
			active   int
		)
		if err := edgeRows.Scan(&e.Source, &e.Target, &kind, &strength, &e.ContextPath, &e.ComponentType, &e.PropertyName, &e.SourceFileID, &active); err != nil {
			return nil, fmt.Errorf("failed to scan dependency row: %w", err)
		}
		e.Kind = schemas.DepKind(kind)
		e.Strength = schemas.Strength(strength)
		e.Active = active != 0
		export.Edges = append(export.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("error during dependency iteration: %w", err)
	}

	export.NodeCount = len(export.Nodes)
	export.EdgeCount = len(export.Edges)
	return export, nil
}

// LoadSignatures reads the persisted signature cache.
func (s *Store) LoadSignatures(ctx context.Context) (map[string]schemas.Signature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, size, mtime_ns, content_hash FROM signatures`)
	if err != nil {
		return nil, fmt.Errorf("failed to query signatures: %w", err)
	}
	defer rows.Close()

	sigs := make(map[string]schemas.Signature)
	for rows.Next() {
		var (
			path string
			sig  schemas.Signature
		)
		if err := rows.Scan(&path, &sig.Size, &sig.MtimeNS, &sig.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan signature row: %w", err)
		}
		sigs[path] = sig
	}
	return sigs, rows.Err()
}

// SaveSignatures flushes the working-set signatures, replacing the table.
// Called only after a successful scan commit.
func (s *Store) SaveSignatures(ctx context.Context, sigs map[string]schemas.Signature, scanID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("failed to rollback signature save", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM signatures`); err != nil {
		return fmt.Errorf("failed to clear signatures: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO signatures (path, size, mtime_ns, content_hash, last_seen_scan_id)
        VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare signature insert: %w", err)
	}
	defer stmt.Close()

	for path, sig := range sigs {
		if _, err := stmt.ExecContext(ctx, path, sig.Size, sig.MtimeNS, sig.Hash, scanID); err != nil {
			return fmt.Errorf("failed to insert signature for %s: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit signature save: %w", err)
	}
	return nil
}

// SaveScanReport appends a scan to the history table.
func (s *Store) SaveScanReport(ctx context.Context, report *schemas.ScanReport) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal scan report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO scans (scan_id, scan_type, status, project_root, started_at, finished_at, report)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (scan_id) DO UPDATE SET status = excluded.status, finished_at = excluded.finished_at, report = excluded.report`,
		report.ScanID, string(report.Type), string(report.Status), report.ProjectRoot,
		report.StartedAt.UnixNano(), report.FinishedAt.UnixNano(), string(blob))
	if err != nil {
		return fmt.Errorf("failed to save scan report: %w", err)
	}
	return nil
}

// Backup copies the database file aside before a destructive rewrite.
func (s *Store) Backup() (string, error) {
	src, err := os.Open(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to open store for backup: %w", err)
	}
	defer src.Close()

	backupPath := s.path + ".bak"
	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to copy store backup: %w", err)
	}
	return backupPath, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
