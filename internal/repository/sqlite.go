package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by updates that target a row that does not exist.
var ErrNotFound = errors.New("not found")

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// every connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return nil, fmt.Errorf("error enabling WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
			return nil, fmt.Errorf("error setting busy timeout: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

// Timestamps are stored as unix milliseconds so range predicates compare numerically.
func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS grievances (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			longitude REAL NOT NULL,
			latitude REAL NOT NULL,
			ward_id TEXT NOT NULL,
			district_name TEXT NOT NULL,
			description TEXT,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			submitted_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS assets (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			longitude REAL NOT NULL,
			latitude REAL NOT NULL,
			ward_id TEXT NOT NULL,
			district_name TEXT NOT NULL,
			last_maintenance INTEGER,
			repair_cost REAL,
			service_radius REAL NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS clusters (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			ward_id TEXT NOT NULL,
			district_name TEXT NOT NULL,
			longitude REAL NOT NULL,
			latitude REAL NOT NULL,
			complaint_volume INTEGER NOT NULL,
			asset_id TEXT,
			status TEXT NOT NULL DEFAULT 'Active',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cluster_members (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			cluster_id TEXT NOT NULL,
			grievance_id TEXT NOT NULL UNIQUE,
			added_at INTEGER NOT NULL,
			FOREIGN KEY (cluster_id) REFERENCES clusters(id)
		);

		CREATE TABLE IF NOT EXISTS risk_history (
			id TEXT PRIMARY KEY,
			cluster_id TEXT NOT NULL,
			score INTEGER NOT NULL,
			severity REAL NOT NULL,
			recency REAL NOT NULL,
			volume REAL NOT NULL,
			maintenance REAL NOT NULL,
			cost REAL NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (cluster_id) REFERENCES clusters(id)
		);

		CREATE TABLE IF NOT EXISTS leases (
			name TEXT PRIMARY KEY,
			holder_id TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_grievances_match ON grievances(category, ward_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_grievances_lat ON grievances(latitude);
		CREATE INDEX IF NOT EXISTS idx_assets_ward ON assets(ward_id);
		CREATE INDEX IF NOT EXISTS idx_assets_district ON assets(district_name COLLATE NOCASE);
		CREATE INDEX IF NOT EXISTS idx_clusters_match ON clusters(category, ward_id, status);
		CREATE INDEX IF NOT EXISTS idx_cluster_members_cluster ON cluster_members(cluster_id);
		CREATE INDEX IF NOT EXISTS idx_risk_history_cluster ON risk_history(cluster_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_risk_history_created ON risk_history(created_at);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
