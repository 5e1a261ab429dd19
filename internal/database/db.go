package database

import (
	"database/sql"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Database represents the database connection and operations
type Database struct {
	DB *sql.DB
}

// New creates a new Database instance
func New(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// Verify connection
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{DB: db}, nil
}

// NewWithDB wraps an already opened connection pool.
func NewWithDB(db *sql.DB) *Database {
	return &Database{DB: db}
}

// Init creates the required tables if they don't exist
func (d *Database) Init() error {
	createTables := `
	CREATE TABLE IF NOT EXISTS streams (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		stream_type TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		movement_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		data BYTEA NOT NULL,
		FOREIGN KEY (movement_id) REFERENCES movements(id)
	);

	CREATE INDEX IF NOT EXISTS movements_timestamp_idx ON movements (timestamp);
	`

	_, err := d.DB.Exec(createTables)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}
