package calibration

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/w1xm/radiotelescope/antenna"
)

// SQLStore keeps calibrations for any number of instances in SQLite.
type SQLStore struct {
	db     *sql.DB
	dbPath string
}

func NewSQLStore(dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=10000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &SQLStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	log.Printf("calibration store initialized: %s", dbPath)
	return s, nil
}

func (s *SQLStore) createTables() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS calibrations (
		instance TEXT PRIMARY KEY,
		azimuth_offset REAL NOT NULL DEFAULT 0.0,
		elevation_offset REAL NOT NULL DEFAULT 0.0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`)
	return err
}

func (s *SQLStore) Load(instance string) (antenna.Calibration, error) {
	var c antenna.Calibration
	err := s.db.QueryRow(
		`SELECT azimuth_offset, elevation_offset FROM calibrations WHERE instance = ?`,
		instanceName(instance),
	).Scan(&c.AzimuthOffset, &c.ElevationOffset)
	if errors.Is(err, sql.ErrNoRows) {
		return c, antenna.ErrNoCalibration
	}
	return c, err
}

func (s *SQLStore) Save(instance string, c antenna.Calibration) error {
	_, err := s.db.Exec(`
	INSERT INTO calibrations (instance, azimuth_offset, elevation_offset, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(instance) DO UPDATE SET
		azimuth_offset = excluded.azimuth_offset,
		elevation_offset = excluded.elevation_offset,
		updated_at = excluded.updated_at`,
		instanceName(instance), c.AzimuthOffset, c.ElevationOffset)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
