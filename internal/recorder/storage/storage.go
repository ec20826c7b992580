// Package storage keeps emitted positions in a local sqlite database
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/LeoCommon/gpsrecorder/pkg/position"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// DB is the sqlite position store, it implements position.Sink
type DB struct {
	db *sql.DB
}

// Open opens or creates the database and migrates it to the latest schema
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("could not create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// sqlite allows one writer, the aggregator is the only one anyway
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s failed: %w", p, err)
		}
	}

	s := &DB{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}

	return m, nil
}

// MigrateUp applies all pending migrations
func (s *DB) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// closing m would close the shared connection

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the schema version, 0 if nothing was applied
func (s *DB) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	log.Debug(fmt.Sprintf("[migrate] "+format, v...))
}

func (migrateLogger) Verbose() bool {
	return false
}

func (s *DB) Close() error {
	return s.db.Close()
}

func nullableUnixMilli(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// Store inserts one emitted record
func (s *DB) Store(ctx context.Context, r position.Record) error {
	if r.ID == "" {
		return errors.New("record without id")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gps_positions (
			id, latitude, longitude, hdop, vdop, pdop, speed, speed_unit, bearing,
			fix_acquired, satellites_in_view, device_time, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Latitude, r.Longitude, r.HDOP, r.VDOP, r.PDOP, r.Speed, string(r.SpeedUnit), r.Bearing,
		r.FixAcquired, r.SatellitesInView, nullableUnixMilli(r.DeviceTime), r.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("could not insert position %s: %w", r.ID, err)
	}

	log.Debug("position stored", zap.String("id", r.ID))
	return nil
}

// Recent returns up to limit records, newest first
func (s *DB) Recent(ctx context.Context, limit int) ([]position.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, latitude, longitude, hdop, vdop, pdop, speed, speed_unit, bearing,
			fix_acquired, satellites_in_view, device_time, timestamp
		FROM gps_positions ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []position.Record
	for rows.Next() {
		var r position.Record
		var unit string
		var deviceTime sql.NullInt64
		var ts int64

		if err := rows.Scan(&r.ID, &r.Latitude, &r.Longitude, &r.HDOP, &r.VDOP, &r.PDOP, &r.Speed, &unit,
			&r.Bearing, &r.FixAcquired, &r.SatellitesInView, &deviceTime, &ts); err != nil {
			return nil, err
		}

		r.SpeedUnit = position.SpeedUnit(unit)
		r.Timestamp = time.UnixMilli(ts).UTC()
		if deviceTime.Valid {
			r.DeviceTime = time.UnixMilli(deviceTime.Int64).UTC()
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// Count returns the number of stored positions
func (s *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM gps_positions").Scan(&n)
	return n, err
}
