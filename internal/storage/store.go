// Package storage persists detection sessions.
//
// Layout:
// ~/.local/share/stressnudger/
// └── stressnudger.db    # SQLite database
//
// A session is one daemon run (or one replay). Within it we keep the raw
// motion samples, every scoring cycle with its feature snapshot, and every
// intervention. Timestamps are stored as Unix nanoseconds so samples come
// back exactly as they went in.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/Atharva-Kanherkar/stressnudger/internal/capture/biometrics"
)

// DatabaseFile is the database name inside the storage directory.
const DatabaseFile = "stressnudger.db"

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Store handles persistence of sessions.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the database in baseDir.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return Open(filepath.Join(baseDir, DatabaseFile))
}

// Open opens the database at path and brings its schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion() (uint, error) {
	v, dirty, err := schemaVersion(s.db)
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty", v)
	}
	return v, nil
}

// Session summarizes one recorded session.
type Session struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Samples       int64      `json:"samples"`
	Cycles        int64      `json:"cycles"`
	Interventions int64      `json:"interventions"`
	PeakLevel     float64    `json:"peak_level"`
}

// StartSession creates a session and returns its ID.
func (s *Store) StartSession(start time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO sessions (id, started_at) VALUES (?, ?)`, id, start.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// EndSession marks a session as finished.
func (s *Store) EndSession(id string, end time.Time) error {
	res, err := s.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, end.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

const sessionQuery = `
	SELECT s.id, s.started_at, s.ended_at,
		(SELECT COUNT(*) FROM samples WHERE session_id = s.id),
		(SELECT COUNT(*) FROM cycles WHERE session_id = s.id),
		(SELECT COUNT(*) FROM interventions WHERE session_id = s.id),
		(SELECT COALESCE(MAX(level), 0) FROM cycles WHERE session_id = s.id)
	FROM sessions s`

// Session returns one session by ID.
func (s *Store) Session(id string) (Session, error) {
	rows, err := s.db.Query(sessionQuery+` WHERE s.id = ?`, id)
	if err != nil {
		return Session{}, err
	}
	sessions, err := scanSessions(rows)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sessions[0], nil
}

// LatestSession returns the most recently started session.
func (s *Store) LatestSession() (Session, error) {
	sessions, err := s.Sessions(1)
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, ErrSessionNotFound
	}
	return sessions[0], nil
}

// Sessions returns the most recent sessions, newest first.
func (s *Store) Sessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(sessionQuery+` ORDER BY s.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&sess.ID, &started, &ended,
			&sess.Samples, &sess.Cycles, &sess.Interventions, &sess.PeakLevel); err != nil {
			return nil, err
		}
		sess.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			sess.EndedAt = &t
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SaveSamples writes a batch of samples in one transaction.
func (s *Store) SaveSamples(sessionID string, samples []biometrics.MotionSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO samples (session_id, ts, velocity, scroll_offset, acceleration)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, smp := range samples {
		if _, err := stmt.Exec(sessionID, smp.Timestamp.UnixNano(), smp.Velocity, smp.Offset, smp.Acceleration); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// Samples returns a session's samples in time order.
func (s *Store) Samples(sessionID string) ([]biometrics.MotionSample, error) {
	rows, err := s.db.Query(`
		SELECT ts, velocity, scroll_offset, acceleration
		FROM samples
		WHERE session_id = ?
		ORDER BY ts, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []biometrics.MotionSample
	for rows.Next() {
		var ts int64
		var smp biometrics.MotionSample
		if err := rows.Scan(&ts, &smp.Velocity, &smp.Offset, &smp.Acceleration); err != nil {
			return nil, err
		}
		smp.Timestamp = time.Unix(0, ts)
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// CycleRecord is a stored scoring cycle.
type CycleRecord struct {
	Timestamp time.Time           `json:"timestamp"`
	Features  biometrics.Features `json:"features"`
	HeartRate float64             `json:"heart_rate,omitempty"`
	RawScore  float64             `json:"raw_score"`
	Level     float64             `json:"level"`
	Stressed  bool                `json:"stressed"`
	Strategy  biometrics.Strategy `json:"strategy"`
	Fallback  string              `json:"fallback,omitempty"`
}

// SaveCycle stores one scoring cycle with its feature snapshot.
func (s *Store) SaveCycle(sessionID string, c biometrics.Cycle) error {
	var fallback sql.NullString
	if c.Fallback != nil {
		fallback = sql.NullString{String: c.Fallback.Error(), Valid: true}
	}

	f := c.Features
	_, err := s.db.Exec(`
		INSERT INTO cycles (
			session_id, ts,
			mean_velocity, velocity_std_dev, max_velocity, jerkiness,
			acceleration_sign_changes, direction_reversals,
			micro_pause_count, long_pause_count,
			window_duration_seconds, sample_frequency_hz,
			heart_rate, raw_score, level, stressed, strategy, fallback
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, c.Timestamp.UnixNano(),
		f.MeanVelocity, f.VelocityStdDev, f.MaxVelocity, f.Jerkiness,
		f.AccelerationSignChanges, f.DirectionReversals,
		f.MicroPauseCount, f.LongPauseCount,
		f.WindowDurationSeconds, f.SampleFrequencyHz,
		c.HeartRate, c.RawScore, c.Level, c.Stressed, string(c.Strategy), fallback)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

// Cycles returns a session's scoring cycles in time order.
func (s *Store) Cycles(sessionID string) ([]CycleRecord, error) {
	rows, err := s.db.Query(`
		SELECT ts,
			mean_velocity, velocity_std_dev, max_velocity, jerkiness,
			acceleration_sign_changes, direction_reversals,
			micro_pause_count, long_pause_count,
			window_duration_seconds, sample_frequency_hz,
			heart_rate, raw_score, level, stressed, strategy, fallback
		FROM cycles
		WHERE session_id = ?
		ORDER BY ts, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var r CycleRecord
		var ts int64
		var strategy string
		var fallback sql.NullString
		f := &r.Features
		err := rows.Scan(&ts,
			&f.MeanVelocity, &f.VelocityStdDev, &f.MaxVelocity, &f.Jerkiness,
			&f.AccelerationSignChanges, &f.DirectionReversals,
			&f.MicroPauseCount, &f.LongPauseCount,
			&f.WindowDurationSeconds, &f.SampleFrequencyHz,
			&r.HeartRate, &r.RawScore, &r.Level, &r.Stressed, &strategy, &fallback)
		if err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts)
		r.Strategy = biometrics.Strategy(strategy)
		r.Fallback = fallback.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveIntervention records an emitted intervention.
func (s *Store) SaveIntervention(sessionID string, iv biometrics.Intervention, notifiedDesktop bool) error {
	_, err := s.db.Exec(`
		INSERT INTO interventions (session_id, ts, level, band, notified_desktop)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, iv.Timestamp.UnixNano(), iv.Level, iv.Band.String(), notifiedDesktop)
	if err != nil {
		return fmt.Errorf("failed to insert intervention: %w", err)
	}
	return nil
}

// Interventions returns a session's interventions in time order.
func (s *Store) Interventions(sessionID string) ([]biometrics.Intervention, error) {
	rows, err := s.db.Query(`
		SELECT ts, level, band FROM interventions
		WHERE session_id = ?
		ORDER BY ts, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []biometrics.Intervention
	for rows.Next() {
		var iv biometrics.Intervention
		var ts int64
		var band string
		if err := rows.Scan(&ts, &iv.Level, &band); err != nil {
			return nil, err
		}
		iv.Timestamp = time.Unix(0, ts)
		if err := iv.Band.UnmarshalText([]byte(band)); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// Stats holds storage statistics.
type Stats struct {
	Sessions      int64            `json:"sessions"`
	Samples       int64            `json:"samples"`
	Cycles        int64            `json:"cycles"`
	Interventions int64            `json:"interventions"`
	MeanLevel     float64          `json:"mean_level"`
	ByStrategy    map[string]int64 `json:"by_strategy"`
	DatabaseSize  int64            `json:"database_size"`
}

// Stats returns statistics across all sessions.
func (s *Store) Stats() (Stats, error) {
	var stats Stats

	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM samples),
			(SELECT COUNT(*) FROM cycles),
			(SELECT COUNT(*) FROM interventions),
			(SELECT COALESCE(AVG(level), 0) FROM cycles)
	`).Scan(&stats.Sessions, &stats.Samples, &stats.Cycles, &stats.Interventions, &stats.MeanLevel)
	if err != nil {
		return stats, err
	}

	rows, err := s.db.Query(`SELECT strategy, COUNT(*) FROM cycles GROUP BY strategy`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	stats.ByStrategy = make(map[string]int64)
	for rows.Next() {
		var strategy string
		var count int64
		if err := rows.Scan(&strategy, &count); err != nil {
			return stats, err
		}
		stats.ByStrategy[strategy] = count
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, rows.Err()
}
