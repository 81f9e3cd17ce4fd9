package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/gazeselect/internal/calibration"
	"github.com/banshee-data/gazeselect/internal/gaze"
)

// ErrCalibrationNotFound is returned when no calibration exists for a key.
var ErrCalibrationNotFound = errors.New("calibration not found")

// SaveCalibration stores rec as a new session and makes it the active
// calibration for its resolution key.
func (db *DB) SaveCalibration(ctx context.Context, rec *calibration.Record) error {
	if err := rec.Key.Validate(); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	k, m := rec.Key, rec.Transform
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO calibration_sessions (
			session_id, screen_width, screen_height, camera_width, camera_height,
			coef_a, coef_b, coef_c, coef_d, coef_e, coef_f, created_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, k.ScreenWidth, k.ScreenHeight, k.CameraWidth, k.CameraHeight,
		m[0], m[1], m[2], m[3], m[4], m[5], rec.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert calibration session: %w", err)
	}

	for _, p := range rec.Points {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO calibration_points (session_id, target_index, screen_x, screen_y, raw_x, raw_y)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.SessionID, p.Index, p.Screen.X, p.Screen.Y, p.Raw.X, p.Raw.Y,
		); err != nil {
			return fmt.Errorf("failed to insert calibration point %d: %w", p.Index, err)
		}
	}

	for i, target := range rec.Targets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO calibration_targets (session_id, target_index, screen_x, screen_y)
			VALUES (?, ?, ?, ?)`,
			rec.SessionID, i, target.X, target.Y,
		); err != nil {
			return fmt.Errorf("failed to insert calibration target %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO active_calibrations (screen_width, screen_height, camera_width, camera_height, session_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (screen_width, screen_height, camera_width, camera_height)
		DO UPDATE SET session_id = excluded.session_id`,
		k.ScreenWidth, k.ScreenHeight, k.CameraWidth, k.CameraHeight, rec.SessionID,
	); err != nil {
		return fmt.Errorf("failed to activate calibration: %w", err)
	}

	return tx.Commit()
}

// LoadCalibration returns the active calibration for key.
func (db *DB) LoadCalibration(ctx context.Context, key calibration.ResolutionKey) (*calibration.Record, error) {
	var sessionID string
	err := db.QueryRowContext(ctx, `
		SELECT session_id FROM active_calibrations
		WHERE screen_width = ? AND screen_height = ? AND camera_width = ? AND camera_height = ?`,
		key.ScreenWidth, key.ScreenHeight, key.CameraWidth, key.CameraHeight,
	).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for %s", ErrCalibrationNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active calibration: %w", err)
	}

	rec, err := db.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := rec.CheckKey(key); err != nil {
		return nil, err
	}
	return rec, nil
}

// LoadSession returns a calibration session by id, active or not.
func (db *DB) LoadSession(ctx context.Context, sessionID string) (*calibration.Record, error) {
	rec := &calibration.Record{SessionID: sessionID}
	var created int64
	m := &rec.Transform
	err := db.QueryRowContext(ctx, `
		SELECT screen_width, screen_height, camera_width, camera_height,
			coef_a, coef_b, coef_c, coef_d, coef_e, coef_f, created_unix_nanos
		FROM calibration_sessions WHERE session_id = ?`, sessionID,
	).Scan(
		&rec.Key.ScreenWidth, &rec.Key.ScreenHeight, &rec.Key.CameraWidth, &rec.Key.CameraHeight,
		&m[0], &m[1], &m[2], &m[3], &m[4], &m[5], &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrCalibrationNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration session: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()

	if rec.Targets, err = db.loadTargets(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT target_index, screen_x, screen_y, raw_x, raw_y
		FROM calibration_points WHERE session_id = ? ORDER BY target_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration points: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p calibration.Correspondence
		if err := rows.Scan(&p.Index, &p.Screen.X, &p.Screen.Y, &p.Raw.X, &p.Raw.Y); err != nil {
			return nil, err
		}
		rec.Points = append(rec.Points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (db *DB) loadTargets(ctx context.Context, sessionID string) ([]gaze.ScreenPoint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT screen_x, screen_y FROM calibration_targets
		WHERE session_id = ? ORDER BY target_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration targets: %w", err)
	}
	defer rows.Close()

	var out []gaze.ScreenPoint
	for rows.Next() {
		var p gaze.ScreenPoint
		if err := rows.Scan(&p.X, &p.Y); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SessionSummary is one row of calibration history.
type SessionSummary struct {
	SessionID string                    `json:"session_id"`
	Key       calibration.ResolutionKey `json:"key"`
	Points    int                       `json:"points"`
	Active    bool                      `json:"active"`
	CreatedAt time.Time                 `json:"created_at"`
}

// ListCalibrations returns every stored session, newest first.
func (db *DB) ListCalibrations(ctx context.Context) ([]SessionSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.session_id, s.screen_width, s.screen_height, s.camera_width, s.camera_height,
			s.created_unix_nanos,
			(SELECT COUNT(*) FROM calibration_points p WHERE p.session_id = s.session_id),
			EXISTS (SELECT 1 FROM active_calibrations a WHERE a.session_id = s.session_id)
		FROM calibration_sessions s
		ORDER BY s.created_unix_nanos DESC, s.session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibrations: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			s       SessionSummary
			created int64
		)
		if err := rows.Scan(&s.SessionID, &s.Key.ScreenWidth, &s.Key.ScreenHeight, &s.Key.CameraWidth, &s.Key.CameraHeight,
			&created, &s.Points, &s.Active); err != nil {
			return nil, err
		}
		s.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteCalibration removes the active calibration for key and its session.
func (db *DB) DeleteCalibration(ctx context.Context, key calibration.ResolutionKey) error {
	rec, err := db.LoadCalibration(ctx, key)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM calibration_sessions WHERE session_id = ?`, rec.SessionID); err != nil {
		return fmt.Errorf("failed to delete calibration: %w", err)
	}
	return nil
}
