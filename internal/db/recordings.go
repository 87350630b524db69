package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spectro.cam/internal/spectrum"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultRecordingsLimit applies when Recordings is called with limit <= 0.
const DefaultRecordingsLimit = 100

// Recording is a stored spectrum with every channel.
type Recording struct {
	ID        string                 `json:"id"`
	StartedAt time.Time              `json:"started_at"`
	EndedAt   time.Time              `json:"ended_at"`
	Width     int                    `json:"width"`
	Label     string                 `json:"label"`
	Points    []spectrum.ExportPoint `json:"points,omitempty"`
}

// RecordSpectrum stores rec under a new ID, ignoring rec.ID, and returns
// the ID.
func (db *DB) RecordSpectrum(rec Recording) (string, error) {
	if len(rec.Points) == 0 {
		return "", errors.New("recording has no points")
	}
	payload, err := json.Marshal(rec.Points)
	if err != nil {
		return "", fmt.Errorf("failed to encode spectrum: %w", err)
	}
	id := uuid.NewString()
	_, err = db.Exec(
		`INSERT INTO recordings (recording_id, started_at, ended_at, width, label, spectrum_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, formatTime(rec.StartedAt), formatTime(rec.EndedAt), len(rec.Points), rec.Label, string(payload),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert recording: %w", err)
	}
	return id, nil
}

// Recordings lists the newest recordings first, without their points.
func (db *DB) Recordings(limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = DefaultRecordingsLimit
	}
	rows, err := db.Query(
		`SELECT recording_id, started_at, ended_at, width, label
		FROM recordings ORDER BY started_at DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recordings := []Recording{}
	for rows.Next() {
		var (
			rec            Recording
			started, ended string
		)
		if err := rows.Scan(&rec.ID, &started, &ended, &rec.Width, &rec.Label); err != nil {
			return nil, err
		}
		if rec.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if rec.EndedAt, err = parseTime(ended); err != nil {
			return nil, err
		}
		recordings = append(recordings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recordings, nil
}

// Recording loads one recording with its points.
func (db *DB) Recording(id string) (Recording, error) {
	var (
		rec            Recording
		started, ended string
		payload        string
	)
	err := db.QueryRow(
		`SELECT recording_id, started_at, ended_at, width, label, spectrum_json
		FROM recordings WHERE recording_id = ?`, id,
	).Scan(&rec.ID, &started, &ended, &rec.Width, &rec.Label, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Recording{}, err
	}
	if rec.StartedAt, err = parseTime(started); err != nil {
		return Recording{}, err
	}
	if rec.EndedAt, err = parseTime(ended); err != nil {
		return Recording{}, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Points); err != nil {
		return Recording{}, fmt.Errorf("failed to decode recording %s: %w", id, err)
	}
	return rec, nil
}

// DeleteRecording removes a recording.
func (db *DB) DeleteRecording(id string) error {
	res, err := db.Exec(`DELETE FROM recordings WHERE recording_id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("recording %s: %w", id, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}
