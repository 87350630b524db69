package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/spectro.cam/internal/frame"
	"github.com/banshee-data/spectro.cam/internal/reference"
)

// StoredReference names a saved reference curve.
type StoredReference struct {
	Name   string  `json:"name"`
	Scale  float64 `json:"scale"`
	Points int     `json:"points"`
}

// SaveReference stores ref under name, replacing any curve of that name.
func (db *DB) SaveReference(name string, ref reference.Config) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("reference name is required")
	}
	if !ref.Loaded() {
		return reference.ErrNoReference
	}
	payload, err := json.Marshal(ref.Reference)
	if err != nil {
		return fmt.Errorf("failed to encode reference: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO reference_curves (name, scale, points_json, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			scale = excluded.scale,
			points_json = excluded.points_json,
			updated_at = excluded.updated_at`,
		name, ref.Scale, string(payload),
	)
	return err
}

// LoadReference returns the curve stored under name.
func (db *DB) LoadReference(name string) (reference.Config, error) {
	var (
		cfg     reference.Config
		payload string
	)
	err := db.QueryRow(`SELECT scale, points_json FROM reference_curves WHERE name = ?`, name).
		Scan(&cfg.Scale, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return reference.Config{}, fmt.Errorf("reference %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return reference.Config{}, err
	}
	var points []frame.SpectrumPoint
	if err := json.Unmarshal([]byte(payload), &points); err != nil {
		return reference.Config{}, fmt.Errorf("failed to decode reference %q: %w", name, err)
	}
	cfg.Set(points)
	return cfg, nil
}

// References lists stored curves by name.
func (db *DB) References() ([]StoredReference, error) {
	rows, err := db.Query(`SELECT name, scale, points_json FROM reference_curves ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := []StoredReference{}
	for rows.Next() {
		var (
			ref     StoredReference
			payload string
		)
		if err := rows.Scan(&ref.Name, &ref.Scale, &payload); err != nil {
			return nil, err
		}
		var points []frame.SpectrumPoint
		if err := json.Unmarshal([]byte(payload), &points); err != nil {
			return nil, fmt.Errorf("failed to decode reference %q: %w", ref.Name, err)
		}
		ref.Points = len(points)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteReference removes a stored curve.
func (db *DB) DeleteReference(name string) error {
	res, err := db.Exec(`DELETE FROM reference_curves WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("reference %q: %w", name, ErrNotFound)
	}
	return nil
}
