package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const incidentColumns = `id, timestamp, source, severity, title, raw_log, src_ip, dst_ip,
	port, protocol, mitre_id, mitre_tactic, mitre_technique, mitre_confidence, risk_score,
	status, created_at, resolved_at`

// InsertIncident persists a new incident row.
func (s *Store) InsertIncident(ctx context.Context, rec *IncidentRecord) error {
	if rec.Status == "" {
		rec.Status = IncidentOpen
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO incident_logs (`+incidentColumns+`)
		VALUES (:id, :timestamp, :source, :severity, :title, :raw_log, :src_ip, :dst_ip,
			:port, :protocol, :mitre_id, :mitre_tactic, :mitre_technique, :mitre_confidence,
			:risk_score, :status, :created_at, :resolved_at)`, rec)
	if err != nil {
		return fmt.Errorf("inserting incident: %w", err)
	}
	return nil
}

// GetIncident fetches one incident by ID.
func (s *Store) GetIncident(ctx context.Context, id string) (*IncidentRecord, error) {
	var rec IncidentRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT `+incidentColumns+` FROM incident_logs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching incident: %w", err)
	}
	return &rec, nil
}

// ListIncidents returns the newest incidents first, optionally filtered
// by severity and status.
func (s *Store) ListIncidents(ctx context.Context, limit int, severity, status string) ([]IncidentRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + incidentColumns + ` FROM incident_logs`
	var clauses []string
	var args []any
	if severity != "" {
		args = append(args, strings.ToUpper(severity))
		clauses = append(clauses, fmt.Sprintf("severity = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	recs := []IncidentRecord{}
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("listing incidents: %w", err)
	}
	return recs, nil
}

// ResolveIncident flips an open incident to resolved, stamping the
// resolution time.
func (s *Store) ResolveIncident(ctx context.Context, id string) (*IncidentRecord, error) {
	rec, err := s.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == IncidentResolved {
		return nil, fmt.Errorf("incident %s already resolved: %w", id, ErrConflict)
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE incident_logs SET status = $1, resolved_at = $2 WHERE id = $3`,
		IncidentResolved, now, id); err != nil {
		return nil, fmt.Errorf("resolving incident: %w", err)
	}
	rec.Status = IncidentResolved
	rec.ResolvedAt = &now
	return rec, nil
}

// RecentIncidentTitles returns up to n newest incident titles with their
// severities, for assistant context.
func (s *Store) RecentIncidentTitles(ctx context.Context, n int) ([]IncidentRecord, error) {
	if n <= 0 {
		n = 5
	}
	recs := []IncidentRecord{}
	err := s.db.SelectContext(ctx, &recs,
		`SELECT `+incidentColumns+` FROM incident_logs ORDER BY timestamp DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("fetching recent incidents: %w", err)
	}
	return recs, nil
}

// IterIncidents streams all incidents oldest-first in fixed-size batches
// so exports never hold the full table in memory.
func (s *Store) IterIncidents(ctx context.Context, batchSize int, fn func([]IncidentRecord) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	offset := 0
	for {
		recs := []IncidentRecord{}
		err := s.db.SelectContext(ctx, &recs,
			`SELECT `+incidentColumns+` FROM incident_logs ORDER BY timestamp ASC LIMIT $1 OFFSET $2`,
			batchSize, offset)
		if err != nil {
			return fmt.Errorf("iterating incidents: %w", err)
		}
		if len(recs) == 0 {
			return nil
		}
		if err := fn(recs); err != nil {
			return err
		}
		if len(recs) < batchSize {
			return nil
		}
		offset += batchSize
	}
}
