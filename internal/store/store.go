// Package store persists incidents, actions, and chat logs in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Sentinel errors mapped to HTTP status codes by the server layer.
var (
	ErrNotFound       = errors.New("record not found")
	ErrConflict       = errors.New("record state conflict")
	ErrInvalidInput   = errors.New("invalid input")
	ErrImmutableField = errors.New("immutable field modified")
)

// IncidentRecord is one persisted alert row.
type IncidentRecord struct {
	ID              string    `db:"id" json:"id"`
	Timestamp       time.Time `db:"timestamp" json:"timestamp"`
	Source          string    `db:"source" json:"source"`
	Severity        string    `db:"severity" json:"severity"`
	Title           string    `db:"title" json:"title"`
	RawLog          string    `db:"raw_log" json:"raw_log"`
	SrcIP           *string   `db:"src_ip" json:"src_ip"`
	DstIP           *string   `db:"dst_ip" json:"dst_ip"`
	Port            *int      `db:"port" json:"port"`
	Protocol        *string   `db:"protocol" json:"protocol"`
	MitreID         *string   `db:"mitre_id" json:"mitre_id"`
	MitreTactic     *string   `db:"mitre_tactic" json:"mitre_tactic"`
	MitreTechnique  *string   `db:"mitre_technique" json:"mitre_technique"`
	MitreConfidence *float64   `db:"mitre_confidence" json:"mitre_confidence"`
	RiskScore       *float64   `db:"risk_score" json:"risk_score"`
	Status          string     `db:"status" json:"status"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolved_at"`
}

// ActionRecord is one persisted remediation action row.
type ActionRecord struct {
	ID              string     `db:"id" json:"id"`
	IncidentID      string     `db:"incident_id" json:"incident_id"`
	SessionID       *string    `db:"session_id" json:"session_id"`
	ActionType      string     `db:"action_type" json:"action_type"`
	Command         string     `db:"command" json:"command"`
	Parameters      *string    `db:"parameters" json:"parameters"`
	Description     string     `db:"description" json:"description"`
	RiskLevel       string     `db:"risk_level" json:"risk_level"`
	MitreContext    *string    `db:"mitre_context" json:"mitre_context"`
	Status          string     `db:"status" json:"status"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	ReviewedBy      *string    `db:"reviewed_by" json:"reviewed_by"`
	ReviewedAt      *time.Time `db:"reviewed_at" json:"reviewed_at"`
	ExecutedAt      *time.Time `db:"executed_at" json:"executed_at"`
	Simulated       bool       `db:"simulated" json:"simulated"`
	ExecutionOutput *string    `db:"execution_output" json:"execution_output"`
	RejectReason    *string    `db:"reject_reason" json:"reject_reason"`
}

// ChatLogRecord is one persisted assistant exchange.
type ChatLogRecord struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Action lifecycle states.
const (
	ActionPending  = "pending"
	ActionExecuted = "executed"
	ActionFailed   = "failed"
	ActionRejected = "rejected"
)

// Incident lifecycle states.
const (
	IncidentOpen     = "open"
	IncidentResolved = "resolved"
)

// Store wraps the database handle with typed accessors.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New wraps an existing handle; used by tests with sqlmock.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("Database connected")
	return &Store{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// One statement per entry: the pgx driver's default exec mode does not
// accept multi-statement strings.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS incident_logs (
    id               TEXT PRIMARY KEY,
    timestamp        TIMESTAMPTZ NOT NULL,
    source           TEXT NOT NULL,
    severity         TEXT NOT NULL,
    title            TEXT NOT NULL,
    raw_log          TEXT NOT NULL,
    src_ip           TEXT,
    dst_ip           TEXT,
    port             INTEGER,
    protocol         TEXT,
    mitre_id         TEXT,
    mitre_tactic     TEXT,
    mitre_technique  TEXT,
    mitre_confidence DOUBLE PRECISION,
    risk_score       DOUBLE PRECISION,
    status           TEXT NOT NULL DEFAULT 'open',
    created_at       TIMESTAMPTZ NOT NULL,
    resolved_at      TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS idx_incident_logs_timestamp ON incident_logs (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_incident_logs_severity ON incident_logs (severity)`,
	`CREATE TABLE IF NOT EXISTS response_actions (
    id               TEXT PRIMARY KEY,
    incident_id      TEXT NOT NULL REFERENCES incident_logs (id),
    session_id       TEXT,
    action_type      TEXT NOT NULL,
    command          TEXT NOT NULL,
    parameters       TEXT,
    description      TEXT NOT NULL,
    risk_level       TEXT NOT NULL,
    mitre_context    TEXT,
    status           TEXT NOT NULL DEFAULT 'pending',
    created_at       TIMESTAMPTZ NOT NULL,
    reviewed_by      TEXT,
    reviewed_at      TIMESTAMPTZ,
    executed_at      TIMESTAMPTZ,
    simulated        BOOLEAN NOT NULL DEFAULT TRUE,
    execution_output TEXT,
    reject_reason    TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_response_actions_status ON response_actions (status)`,
	`CREATE TABLE IF NOT EXISTS chat_logs (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_logs_session ON chat_logs (session_id)`,
}

// Database-level backstop for the provenance fields the application
// layer already refuses to change.
var immutabilityDDL = []string{
	`CREATE OR REPLACE FUNCTION reject_action_provenance_change() RETURNS trigger AS $$
BEGIN
    IF NEW.created_at IS DISTINCT FROM OLD.created_at
       OR NEW.command IS DISTINCT FROM OLD.command
       OR NEW.action_type IS DISTINCT FROM OLD.action_type THEN
        RAISE EXCEPTION 'action provenance fields are immutable';
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS trg_action_provenance ON response_actions`,
	`CREATE TRIGGER trg_action_provenance
    BEFORE UPDATE ON response_actions
    FOR EACH ROW EXECUTE FUNCTION reject_action_provenance_change()`,
}

// CreateTables applies the schema. Idempotent.
func (s *Store) CreateTables(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}
	for _, stmt := range immutabilityDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("installing immutability trigger: %w", err)
		}
	}
	s.logger.Info("Database schema ready")
	return nil
}
