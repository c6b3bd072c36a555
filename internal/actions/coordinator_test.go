package actions

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/mitre"
	"github.com/hdnguyen/soc-sentinel/internal/observability"
	"github.com/hdnguyen/soc-sentinel/internal/store"
)

func testTelemetry(t *testing.T) *observability.Telemetry {
	t.Helper()
	tel, err := observability.New(observability.Config{
		ServiceName: "test",
		LogLevel:    "error",
		LogFormat:   "json",
	})
	require.NoError(t, err)
	return tel
}

func newTestCoordinator(t *testing.T) (*Coordinator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(sqlx.NewDb(db, "pgx"), zap.NewNop())
	classifier := mitre.NewClassifier(t.TempDir(), zap.NewNop())
	return NewCoordinator(st, classifier, testTelemetry(t), false), mock
}

var incidentCols = []string{
	"id", "timestamp", "source", "severity", "title", "raw_log", "src_ip", "dst_ip",
	"port", "protocol", "mitre_id", "mitre_tactic", "mitre_technique",
	"mitre_confidence", "risk_score", "status", "created_at", "resolved_at",
}

func incidentRow(severity, srcIP string) *sqlmock.Rows {
	return sqlmock.NewRows(incidentCols).AddRow(
		"inc-1", time.Now().UTC(), "signature_ids", severity, "Brute force detected",
		"raw", srcIP, "192.168.1.10", 22, "TCP",
		"T1110", "Credential Access", "T1110", 0.8, 7.5, store.IncidentOpen,
		time.Now().UTC(), nil,
	)
}

var actionCols = []string{
	"id", "incident_id", "session_id", "action_type", "command", "parameters",
	"description", "risk_level", "mitre_context", "status", "created_at",
	"reviewed_by", "reviewed_at", "executed_at", "simulated", "execution_output",
	"reject_reason",
}

func actionRow(status string, createdAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(actionCols).AddRow(
		"act-1", "inc-1", nil, "run_scan", "nmap -sV -O --top-ports 1000 45.148.10.87",
		nil, "Fingerprint services", "LOW", "[T1110] Brute Force", status, createdAt,
		nil, nil, nil, true, nil, nil,
	)
}

func TestProposeUnknownIncident(t *testing.T) {
	coord, mock := newTestCoordinator(t)
	mock.ExpectQuery("(?s)SELECT .+ FROM incident_logs WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := coord.Propose(context.Background(), "missing", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProposeGuardedAddress(t *testing.T) {
	coord, mock := newTestCoordinator(t)
	mock.ExpectQuery("(?s)SELECT .+ FROM incident_logs WHERE id").
		WithArgs("inc-1").
		WillReturnRows(incidentRow("CRITICAL", "192.168.1.55"))

	_, err := coord.Propose(context.Background(), "inc-1", "")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	assert.Contains(t, err.Error(), "private/reserved")
}

func TestProposeWithoutUsableAddressIsInvalid(t *testing.T) {
	coord, mock := newTestCoordinator(t)
	// No src_ip column value and no IPv4 literal anywhere in the row.
	mock.ExpectQuery("(?s)SELECT .+ FROM incident_logs WHERE id").
		WithArgs("inc-1").
		WillReturnRows(incidentRow("CRITICAL", ""))

	_, err := coord.Propose(context.Background(), "inc-1", "")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestProposePersistsPendingActions(t *testing.T) {
	coord, mock := newTestCoordinator(t)
	mock.ExpectQuery("(?s)SELECT .+ FROM incident_logs WHERE id").
		WithArgs("inc-1").
		WillReturnRows(incidentRow("CRITICAL", "45.148.10.87"))
	// One insert per generated action; CRITICAL yields isolation plus
	// the tactic playbook.
	mock.ExpectExec("(?s)INSERT INTO response_actions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("(?s)INSERT INTO response_actions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("(?s)INSERT INTO response_actions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	recs, err := coord.Propose(context.Background(), "inc-1", "sess-9")
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, "isolate_host", recs[0].ActionType)
	for _, rec := range recs {
		assert.Equal(t, store.ActionPending, rec.Status)
		assert.True(t, rec.Simulated)
		assert.Equal(t, "inc-1", rec.IncidentID)
		require.NotNil(t, rec.SessionID)
		assert.Equal(t, "sess-9", *rec.SessionID)
		require.NotNil(t, rec.Parameters)
		assert.Contains(t, *rec.Parameters, "45.148.10.87")
	}
}

func TestApproveUnknownAction(t *testing.T) {
	coord, mock := newTestCoordinator(t)
	mock.ExpectQuery("(?s)SELECT .+ FROM response_actions WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := coord.Approve(context.Background(), "missing", "admin")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApproveAlreadyReviewed(t *testing.T) {
	coord, mock := newTestCoordinator(t)
	mock.ExpectQuery("(?s)SELECT .+ FROM response_actions WHERE id").
		WithArgs("act-1").
		WillReturnRows(actionRow(store.ActionExecuted, time.Now().UTC()))

	_, err := coord.Approve(context.Background(), "act-1", "admin")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestApproveSimulatesAndRecordsReviewer(t *testing.T) {
	coord, mock := newTestCoordinator(t)
	created := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery("(?s)SELECT .+ FROM response_actions WHERE id").
		WithArgs("act-1").
		WillReturnRows(actionRow(store.ActionPending, created))
	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FROM response_actions WHERE id = .+ FOR UPDATE").
		WithArgs("act-1").
		WillReturnRows(actionRow(store.ActionPending, created))
	mock.ExpectExec("(?s)UPDATE response_actions SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := coord.Approve(context.Background(), "act-1", "admin")
	require.NoError(t, err)
	assert.Equal(t, store.ActionExecuted, rec.Status)
	assert.True(t, rec.Simulated)
	require.NotNil(t, rec.ReviewedBy)
	assert.Equal(t, "admin", *rec.ReviewedBy)
	require.NotNil(t, rec.ExecutionOutput)
	assert.Contains(t, *rec.ExecutionOutput, "[SIMULATION]")
}

func TestRejectRecordsReason(t *testing.T) {
	coord, mock := newTestCoordinator(t)
	created := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery("(?s)SELECT .+ FROM response_actions WHERE id").
		WithArgs("act-1").
		WillReturnRows(actionRow(store.ActionPending, created))
	mock.ExpectBegin()
	mock.ExpectQuery("(?s)SELECT .+ FROM response_actions WHERE id = .+ FOR UPDATE").
		WithArgs("act-1").
		WillReturnRows(actionRow(store.ActionPending, created))
	mock.ExpectExec("(?s)UPDATE response_actions SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := coord.Reject(context.Background(), "act-1", "admin", "scope not approved")
	require.NoError(t, err)
	assert.Equal(t, store.ActionRejected, rec.Status)
	require.NotNil(t, rec.RejectReason)
	assert.Equal(t, "scope not approved", *rec.RejectReason)
}
