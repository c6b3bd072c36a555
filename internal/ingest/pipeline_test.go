package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/hub"
	"github.com/hdnguyen/soc-sentinel/internal/mitre"
	"github.com/hdnguyen/soc-sentinel/internal/observability"
	"github.com/hdnguyen/soc-sentinel/internal/store"
)

const signatureAlert = `01/15-09:12:04.120334 [**] [1:2001219:20] ET POLICY SSH Brute Force Attempt Multiple Failures [**] [Classification: Attempted Administrator Privilege Gain] [Priority: 2] {TCP} 45.148.10.87:52811 -> 192.168.1.10:22`

func testClassifier(t *testing.T) *mitre.Classifier {
	t.Helper()
	dir := t.TempDir()
	dataset := []mitre.Technique{{
		ID: "T1110", Name: "Brute Force", Tactic: "Credential Access",
		Description: "Password guessing against accounts.",
		Keywords:    []string{"brute", "force", "password", "failures"},
	}}
	data, err := json.Marshal(dataset)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mitre_techniques.json"), data, 0o644))
	return mitre.NewClassifier(dir, zap.NewNop())
}

func testPipeline(t *testing.T) (*Pipeline, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(sqlx.NewDb(db, "pgx"), zap.NewNop())

	tel, err := observability.New(observability.Config{
		ServiceName: "test", LogLevel: "error", LogFormat: "json",
	})
	require.NoError(t, err)

	h := hub.New(zap.NewNop(), nil)
	return New(testClassifier(t), st, h, tel), mock
}

func TestIngestEndToEnd(t *testing.T) {
	p, mock := testPipeline(t)
	mock.ExpectExec("(?s)INSERT INTO incident_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := p.Ingest(context.Background(), signatureAlert, "")
	require.NoError(t, err)

	assert.Equal(t, "signature_ids", rec.Source)
	assert.Equal(t, "HIGH", rec.Severity)
	require.NotNil(t, rec.MitreID)
	assert.Equal(t, "T1110", *rec.MitreID)
	require.NotNil(t, rec.MitreTechnique)
	assert.Equal(t, "T1110", *rec.MitreTechnique)
	require.NotNil(t, rec.RiskScore)
	assert.Greater(t, *rec.RiskScore, 0.0)
	assert.Equal(t, store.IncidentOpen, rec.Status)
	assert.Equal(t, rec.Timestamp, rec.CreatedAt)
	assert.Nil(t, rec.ResolvedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestSurvivesStoreFailure(t *testing.T) {
	p, mock := testPipeline(t)
	mock.ExpectExec("(?s)INSERT INTO incident_logs").
		WillReturnError(assert.AnError)

	// Persistence failure is logged, not fatal: the alert still flows.
	rec, err := p.Ingest(context.Background(), signatureAlert, "")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
}

func TestBroadcastPayloadShape(t *testing.T) {
	srcIP := "45.148.10.87"
	mitreID := "T1110"
	score := 7.9
	rec := &store.IncidentRecord{
		ID:        "inc-1",
		Timestamp: time.Date(2026, 1, 15, 9, 12, 4, 0, time.UTC),
		Source:    "signature_ids",
		Severity:  "HIGH",
		Title:     "Brute force",
		RawLog:    "raw",
		SrcIP:     &srcIP,
		MitreID:   &mitreID,
		RiskScore: &score,
	}

	payload := BroadcastPayload(rec)
	assert.Equal(t, "alert", payload["type"])
	assert.Equal(t, "inc-1", payload["id"])
	assert.Equal(t, "45.148.10.87", payload["src_ip"])
	assert.Equal(t, "2026-01-15T09:12:04Z", payload["timestamp"])
	assert.Equal(t, 7.9, payload["risk_score"])
	// Absent enrichment serializes as null, not omitted.
	assert.Contains(t, payload, "mitre_tactic")
	assert.Nil(t, payload["mitre_tactic"])
	assert.Nil(t, payload["dst_ip"])
	assert.Nil(t, payload["port"])

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mitre_tactic":null`)
}

func TestRecordFromEventOmitsEmptyFields(t *testing.T) {
	p, mock := testPipeline(t)
	mock.ExpectExec("(?s)INSERT INTO incident_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := p.Ingest(context.Background(), "nothing interesting here", "manual")
	require.NoError(t, err)

	assert.Nil(t, rec.SrcIP)
	assert.Nil(t, rec.Port)
	assert.Nil(t, rec.MitreID)
	assert.Equal(t, "manual", rec.Source)
}
