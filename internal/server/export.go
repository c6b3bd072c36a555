package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/store"
)

const exportBatchSize = 100

// handleExportIncidents streams the full incident table as CSV, one
// batch at a time so large tables never load into memory.
func (s *Server) handleExportIncidents(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="incidents.csv"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{
		"id", "timestamp", "source", "severity", "title", "src_ip", "dst_ip",
		"port", "protocol", "mitre_id", "mitre_tactic", "mitre_technique",
		"mitre_confidence", "risk_score", "status", "created_at", "resolved_at",
	})

	err := s.store.IterIncidents(c.Request.Context(), exportBatchSize, func(batch []store.IncidentRecord) error {
		for _, rec := range batch {
			if err := w.Write([]string{
				rec.ID,
				rec.Timestamp.UTC().Format(time.RFC3339),
				rec.Source,
				rec.Severity,
				rec.Title,
				strOrEmpty(rec.SrcIP),
				strOrEmpty(rec.DstIP),
				intOrEmpty(rec.Port),
				strOrEmpty(rec.Protocol),
				strOrEmpty(rec.MitreID),
				strOrEmpty(rec.MitreTactic),
				strOrEmpty(rec.MitreTechnique),
				floatOrEmpty(rec.MitreConfidence),
				floatOrEmpty(rec.RiskScore),
				rec.Status,
				rec.CreatedAt.UTC().Format(time.RFC3339),
				timeOrEmpty(rec.ResolvedAt),
			}); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
	if err != nil {
		s.logger.Error("Incident export failed", zap.Error(err))
		return
	}
	w.Flush()
}

// handleExportActions streams the full action table as CSV.
func (s *Server) handleExportActions(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="actions.csv"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{
		"id", "incident_id", "session_id", "action_type", "command", "parameters",
		"description", "risk_level", "status", "created_at", "reviewed_by",
		"reviewed_at", "executed_at", "simulated", "execution_output", "reject_reason",
	})

	err := s.store.IterActions(c.Request.Context(), exportBatchSize, func(batch []store.ActionRecord) error {
		for _, rec := range batch {
			if err := w.Write([]string{
				rec.ID,
				rec.IncidentID,
				strOrEmpty(rec.SessionID),
				rec.ActionType,
				rec.Command,
				strOrEmpty(rec.Parameters),
				rec.Description,
				rec.RiskLevel,
				rec.Status,
				rec.CreatedAt.UTC().Format(time.RFC3339),
				strOrEmpty(rec.ReviewedBy),
				timeOrEmpty(rec.ReviewedAt),
				timeOrEmpty(rec.ExecutedAt),
				strconv.FormatBool(rec.Simulated),
				strOrEmpty(rec.ExecutionOutput),
				strOrEmpty(rec.RejectReason),
			}); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
	if err != nil {
		s.logger.Error("Action export failed", zap.Error(err))
		return
	}
	w.Flush()
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrEmpty(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func floatOrEmpty(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *f)
}

func timeOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
