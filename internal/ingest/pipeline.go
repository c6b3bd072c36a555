// Package ingest runs the alert pipeline: parse, classify, score,
// persist, broadcast.
package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/hub"
	"github.com/hdnguyen/soc-sentinel/internal/mitre"
	"github.com/hdnguyen/soc-sentinel/internal/observability"
	"github.com/hdnguyen/soc-sentinel/internal/parser"
	"github.com/hdnguyen/soc-sentinel/internal/risk"
	"github.com/hdnguyen/soc-sentinel/internal/store"
)

// Pipeline wires the ingest stages together. One instance serves all
// sources concurrently; every stage is safe for concurrent use.
type Pipeline struct {
	classifier *mitre.Classifier
	store      *store.Store
	hub        *hub.Hub
	telemetry  *observability.Telemetry
	logger     *zap.Logger
}

// New assembles a pipeline.
func New(classifier *mitre.Classifier, st *store.Store, h *hub.Hub, tel *observability.Telemetry) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		store:      st,
		hub:        h,
		telemetry:  tel,
		logger:     tel.Logger(),
	}
}

// Ingest processes one raw log entry end to end and returns the stored
// incident. A database failure is logged and counted but does not stop
// the broadcast: live visibility is worth more than strict persistence.
func (p *Pipeline) Ingest(ctx context.Context, raw, sourceHint string) (*store.IncidentRecord, error) {
	ctx, span := p.telemetry.StartSpan(ctx, "ingest.pipeline")
	defer span.End()

	start := time.Now()
	event := parser.Parse(raw, sourceHint)
	p.observeStage("parse", start)

	start = time.Now()
	match := p.classifier.Classify(event.Title + " " + event.RawLog)
	p.observeStage("classify", start)

	score := risk.Score(event.Severity, event.Source, match)

	span.SetAttributes(
		attribute.String("incident.id", event.ID),
		attribute.String("incident.source", event.Source),
		attribute.String("incident.severity", event.Severity),
		attribute.Float64("incident.risk_score", score),
	)

	rec := recordFromEvent(event, match, score)

	start = time.Now()
	if err := p.store.InsertIncident(ctx, rec); err != nil {
		p.telemetry.RecordError(ctx, err,
			zap.String("incident_id", rec.ID),
			zap.String("stage", "persist"),
		)
		if m := p.telemetry.Metrics(); m != nil {
			m.StoreErrors.WithLabelValues("insert_incident").Inc()
		}
	} else if m := p.telemetry.Metrics(); m != nil {
		m.IncidentsSaved.Inc()
	}
	p.observeStage("persist", start)

	p.hub.Broadcast(BroadcastPayload(rec))

	if m := p.telemetry.Metrics(); m != nil {
		m.EventsIngested.WithLabelValues(rec.Source, rec.Severity).Inc()
		if match != nil {
			m.MitreMatches.WithLabelValues(match.Tactic).Inc()
		}
	}

	fields := []zap.Field{
		zap.String("incident_id", rec.ID),
		zap.String("source", rec.Source),
		zap.String("severity", rec.Severity),
		zap.Float64("risk_score", score),
	}
	if match != nil {
		fields = append(fields, zap.String("mitre_id", match.TechniqueID))
	}
	p.logger.Info("Alert ingested", fields...)

	return rec, nil
}

func (p *Pipeline) observeStage(stage string, start time.Time) {
	if m := p.telemetry.Metrics(); m != nil {
		m.IngestDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func recordFromEvent(event parser.Event, match *mitre.Match, score float64) *store.IncidentRecord {
	rec := &store.IncidentRecord{
		ID:        event.ID,
		Timestamp: event.Timestamp,
		Source:    event.Source,
		Severity:  event.Severity,
		Title:     event.Title,
		RawLog:    event.RawLog,
		RiskScore: &score,
		Status:    store.IncidentOpen,
		CreatedAt: event.Timestamp,
	}
	if event.SrcIP != "" {
		rec.SrcIP = &event.SrcIP
	}
	if event.DstIP != "" {
		rec.DstIP = &event.DstIP
	}
	if event.Port != 0 {
		rec.Port = &event.Port
	}
	if event.Protocol != "" {
		rec.Protocol = &event.Protocol
	}
	if match != nil {
		rec.MitreID = &match.TechniqueID
		rec.MitreTactic = &match.Tactic
		rec.MitreTechnique = &match.TechniqueID
		rec.MitreConfidence = &match.Confidence
	}
	return rec
}

// BroadcastPayload is the wire shape pushed to WebSocket subscribers for
// every ingested alert. Nullable enrichment fields serialize as null.
func BroadcastPayload(rec *store.IncidentRecord) map[string]any {
	return map[string]any{
		"type":             "alert",
		"id":               rec.ID,
		"source":           rec.Source,
		"severity":         rec.Severity,
		"title":            rec.Title,
		"src_ip":           deref(rec.SrcIP),
		"dst_ip":           deref(rec.DstIP),
		"port":             derefInt(rec.Port),
		"protocol":         deref(rec.Protocol),
		"raw_log":          rec.RawLog,
		"timestamp":        rec.Timestamp.UTC().Format(time.RFC3339),
		"mitre_id":         deref(rec.MitreID),
		"mitre_tactic":     deref(rec.MitreTactic),
		"mitre_technique":  deref(rec.MitreTechnique),
		"mitre_confidence": derefFloat(rec.MitreConfidence),
		"risk_score":       derefFloat(rec.RiskScore),
	}
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func derefInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func derefFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
