package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/mitre"
	"github.com/hdnguyen/soc-sentinel/internal/observability"
	"github.com/hdnguyen/soc-sentinel/internal/store"
)

// guardedNetworks are address ranges remediation must never target:
// blocking or isolating inside these would harm our own estate.
var guardedNetworks = func() []*net.IPNet {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, _ := net.ParseCIDR(c)
		nets = append(nets, n)
	}
	return nets
}()

var reIPv4 = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3})`)

// guardedAddress reports whether ip must not be targeted. Unparseable
// addresses are treated as guarded.
func guardedAddress(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	for _, n := range guardedNetworks {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// Coordinator drives the propose/approve/reject lifecycle.
type Coordinator struct {
	store      *store.Store
	classifier *mitre.Classifier
	telemetry  *observability.Telemetry
	logger     *zap.Logger

	// allowReal permits real command execution on approval. Off by
	// default; approvals then run in simulation.
	allowReal bool
}

// NewCoordinator assembles an action coordinator.
func NewCoordinator(st *store.Store, classifier *mitre.Classifier, tel *observability.Telemetry, allowReal bool) *Coordinator {
	return &Coordinator{
		store:      st,
		classifier: classifier,
		telemetry:  tel,
		logger:     tel.Logger(),
		allowReal:  allowReal,
	}
}

// Propose generates and persists pending actions for an incident.
// Returns ErrNotFound for a missing incident and ErrInvalidInput when
// the source address is missing, unparseable, or falls inside a
// guarded network.
func (c *Coordinator) Propose(ctx context.Context, incidentID, sessionID string) ([]store.ActionRecord, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "actions.propose")
	defer span.End()

	incident, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	srcIP := c.sourceAddress(incident)
	if srcIP == "" || guardedAddress(srcIP) {
		return nil, fmt.Errorf(
			"source address %q is private/reserved or not a usable IPv4 address and cannot be targeted: %w",
			srcIP, store.ErrInvalidInput)
	}

	var technique *mitre.Technique
	if incident.MitreID != nil {
		technique = c.classifier.TechniqueByID(*incident.MitreID)
	}

	proposals := Generate(incident, srcIP, technique)
	records := make([]store.ActionRecord, 0, len(proposals))
	now := time.Now().UTC()

	for _, p := range proposals {
		mitreCtx := p.MitreContext
		rec := store.ActionRecord{
			ID:           uuid.NewString(),
			IncidentID:   incident.ID,
			ActionType:   p.ActionType,
			Command:      p.Command,
			Description:  p.Description,
			RiskLevel:    p.RiskLevel,
			MitreContext: &mitreCtx,
			Status:       store.ActionPending,
			CreatedAt:    now,
			Simulated:    true,
		}
		if sessionID != "" {
			sid := sessionID
			rec.SessionID = &sid
		}
		if params, err := json.Marshal(p.Parameters); err == nil {
			encoded := string(params)
			rec.Parameters = &encoded
		}
		if err := c.store.InsertAction(ctx, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if m := c.telemetry.Metrics(); m != nil {
		m.ActionsProposed.Add(float64(len(records)))
	}
	c.logger.Info("Remediation actions proposed",
		zap.String("incident_id", incident.ID),
		zap.Int("count", len(records)),
	)
	return records, nil
}

// sourceAddress picks the address remediation should target: the stored
// src_ip when present, otherwise the first IPv4 literal in the raw log
// or title.
func (c *Coordinator) sourceAddress(incident *store.IncidentRecord) string {
	if incident.SrcIP != nil && *incident.SrcIP != "" {
		return *incident.SrcIP
	}
	if m := reIPv4.FindString(incident.RawLog); m != "" {
		return m
	}
	return reIPv4.FindString(incident.Title)
}

// Approve executes a pending action and records the outcome. Returns
// ErrNotFound for a missing action and ErrConflict when the action has
// already been reviewed.
func (c *Coordinator) Approve(ctx context.Context, actionID, reviewer string) (*store.ActionRecord, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "actions.approve")
	defer span.End()

	rec, err := c.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.ActionPending {
		return nil, fmt.Errorf("action %s is %s: %w", rec.ID, rec.Status, store.ErrConflict)
	}

	simulate := !c.allowReal
	start := time.Now()
	result := Execute(ctx, rec.Command, simulate)
	if m := c.telemetry.Metrics(); m != nil {
		m.ExecutionDuration.Observe(time.Since(start).Seconds())
	}

	now := time.Now().UTC()
	rec.ReviewedBy = &reviewer
	rec.ReviewedAt = &now
	rec.ExecutedAt = &now
	rec.Simulated = simulate
	rec.ExecutionOutput = &result.Output
	if result.Success {
		rec.Status = store.ActionExecuted
	} else {
		rec.Status = store.ActionFailed
	}

	if err := c.store.UpdateAction(ctx, rec); err != nil {
		return nil, err
	}

	if m := c.telemetry.Metrics(); m != nil {
		m.ActionsReviewed.WithLabelValues(rec.Status).Inc()
	}
	c.logger.Info("Remediation action reviewed",
		zap.String("action_id", rec.ID),
		zap.String("status", rec.Status),
		zap.String("reviewed_by", reviewer),
		zap.Bool("simulated", simulate),
	)
	return rec, nil
}

// Reject marks a pending action rejected with an optional reason.
func (c *Coordinator) Reject(ctx context.Context, actionID, reviewer, reason string) (*store.ActionRecord, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "actions.reject")
	defer span.End()

	rec, err := c.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.ActionPending {
		return nil, fmt.Errorf("action %s is %s: %w", rec.ID, rec.Status, store.ErrConflict)
	}

	now := time.Now().UTC()
	rec.Status = store.ActionRejected
	rec.ReviewedBy = &reviewer
	rec.ReviewedAt = &now
	if reason != "" {
		rec.RejectReason = &reason
	}

	if err := c.store.UpdateAction(ctx, rec); err != nil {
		return nil, err
	}

	if m := c.telemetry.Metrics(); m != nil {
		m.ActionsReviewed.WithLabelValues(store.ActionRejected).Inc()
	}
	c.logger.Info("Remediation action rejected",
		zap.String("action_id", rec.ID),
		zap.String("reviewed_by", reviewer),
	)
	return rec, nil
}

// List returns actions with the total count for pagination.
func (c *Coordinator) List(ctx context.Context, status string, limit, offset int) ([]store.ActionRecord, int, error) {
	recs, err := c.store.ListActions(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := c.store.CountActions(ctx, status)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}
