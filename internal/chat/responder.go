// Package chat answers analyst questions about the live alert picture.
// The default responder is fully offline and deterministic: it leans on
// the ATT&CK classifier, the risk scorer, and recent incident context.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/memory"
	"github.com/hdnguyen/soc-sentinel/internal/mitre"
	"github.com/hdnguyen/soc-sentinel/internal/risk"
	"github.com/hdnguyen/soc-sentinel/internal/store"
)

// Reply is one assistant answer.
type Reply struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// Responder produces an answer for one analyst message.
type Responder interface {
	Respond(ctx context.Context, sessionID, message string) (*Reply, error)
}

// Assistant is the offline responder. Conversations are tracked in a
// memory.Store; every exchange is persisted as chat log rows.
type Assistant struct {
	classifier *mitre.Classifier
	store      *store.Store
	memory     memory.Store
	logger     *zap.Logger

	// hasAPIKey only controls the footer notice; answers are always
	// produced locally.
	hasAPIKey bool
}

// NewAssistant assembles the offline responder.
func NewAssistant(classifier *mitre.Classifier, st *store.Store, mem memory.Store, hasAPIKey bool, logger *zap.Logger) *Assistant {
	return &Assistant{
		classifier: classifier,
		store:      st,
		memory:     mem,
		logger:     logger,
		hasAPIKey:  hasAPIKey,
	}
}

// Respond answers message within the given session. An empty sessionID
// starts a new session.
func (a *Assistant) Respond(ctx context.Context, sessionID, message string) (*Reply, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	history, err := a.memory.History(ctx, sessionID)
	if err != nil {
		a.logger.Warn("Chat history unavailable", zap.Error(err))
	}

	answer := a.compose(ctx, message, history)

	if err := a.memory.AddTurn(ctx, sessionID, memory.Turn{Role: "user", Content: message}); err != nil {
		a.logger.Warn("Recording user turn failed", zap.Error(err))
	}
	if err := a.memory.AddTurn(ctx, sessionID, memory.Turn{Role: "assistant", Content: answer}); err != nil {
		a.logger.Warn("Recording assistant turn failed", zap.Error(err))
	}

	a.persistExchange(ctx, sessionID, message, answer)

	return &Reply{SessionID: sessionID, Answer: answer}, nil
}

func (a *Assistant) persistExchange(ctx context.Context, sessionID, message, answer string) {
	now := time.Now().UTC()
	rows := []store.ChatLogRecord{
		{ID: uuid.NewString(), SessionID: sessionID, Role: "user", Content: message, CreatedAt: now},
		{ID: uuid.NewString(), SessionID: sessionID, Role: "assistant", Content: answer, CreatedAt: now},
	}
	for i := range rows {
		if err := a.store.InsertChatLog(ctx, &rows[i]); err != nil {
			a.logger.Warn("Persisting chat log failed", zap.Error(err))
			return
		}
	}
}

// compose builds the answer from the classifier and recent incidents.
func (a *Assistant) compose(ctx context.Context, message string, history []memory.Turn) string {
	var b strings.Builder

	match := a.classifier.Classify(message)
	if match != nil {
		b.WriteString("This maps to ATT&CK technique ")
		b.WriteString(mitre.ContextString(match))
		b.WriteString(".\n")

		score := risk.Score(riskSeverityForTactic(match.Tactic), "manual", match)
		fmt.Fprintf(&b, "Estimated risk if observed live: %.2f (%s).\n", score, risk.Label(score))

		if match.Description != "" {
			b.WriteString(match.Description)
			b.WriteString("\n")
		}
		b.WriteString("Recommended next step: propose remediation from the incident view. ")
		b.WriteString("APPROVAL REQUIRED before any action runs; everything executes in simulation unless real mode is enabled.\n")
	} else {
		b.WriteString("I could not map that to a known ATT&CK technique. ")
		b.WriteString("Try naming the observed behavior (e.g. \"brute force\", \"port scan\", \"lateral movement\").\n")
	}

	if recent, err := a.store.RecentIncidentTitles(ctx, 3); err == nil && len(recent) > 0 {
		b.WriteString("\nLatest incidents:\n")
		for _, inc := range recent {
			fmt.Fprintf(&b, "- [%s] %s\n", inc.Severity, inc.Title)
		}
	}

	if len(history) > 0 {
		fmt.Fprintf(&b, "\n(Context retained: %d prior turns in this session.)", len(history))
	}
	if !a.hasAPIKey {
		b.WriteString("\n\nNote: running in offline mode. Connect an API key to enable richer analyst answers.")
	}

	return strings.TrimSpace(b.String())
}

// riskSeverityForTactic picks a representative severity so the scorer
// can give a meaningful estimate for hypothetical questions.
func riskSeverityForTactic(tactic string) string {
	switch tactic {
	case "Impact", "Exfiltration", "Command and Control":
		return "CRITICAL"
	case "Lateral Movement", "Credential Access", "Execution":
		return "HIGH"
	case "Initial Access":
		return "MEDIUM"
	default:
		return "LOW"
	}
}
