// Package scenario replays curated attack scenarios through the ingest
// pipeline for demos and detection testing.
package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/sources"
)

var (
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrAlreadyRunning  = errors.New("a scenario is already running")
	ErrNotRunning      = errors.New("no scenario is running")
)

const (
	scenarioFile = "attack_scenarios.json"
	stopGrace    = 2 * time.Second
)

// Scenario is one replayable attack storyline: an ordered sequence of
// raw log lines spread over a target duration.
type Scenario struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	MitreTactics []string `json:"mitre_tactics"`
	Severity     string   `json:"severity"`
	Duration     float64  `json:"duration_seconds"`
	LogSequence  []string `json:"log_sequence"`
}

// Summary is the list-view shape exposed by the API.
type Summary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	MitreTactics []string `json:"mitre_tactics"`
	Severity     string   `json:"severity"`
	Duration     int      `json:"duration_seconds"`
	LogCount     int      `json:"log_count"`
}

// Runner loads and replays scenarios.
type Runner struct {
	scenarios []Scenario
	byID      map[string]*Scenario
	ingest    sources.IngestFunc
	logger    *zap.Logger
	rng       *rand.Rand
}

// NewRunner loads the scenario catalog from dataDir. A missing catalog
// is not fatal; the runner just has nothing to replay.
func NewRunner(dataDir string, ingest sources.IngestFunc, logger *zap.Logger) *Runner {
	r := &Runner{
		byID:   make(map[string]*Scenario),
		ingest: ingest,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	path := filepath.Join(dataDir, scenarioFile)
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Scenario catalog unavailable",
			zap.String("path", path),
			zap.Error(err),
		)
		return r
	}
	if err := json.Unmarshal(data, &r.scenarios); err != nil {
		logger.Error("Scenario catalog parse failed", zap.Error(err))
		return r
	}
	for i := range r.scenarios {
		r.byID[r.scenarios[i].ID] = &r.scenarios[i]
	}
	logger.Info("Scenario catalog loaded", zap.Int("count", len(r.scenarios)))
	return r
}

// List returns summaries of every loaded scenario.
func (r *Runner) List() []Summary {
	out := make([]Summary, 0, len(r.scenarios))
	for _, sc := range r.scenarios {
		out = append(out, Summary{
			ID:           sc.ID,
			Name:         sc.Name,
			Description:  sc.Description,
			MitreTactics: sc.MitreTactics,
			Severity:     sc.Severity,
			Duration:     int(sc.Duration),
			LogCount:     len(sc.LogSequence),
		})
	}
	return out
}

// Get returns the scenario with the given ID, or nil.
func (r *Runner) Get(id string) *Scenario {
	return r.byID[id]
}

// Run replays sc until all log lines are sent or ctx is cancelled.
// Lines are spaced evenly across the scenario duration with ±20%
// jitter so replays don't look metronomic.
func (r *Runner) Run(ctx context.Context, sc *Scenario) {
	interval := time.Duration(sc.Duration / float64(maxInt(len(sc.LogSequence), 1)) * float64(time.Second))

	r.logger.Info("Scenario replay starting",
		zap.String("scenario_id", sc.ID),
		zap.String("name", sc.Name),
		zap.Int("log_lines", len(sc.LogSequence)),
		zap.Duration("interval", interval),
	)

	for i, entry := range sc.LogSequence {
		if ctx.Err() != nil {
			r.logger.Info("Scenario replay cancelled",
				zap.String("scenario_id", sc.ID),
				zap.Int("sent", i),
			)
			return
		}
		r.ingest(ctx, entry, formatHint(entry))

		jittered := time.Duration(float64(interval) * (0.8 + r.rng.Float64()*0.4))
		select {
		case <-ctx.Done():
		case <-time.After(jittered):
		}
	}

	r.logger.Info("Scenario replay finished", zap.String("scenario_id", sc.ID))
}

// formatHint tells the parser which dialect a replayed line is written
// in: signature-IDS alerts carry the [**] marker, everything else in
// the catalog is host-IDS shaped.
func formatHint(line string) string {
	if strings.Contains(line, "[**]") {
		return "signature_ids"
	}
	return "host_ids"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// =============================================================================
// Coordinator: single-flight replay slot
// =============================================================================

// Coordinator serializes replays: at most one scenario runs at a time.
// Replays are bound to the coordinator's base context, not the request
// that started them.
type Coordinator struct {
	baseCtx context.Context
	runner  *Runner
	logger  *zap.Logger
	onStart func(scenarioID string)
	onDone  func(scenarioID string, outcome string)

	mu        sync.Mutex
	activeID  string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewCoordinator wraps runner. The optional callbacks observe replay
// lifecycle (metrics hookup).
func NewCoordinator(baseCtx context.Context, runner *Runner, logger *zap.Logger, onStart func(string), onDone func(string, string)) *Coordinator {
	return &Coordinator{
		baseCtx: baseCtx,
		runner:  runner,
		logger:  logger,
		onStart: onStart,
		onDone:  onDone,
	}
}

// List returns summaries of the loaded catalog.
func (c *Coordinator) List() []Summary {
	return c.runner.List()
}

// Status describes the replay slot.
type Status struct {
	Running    bool    `json:"running"`
	ScenarioID string  `json:"scenario_id,omitempty"`
	ElapsedSec float64 `json:"elapsed_seconds,omitempty"`
}

// Start begins replaying id in the background. Returns
// ErrUnknownScenario or ErrAlreadyRunning on conflict.
func (c *Coordinator) Start(id string) error {
	sc := c.runner.Get(id)
	if sc == nil {
		return fmt.Errorf("scenario %q: %w", id, ErrUnknownScenario)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID != "" {
		return fmt.Errorf("scenario %q active: %w", c.activeID, ErrAlreadyRunning)
	}

	runCtx, cancel := context.WithCancel(c.baseCtx)
	done := make(chan struct{})
	c.activeID = id
	c.startedAt = time.Now()
	c.cancel = cancel
	c.done = done

	if c.onStart != nil {
		c.onStart(id)
	}

	go func() {
		defer close(done)
		c.runner.Run(runCtx, sc)

		outcome := "completed"
		if runCtx.Err() != nil {
			outcome = "stopped"
		}
		c.clearSlot(done)
		if c.onDone != nil {
			c.onDone(id, outcome)
		}
	}()

	return nil
}

// clearSlot frees the replay slot if it is still held by the replay
// identified by done. The pointer comparison keeps a straggling old
// goroutine from clearing a newer replay's slot.
func (c *Coordinator) clearSlot(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == done {
		c.activeID = ""
		c.cancel = nil
		c.done = nil
	}
}

// Stop cancels the active replay and waits briefly for the replay
// goroutine to exit. A replay that overruns the grace period has its
// slot force-cleared so a new replay can start; the cancelled goroutine
// drains on its own. Returns ErrNotRunning when the slot is idle.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.activeID == "" {
		c.mu.Unlock()
		return ErrNotRunning
	}
	id := c.activeID
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(stopGrace):
		c.logger.Warn("Scenario replay did not stop within grace period, clearing slot",
			zap.String("scenario_id", id),
		)
		c.clearSlot(done)
	}
	return nil
}

// Status reports the current slot state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID == "" {
		return Status{Running: false}
	}
	return Status{
		Running:    true,
		ScenarioID: c.activeID,
		ElapsedSec: time.Since(c.startedAt).Seconds(),
	}
}
