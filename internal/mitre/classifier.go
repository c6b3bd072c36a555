// Package mitre classifies alert text against the MITRE ATT&CK dataset.
//
// Load strategy, in priority order:
//  1. STIX 2 enterprise-attack bundle, when present on disk. Most
//     up-to-date; keywords are derived from each technique's name and
//     the first sentence of its description.
//  2. Local JSON keyword store, always bundled, no external deps.
//
// The corpus is held in memory for the process lifetime. When neither
// dataset loads the classifier degrades to a no-op (every Classify
// returns nil) and the service still starts.
package mitre

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const (
	localDatasetFile = "mitre_techniques.json"
	stixBundleFile   = "enterprise-attack.json"

	// Minimum keyword-overlap score for a match to be reported.
	matchThreshold = 0.15

	maxDescriptionLen = 300
	maxDescKeywords   = 10
)

// Technique is one ATT&CK technique with its matching keywords.
type Technique struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Tactic      string   `json:"tactic"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// Match is the best-scoring technique for a piece of text.
type Match struct {
	TechniqueID   string  `json:"technique_id"`
	TechniqueName string  `json:"technique_name"`
	Tactic        string  `json:"tactic"`
	Description   string  `json:"description"`
	Confidence    float64 `json:"confidence"`
}

// Classifier scores text by keyword overlap against the loaded corpus.
type Classifier struct {
	techniques []Technique
	// Word-boundary patterns, one slice per technique, compiled once
	// at load so Classify stays allocation-light.
	patterns [][]*regexp.Regexp
	logger   *zap.Logger
}

// NewClassifier loads the technique corpus from dataDir.
func NewClassifier(dataDir string, logger *zap.Logger) *Classifier {
	techniques := loadTechniquesSTIX(filepath.Join(dataDir, stixBundleFile), logger)
	if len(techniques) == 0 {
		techniques = loadTechniquesLocal(filepath.Join(dataDir, localDatasetFile), logger)
	}
	if len(techniques) == 0 {
		logger.Error("No MITRE dataset available; classifier is a no-op")
	}

	c := &Classifier{
		techniques: techniques,
		patterns:   make([][]*regexp.Regexp, len(techniques)),
		logger:     logger,
	}
	for i, t := range techniques {
		pats := make([]*regexp.Regexp, 0, len(t.Keywords))
		for _, kw := range t.Keywords {
			pats = append(pats, regexp.MustCompile(`\b`+regexp.QuoteMeta(kw)+`\b`))
		}
		c.patterns[i] = pats
	}
	return c
}

// Classify scores every technique against text and returns the best
// match above the confidence threshold, or nil. Deterministic: ties go
// to the first technique encountered.
func (c *Classifier) Classify(text string) *Match {
	if text == "" || len(c.techniques) == 0 {
		return nil
	}

	lower := strings.ToLower(text)
	bestScore := 0.0
	bestIdx := -1

	for i, t := range c.techniques {
		if len(t.Keywords) == 0 {
			continue
		}
		hits := 0
		for _, pat := range c.patterns[i] {
			if pat.MatchString(lower) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / max(float64(len(t.Keywords))*0.4, 1)
		if score > 1.0 {
			score = 1.0
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx < 0 || bestScore < matchThreshold {
		return nil
	}
	best := c.techniques[bestIdx]
	return &Match{
		TechniqueID:   best.ID,
		TechniqueName: best.Name,
		Tactic:        best.Tactic,
		Description:   best.Description,
		Confidence:    round3(bestScore),
	}
}

// TechniqueByID retrieves full technique data by T-code (e.g. "T1595").
func (c *Classifier) TechniqueByID(id string) *Technique {
	for i := range c.techniques {
		if strings.EqualFold(c.techniques[i].ID, id) {
			return &c.techniques[i]
		}
	}
	return nil
}

// Techniques returns the full loaded corpus.
func (c *Classifier) Techniques() []Technique {
	return c.techniques
}

// ContextString builds a concise ATT&CK context line for chat replies.
func ContextString(m *Match) string {
	return fmt.Sprintf("[%s] %s (Tactic: %s, Confidence: %.0f%%)",
		m.TechniqueID, m.TechniqueName, m.Tactic, m.Confidence*100)
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

// =============================================================================
// Dataset loaders
// =============================================================================

func loadTechniquesLocal(path string, logger *zap.Logger) []Technique {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("Failed to read local MITRE dataset",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil
	}
	var techniques []Technique
	if err := json.Unmarshal(data, &techniques); err != nil {
		logger.Error("Failed to parse local MITRE dataset", zap.Error(err))
		return nil
	}
	logger.Info("Loaded MITRE techniques from local dataset",
		zap.Int("count", len(techniques)),
	)
	return techniques
}

// Subset of the STIX 2 bundle schema needed to extract techniques.
type stixBundle struct {
	Objects []stixObject `json:"objects"`
}

type stixObject struct {
	Type            string          `json:"type"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Revoked         bool            `json:"revoked"`
	Deprecated      bool            `json:"x_mitre_deprecated"`
	KillChainPhases []stixPhase     `json:"kill_chain_phases"`
	ExternalRefs    []stixReference `json:"external_references"`
}

type stixPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

type stixReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
}

var (
	reNameToken = regexp.MustCompile(`\b[a-z]{3,}\b`)
	reDescToken = regexp.MustCompile(`\b[a-z]{4,}\b`)
)

// loadTechniquesSTIX converts attack-pattern objects from a local STIX 2
// bundle into the same keyword form the local store uses, so Classify is
// unchanged. Returns nil when the bundle is absent or unreadable.
func loadTechniquesSTIX(path string, logger *zap.Logger) []Technique {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("STIX bundle unreadable; falling back to local dataset",
				zap.Error(err),
			)
		}
		return nil
	}

	var bundle stixBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		logger.Error("STIX bundle parse failed; falling back to local dataset",
			zap.Error(err),
		)
		return nil
	}

	var techniques []Technique
	for _, obj := range bundle.Objects {
		if obj.Type != "attack-pattern" || obj.Revoked || obj.Deprecated {
			continue
		}
		id := ""
		for _, ref := range obj.ExternalRefs {
			if ref.SourceName == "mitre-attack" {
				id = ref.ExternalID
				break
			}
		}
		if id == "" {
			continue
		}

		tactic := "Unknown"
		if len(obj.KillChainPhases) > 0 {
			tactic = titleCase(strings.ReplaceAll(obj.KillChainPhases[0].PhaseName, "-", " "))
		}

		desc := obj.Description
		if len(desc) > maxDescriptionLen {
			desc = desc[:maxDescriptionLen]
		}

		techniques = append(techniques, Technique{
			ID:          id,
			Name:        obj.Name,
			Tactic:      tactic,
			Description: desc,
			Keywords:    deriveKeywords(obj.Name, obj.Description),
		})
	}

	if len(techniques) > 0 {
		logger.Info("Loaded MITRE techniques from STIX bundle",
			zap.Int("count", len(techniques)),
		)
	}
	return techniques
}

// deriveKeywords builds an ordered, deduplicated keyword list from the
// technique name plus the first sentence of its description.
func deriveKeywords(name, description string) []string {
	tokens := reNameToken.FindAllString(strings.ToLower(name), -1)

	firstSentence, _, _ := strings.Cut(description, ".")
	descTokens := reDescToken.FindAllString(strings.ToLower(firstSentence), -1)
	if len(descTokens) > maxDescKeywords {
		descTokens = descTokens[:maxDescKeywords]
	}
	tokens = append(tokens, descTokens...)

	seen := make(map[string]struct{}, len(tokens))
	keywords := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
