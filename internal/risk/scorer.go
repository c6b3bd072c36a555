// Package risk computes the composite 0–10 risk score for incidents.
//
// Formula:
//
//	score = severity_base × 0.50
//	      + mitre_confidence × 10 × 0.30
//	      + source_reliability × 10 × 0.20
//
// clamped to [0, 10] and rounded to two decimal places.
package risk

import (
	"math"
	"strings"

	"github.com/hdnguyen/soc-sentinel/internal/mitre"
)

var severityBase = map[string]float64{
	"CRITICAL": 10.0,
	"HIGH":     7.5,
	"MEDIUM":   5.0,
	"LOW":      2.5,
	"INFO":     0.5,
}

var sourceReliability = map[string]float64{
	"signature_ids": 0.90, // signature IDS, high signal
	"host_ids":      0.85, // host-based, high signal
	"firewall":      0.75, // firewall deny, moderate signal
	"synthetic":     0.60, // generated, lower weight in scoring
	"manual":        0.50,
	"unknown":       0.40,
}

// Score computes the composite risk score for an incident. An unknown
// severity contributes a base of 1.0; a nil match contributes nothing.
func Score(severity, source string, match *mitre.Match) float64 {
	base, ok := severityBase[strings.ToUpper(severity)]
	if !ok {
		base = 1.0
	}
	weight, ok := sourceReliability[strings.ToLower(source)]
	if !ok {
		weight = 0.40
	}
	confidence := 0.0
	if match != nil {
		confidence = match.Confidence
	}

	raw := base*0.50 + confidence*10.0*0.30 + weight*10.0*0.20
	raw = math.Min(math.Max(raw, 0.0), 10.0)
	return math.Round(raw*100) / 100
}

// Label maps a numeric score to the severity label shown in the UI.
func Label(score float64) string {
	switch {
	case score >= 8.5:
		return "CRITICAL"
	case score >= 6.5:
		return "HIGH"
	case score >= 4.0:
		return "MEDIUM"
	case score >= 2.0:
		return "LOW"
	default:
		return "INFO"
	}
}
