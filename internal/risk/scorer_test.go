package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hdnguyen/soc-sentinel/internal/mitre"
)

func TestScoreCriticalSignatureAlert(t *testing.T) {
	match := &mitre.Match{Confidence: 1.0}
	// 10×0.5 + 1.0×10×0.3 + 0.90×10×0.2 = 9.8
	assert.Equal(t, 9.8, Score("CRITICAL", "signature_ids", match))
}

func TestScoreWithoutMatch(t *testing.T) {
	// 7.5×0.5 + 0 + 0.85×10×0.2 = 5.45
	assert.Equal(t, 5.45, Score("HIGH", "host_ids", nil))
}

func TestScorePartialConfidence(t *testing.T) {
	match := &mitre.Match{Confidence: 0.5}
	// 5×0.5 + 0.5×10×0.3 + 0.60×10×0.2 = 5.2
	assert.Equal(t, 5.2, Score("MEDIUM", "synthetic", match))
}

func TestScoreUnknownInputs(t *testing.T) {
	// Unknown severity contributes 1.0, unknown source 0.40:
	// 1.0×0.5 + 0 + 0.40×10×0.2 = 1.3
	assert.Equal(t, 1.3, Score("WEIRD", "nonsense", nil))
}

func TestScoreCaseInsensitive(t *testing.T) {
	assert.Equal(t,
		Score("critical", "Signature_IDS", nil),
		Score("CRITICAL", "signature_ids", nil),
	)
}

func TestScoreStaysInRange(t *testing.T) {
	match := &mitre.Match{Confidence: 1.0}
	for _, sev := range []string{"CRITICAL", "HIGH", "MEDIUM", "LOW", "INFO", ""} {
		for _, src := range []string{"signature_ids", "host_ids", "manual", "unknown", ""} {
			s := Score(sev, src, match)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 10.0)
		}
	}
}

func TestLabelThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{9.8, "CRITICAL"},
		{8.5, "CRITICAL"},
		{8.49, "HIGH"},
		{6.5, "HIGH"},
		{6.49, "MEDIUM"},
		{4.0, "MEDIUM"},
		{3.99, "LOW"},
		{2.0, "LOW"},
		{1.99, "INFO"},
		{0.0, "INFO"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Label(tc.score), "score %v", tc.score)
	}
}
