// Package parser converts raw IDS log text into structured incident events.
//
// Three formats are recognised, in priority order: signature-IDS fast
// alerts, host-IDS rule alerts, and a keyword fallback for everything
// else. Parsing never fails; unrecognised input yields an INFO event.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity levels, highest first.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
	SeverityInfo     = "INFO"
)

// Event sources.
const (
	SourceSignatureIDS = "signature_ids"
	SourceHostIDS      = "host_ids"
	SourceFirewall     = "firewall"
	SourceSynthetic    = "synthetic"
	SourceManual       = "manual"
	SourceUnknown      = "unknown"
)

// Event is the structured form of a single raw alert. Immutable after
// construction.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	RawLog    string    `json:"raw_log"`
	SrcIP     string    `json:"src_ip,omitempty"`
	DstIP     string    `json:"dst_ip,omitempty"`
	Port      int       `json:"port,omitempty"`
	Protocol  string    `json:"protocol,omitempty"`
}

const maxTitleLen = 120

var signaturePriorityMap = map[int]string{
	1: SeverityCritical,
	2: SeverityHigh,
	3: SeverityMedium,
	4: SeverityLow,
}

// Fallback keyword table, checked in insertion order; first hit wins.
var keywordSeverity = []struct {
	keyword  string
	severity string
}{
	{"critical", SeverityCritical},
	{"exploit", SeverityCritical},
	{"shellcode", SeverityCritical},
	{"rootkit", SeverityCritical},
	{"ransomware", SeverityCritical},
	{"attack", SeverityHigh},
	{"brute", SeverityHigh},
	{"scan", SeverityMedium},
	{"probe", SeverityMedium},
	{"dos", SeverityHigh},
	{"ddos", SeverityHigh},
	{"suspicious", SeverityMedium},
	{"injection", SeverityHigh},
	{"overflow", SeverityHigh},
	{"recon", SeverityLow},
	{"info", SeverityInfo},
}

var (
	reSignatureFast = regexp.MustCompile(
		`(?s)\[\*\*\]\s+\[\d+:\d+:\d+\]\s+(.+?)\s+\[\*\*\]` +
			`.*?Priority:\s*(\d)` +
			`(?:.*?\{(\w+)\})?` +
			`.*?([\d.]+)(?::(\d+))?\s+->\s+([\d.]+)(?::(\d+))?`)

	reHostRule = regexp.MustCompile(
		`(?s)Rule:\s*\d+\s+\(level\s+(\d+)\)\s+->\s+'([^']+)'` +
			`(?:.*?Src IP:\s*([\d.]+))?`)

	reIPv4 = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3})`)
	rePort = regexp.MustCompile(`:(\d{2,5})`)
)

// Parse converts a raw log entry into an Event. sourceHint is used only
// when no structured format matches.
func Parse(raw, sourceHint string) Event {
	raw = strings.TrimSpace(raw)

	if m := reSignatureFast.FindStringSubmatch(raw); m != nil {
		priority, _ := strconv.Atoi(m[2])
		severity, ok := signaturePriorityMap[priority]
		if !ok {
			severity = SeverityInfo
		}
		port := 0
		if m[7] != "" {
			port, _ = strconv.Atoi(m[7])
		}
		return newEvent(Event{
			Source:   SourceSignatureIDS,
			Severity: severity,
			Title:    truncate(strings.TrimSpace(m[1])),
			RawLog:   raw,
			SrcIP:    m[4],
			DstIP:    m[6],
			Port:     port,
			Protocol: strings.ToUpper(m[3]),
		})
	}

	if m := reHostRule.FindStringSubmatch(raw); m != nil {
		level, _ := strconv.Atoi(m[1])
		return newEvent(Event{
			Source:   SourceHostIDS,
			Severity: hostLevelSeverity(level),
			Title:    truncate(strings.TrimSpace(m[2])),
			RawLog:   raw,
			SrcIP:    m[3],
		})
	}

	// Generic / synthetic fallback.
	srcIP, dstIP := extractIPs(raw)
	if sourceHint == "" {
		sourceHint = SourceUnknown
	}
	return newEvent(Event{
		Source:   sourceHint,
		Severity: keywordsSeverity(raw),
		Title:    truncate(strings.SplitN(raw, "\n", 2)[0]),
		RawLog:   raw,
		SrcIP:    srcIP,
		DstIP:    dstIP,
		Port:     extractPort(raw),
	})
}

func newEvent(e Event) Event {
	e.ID = uuid.NewString()
	e.Timestamp = time.Now().UTC()
	return e
}

func hostLevelSeverity(level int) string {
	switch {
	case level >= 12:
		return SeverityCritical
	case level >= 8:
		return SeverityHigh
	case level >= 5:
		return SeverityMedium
	case level >= 3:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

func keywordsSeverity(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range keywordSeverity {
		if strings.Contains(lower, entry.keyword) {
			return entry.severity
		}
	}
	return SeverityInfo
}

// extractIPs returns the first two IPv4 literals found in the text.
func extractIPs(text string) (string, string) {
	ips := reIPv4.FindAllString(text, 2)
	src, dst := "", ""
	if len(ips) > 0 {
		src = ips[0]
	}
	if len(ips) > 1 {
		dst = ips[1]
	}
	return src, dst
}

// extractPort returns the first ":N" port in [10, 65535], or 0.
func extractPort(text string) int {
	m := rePort.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	p, err := strconv.Atoi(m[1])
	if err != nil || p < 10 || p > 65535 {
		return 0
	}
	return p
}

func truncate(s string) string {
	if len(s) > maxTitleLen {
		return s[:maxTitleLen]
	}
	return s
}

// ValidSeverity reports whether s is one of the five severity levels.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}
