package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdnguyen/soc-sentinel/internal/mitre"
	"github.com/hdnguyen/soc-sentinel/internal/store"
)

func incident(severity string, tactic *string) *store.IncidentRecord {
	return &store.IncidentRecord{
		ID:          "inc-1",
		Severity:    severity,
		Title:       "test incident",
		RawLog:      "raw",
		MitreTactic: tactic,
	}
}

func strPtr(s string) *string { return &s }

func TestGenerateCriticalPrependsIsolation(t *testing.T) {
	technique := &mitre.Technique{ID: "T1110", Name: "Brute Force", Tactic: "Credential Access"}
	proposals := Generate(incident("CRITICAL", nil), "45.148.10.87", technique)

	require.NotEmpty(t, proposals)
	assert.Equal(t, "isolate_host", proposals[0].ActionType)
	assert.Equal(t, RiskHigh, proposals[0].RiskLevel)

	types := make([]string, 0, len(proposals))
	for _, p := range proposals {
		types = append(types, p.ActionType)
	}
	assert.Contains(t, types, "block_ip")
}

func TestGenerateLateralMovementLeadsWithIsolation(t *testing.T) {
	technique := &mitre.Technique{ID: "T1021", Name: "Remote Services", Tactic: "Lateral Movement"}
	proposals := Generate(incident("HIGH", nil), "45.148.10.87", technique)

	require.NotEmpty(t, proposals)
	assert.Equal(t, "isolate_host", proposals[0].ActionType)
}

func TestGenerateSubstitutesAddress(t *testing.T) {
	technique := &mitre.Technique{ID: "T1595", Name: "Active Scanning", Tactic: "Reconnaissance"}
	proposals := Generate(incident("MEDIUM", nil), "203.0.113.9", technique)

	require.NotEmpty(t, proposals)
	for _, p := range proposals {
		assert.NotContains(t, p.Command, "{src_ip}")
	}
	assert.Contains(t, proposals[0].Command, "203.0.113.9")
	assert.Equal(t, "[T1595] Active Scanning", proposals[0].MitreContext)
}

func TestGenerateLowSignalYieldsNothing(t *testing.T) {
	assert.Nil(t, Generate(incident("INFO", nil), "203.0.113.9", nil))
	assert.Nil(t, Generate(incident("LOW", nil), "203.0.113.9", nil))
}

func TestGenerateLowSeverityWithTacticStillProposes(t *testing.T) {
	proposals := Generate(incident("LOW", strPtr("Reconnaissance")), "203.0.113.9", nil)
	assert.NotEmpty(t, proposals)
	assert.Equal(t, "Unknown technique", proposals[0].MitreContext)
}

func TestGenerateRejectsUnusableAddresses(t *testing.T) {
	technique := &mitre.Technique{ID: "T1110", Name: "Brute Force", Tactic: "Credential Access"}
	for _, ip := range []string{"", "0.0.0.0", "localhost", "127.0.0.1"} {
		assert.Nil(t, Generate(incident("CRITICAL", nil), ip, technique), "ip %q", ip)
	}
}

func TestGenerateUnknownTacticFallsBack(t *testing.T) {
	technique := &mitre.Technique{ID: "T1547", Name: "Boot or Logon Autostart Execution", Tactic: "Persistence"}
	proposals := Generate(incident("HIGH", nil), "203.0.113.9", technique)

	require.Len(t, proposals, 1)
	assert.Equal(t, "block_ip", proposals[0].ActionType)
}

func TestGenerateDefenseEvasionPlaybook(t *testing.T) {
	technique := &mitre.Technique{ID: "T1014", Name: "Rootkit", Tactic: "Defense Evasion"}
	proposals := Generate(incident("HIGH", nil), "203.0.113.9", technique)

	require.Len(t, proposals, 2)
	assert.Equal(t, "run_scan", proposals[0].ActionType)
	assert.Equal(t, "block_ip", proposals[1].ActionType)
}

func TestGenerateCommandAndControlPlaybook(t *testing.T) {
	technique := &mitre.Technique{ID: "T1071", Name: "Application Layer Protocol", Tactic: "Command and Control"}
	proposals := Generate(incident("HIGH", nil), "91.240.118.172", technique)

	require.Len(t, proposals, 2)
	assert.Equal(t, "block_ip", proposals[0].ActionType)
	assert.Equal(t, "add_firewall_rule", proposals[1].ActionType)
	assert.Contains(t, proposals[1].Command, "localport=443")
	assert.Equal(t, 443, proposals[1].Parameters["port"])
}

func TestGenerateExecutionPlaybook(t *testing.T) {
	technique := &mitre.Technique{ID: "T1059", Name: "Command and Scripting Interpreter", Tactic: "Execution"}
	proposals := Generate(incident("HIGH", nil), "203.0.113.9", technique)

	require.Len(t, proposals, 2)
	assert.Equal(t, "block_ip", proposals[0].ActionType)
	assert.Equal(t, "run_scan", proposals[1].ActionType)
}

func TestGenerateIsolationTargetsLocalAddress(t *testing.T) {
	p := isolateHost("192.0.2.77", "[T1021] Remote Services")

	assert.Contains(t, p.Command, "remoteip=any")
	assert.Contains(t, p.Command, "localip=192.0.2.77")
	assert.Equal(t, "192.0.2.77", p.Parameters["host_ip"])
	assert.Equal(t, "all_traffic", p.Parameters["scope"])
}

// Every command a playbook can emit must clear the executor allow-list,
// otherwise approval would always end in a refusal.
func TestGeneratedCommandsPassAllowList(t *testing.T) {
	for tactic := range tacticPlaybooks {
		technique := &mitre.Technique{ID: "T0000", Name: "Synthetic", Tactic: tactic}
		for _, severity := range []string{"HIGH", "CRITICAL"} {
			for _, p := range Generate(incident(severity, nil), "203.0.113.9", technique) {
				assert.True(t, Allowed(p.Command), "tactic %s action %s: %s", tactic, p.ActionType, p.Command)
			}
		}
	}
}

func TestGenerateAttachesParameters(t *testing.T) {
	technique := &mitre.Technique{ID: "T1110", Name: "Brute Force", Tactic: "Credential Access"}
	proposals := Generate(incident("HIGH", nil), "45.148.10.87", technique)

	require.Len(t, proposals, 2)
	assert.Equal(t, "45.148.10.87", proposals[0].Parameters["ip"])
	assert.Equal(t, "inbound", proposals[0].Parameters["direction"])
	assert.Equal(t, 22, proposals[1].Parameters["port"])
	assert.Equal(t, "TCP", proposals[1].Parameters["protocol"])
}

func TestGenerateNoDuplicateActionTypes(t *testing.T) {
	technique := &mitre.Technique{ID: "T1021", Name: "Remote Services", Tactic: "Lateral Movement"}
	proposals := Generate(incident("CRITICAL", nil), "203.0.113.9", technique)

	seen := map[string]bool{}
	for _, p := range proposals {
		assert.False(t, seen[p.ActionType], "duplicate %s", p.ActionType)
		seen[p.ActionType] = true
	}
}

func TestGuardedAddress(t *testing.T) {
	guarded := []string{
		"10.0.0.55", "172.16.0.20", "192.168.1.10", "127.0.0.1",
		"169.254.1.1", "0.0.0.1", "not-an-ip",
	}
	for _, ip := range guarded {
		assert.True(t, guardedAddress(ip), "ip %q", ip)
	}

	public := []string{"45.148.10.87", "203.0.113.9", "8.8.8.8"}
	for _, ip := range public {
		assert.False(t, guardedAddress(ip), "ip %q", ip)
	}
}
