// Package actions proposes, gates, and executes remediation commands.
// Every command is approval-gated and simulated unless real execution
// is explicitly enabled in configuration.
package actions

import (
	"fmt"
	"strings"

	"github.com/hdnguyen/soc-sentinel/internal/mitre"
	"github.com/hdnguyen/soc-sentinel/internal/store"
)

// Action risk levels shown to the reviewer.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// ProposedAction is a remediation candidate before persistence. Every
// Command must pass the executor allow-list; the builders below only
// emit allow-listed shapes.
type ProposedAction struct {
	ActionType   string
	Command      string
	Parameters   map[string]any
	Description  string
	RiskLevel    string
	MitreContext string
}

func blockIP(srcIP, mitreCtx string) ProposedAction {
	return ProposedAction{
		ActionType: "block_ip",
		Command: fmt.Sprintf(
			`netsh advfirewall firewall add rule name="SOC-Block-%s" dir=in action=block remoteip=%s`,
			srcIP, srcIP),
		Parameters:   map[string]any{"ip": srcIP, "direction": "inbound"},
		Description:  fmt.Sprintf("Block inbound traffic from %s at the host firewall", srcIP),
		RiskLevel:    RiskMedium,
		MitreContext: mitreCtx,
	}
}

func addFirewallRule(srcIP string, port int, mitreCtx string) ProposedAction {
	return ProposedAction{
		ActionType: "add_firewall_rule",
		Command: fmt.Sprintf(
			`netsh advfirewall firewall add rule name="SOC-Port-%d" dir=in action=block remoteip=%s localport=%d protocol=TCP`,
			port, srcIP, port),
		Parameters:   map[string]any{"ip": srcIP, "port": port, "protocol": "TCP"},
		Description:  fmt.Sprintf("Block TCP port %d from %s", port, srcIP),
		RiskLevel:    RiskMedium,
		MitreContext: mitreCtx,
	}
}

func isolateHost(srcIP, mitreCtx string) ProposedAction {
	return ProposedAction{
		ActionType: "isolate_host",
		Command: fmt.Sprintf(
			`netsh advfirewall firewall add rule name="SOC-Isolate-%s" dir=in action=block remoteip=any localip=%s`,
			srcIP, srcIP),
		Parameters:   map[string]any{"host_ip": srcIP, "scope": "all_traffic"},
		Description:  fmt.Sprintf("Network-isolate host %s pending investigation", srcIP),
		RiskLevel:    RiskHigh,
		MitreContext: mitreCtx,
	}
}

func runScan(srcIP, mitreCtx string) ProposedAction {
	return ProposedAction{
		ActionType:   "run_scan",
		Command:      fmt.Sprintf(`nmap -sV -O --top-ports 1000 %s`, srcIP),
		Parameters:   map[string]any{"target": srcIP, "type": "service_os_scan"},
		Description:  fmt.Sprintf("Fingerprint services and OS on %s to assess the threat", srcIP),
		RiskLevel:    RiskLow,
		MitreContext: mitreCtx,
	}
}

// tacticPlaybooks maps each ATT&CK tactic to its remediation playbook,
// ordered by preference. Port choices: SSH for brute-force sources,
// HTTPS for C2 beaconing.
var tacticPlaybooks = map[string]func(srcIP, mitreCtx string) []ProposedAction{
	"Reconnaissance": func(ip, m string) []ProposedAction {
		return []ProposedAction{blockIP(ip, m), runScan(ip, m)}
	},
	"Credential Access": func(ip, m string) []ProposedAction {
		return []ProposedAction{blockIP(ip, m), addFirewallRule(ip, 22, m)}
	},
	"Lateral Movement": func(ip, m string) []ProposedAction {
		return []ProposedAction{isolateHost(ip, m), blockIP(ip, m)}
	},
	"Command and Control": func(ip, m string) []ProposedAction {
		return []ProposedAction{blockIP(ip, m), addFirewallRule(ip, 443, m)}
	},
	"Exfiltration": func(ip, m string) []ProposedAction {
		return []ProposedAction{isolateHost(ip, m), blockIP(ip, m)}
	},
	"Impact": func(ip, m string) []ProposedAction {
		return []ProposedAction{isolateHost(ip, m), blockIP(ip, m)}
	},
	"Execution": func(ip, m string) []ProposedAction {
		return []ProposedAction{blockIP(ip, m), runScan(ip, m)}
	},
	"Defense Evasion": func(ip, m string) []ProposedAction {
		return []ProposedAction{runScan(ip, m), blockIP(ip, m)}
	},
}

// Generate proposes remediation actions for an incident. Low-signal
// incidents (INFO/LOW with no ATT&CK tactic) and incidents without a
// usable source address yield nothing. CRITICAL incidents get host
// isolation prepended regardless of tactic.
func Generate(incident *store.IncidentRecord, srcIP string, technique *mitre.Technique) []ProposedAction {
	severity := strings.ToUpper(incident.Severity)
	tactic := ""
	if technique != nil {
		tactic = technique.Tactic
	} else if incident.MitreTactic != nil {
		tactic = *incident.MitreTactic
	}

	if (severity == "INFO" || severity == "LOW") && tactic == "" {
		return nil
	}
	if srcIP == "" || srcIP == "0.0.0.0" || srcIP == "localhost" || srcIP == "127.0.0.1" {
		return nil
	}

	mitreCtx := "Unknown technique"
	if technique != nil {
		mitreCtx = fmt.Sprintf("[%s] %s", technique.ID, technique.Name)
	} else if incident.MitreID != nil {
		mitreCtx = fmt.Sprintf("[%s] unresolved technique", *incident.MitreID)
	}

	playbook, ok := tacticPlaybooks[tactic]
	if !ok {
		playbook = func(ip, m string) []ProposedAction {
			return []ProposedAction{blockIP(ip, m)}
		}
	}
	proposals := playbook(srcIP, mitreCtx)

	if severity == "CRITICAL" && (len(proposals) == 0 || proposals[0].ActionType != "isolate_host") {
		proposals = append([]ProposedAction{isolateHost(srcIP, mitreCtx)}, proposals...)
	}
	return dedupeByType(proposals)
}

func dedupeByType(proposals []ProposedAction) []ProposedAction {
	seen := make(map[string]struct{}, len(proposals))
	out := proposals[:0]
	for _, p := range proposals {
		if _, ok := seen[p.ActionType]; ok {
			continue
		}
		seen[p.ActionType] = struct{}{}
		out = append(out, p)
	}
	return out
}
