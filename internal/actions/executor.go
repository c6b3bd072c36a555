package actions

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const execTimeout = 15 * time.Second

// allowedPrefixes is the closed set of command shapes the executor will
// run. Anything else is refused before reaching the OS, real mode or
// not.
var allowedPrefixes = []string{
	"netsh advfirewall firewall",
	"iptables -A",
	"iptables -I",
	"firewall-cmd",
	"nmap ",
	"taskkill /pid",
}

// ExecResult is the outcome of one command run (or refusal).
type ExecResult struct {
	Success bool
	Output  string
}

// Allowed reports whether command matches the allow-list. Matching is
// case-insensitive on the trimmed command.
func Allowed(command string) bool {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Execute runs command, or simulates it. The allow-list is enforced in
// both modes; a refused command never reaches the OS.
func Execute(ctx context.Context, command string, simulate bool) ExecResult {
	if !Allowed(command) {
		return ExecResult{
			Success: false,
			Output:  fmt.Sprintf("BLOCKED: command does not match any allowed pattern: %s", command),
		}
	}

	if simulate {
		return ExecResult{
			Success: true,
			Output:  fmt.Sprintf("[SIMULATION] Command validated and would execute: %s", command),
		}
	}

	return runReal(ctx, command)
}

func runReal(ctx context.Context, command string) ExecResult {
	tokens := splitCommand(command)
	if len(tokens) == 0 {
		return ExecResult{Success: false, Output: "empty command"}
	}

	runCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, tokens[0], tokens[1:]...)
	out, err := cmd.CombinedOutput()

	if runCtx.Err() == context.DeadlineExceeded {
		return ExecResult{Success: false, Output: "TIMEOUT after 15s"}
	}
	if err != nil {
		return ExecResult{
			Success: false,
			Output:  strings.TrimSpace(string(out) + "\n" + err.Error()),
		}
	}
	return ExecResult{Success: true, Output: strings.TrimSpace(string(out))}
}

// splitCommand tokenizes a command line, honoring double quotes so rule
// names with spaces survive as one argument.
func splitCommand(command string) []string {
	var tokens []string
	var current strings.Builder
	inQuotes := false

	for _, r := range command {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
