package sources

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Simulator emits synthetic IDS alerts at randomized intervals so the
// full pipeline can be exercised without live sensors. Roughly 60% of
// emitted entries are signature-IDS fast alerts, the rest host-IDS rule
// alerts.
type Simulator struct {
	ingest      IngestFunc
	logger      *zap.Logger
	minInterval time.Duration
	maxInterval time.Duration
	rng         *rand.Rand
}

// NewSimulator creates a generator emitting every [minSec, maxSec]
// seconds.
func NewSimulator(minSec, maxSec float64, ingest IngestFunc, logger *zap.Logger) *Simulator {
	return &Simulator{
		ingest:      ingest,
		logger:      logger,
		minInterval: time.Duration(minSec * float64(time.Second)),
		maxInterval: time.Duration(maxSec * float64(time.Second)),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Attacker pool deliberately includes one RFC1918 address so the
// private-address remediation guard gets exercised end to end.
var attackerIPs = []string{
	"45.148.10.87",
	"185.220.101.34",
	"103.75.190.12",
	"91.240.118.172",
	"194.26.135.201",
	"23.154.177.9",
	"10.0.0.55",
}

var victimIPs = []string{
	"192.168.1.10",
	"192.168.1.25",
	"192.168.1.50",
	"192.168.1.100",
	"172.16.0.20",
}

var targetPorts = []int{22, 80, 443, 445, 3389, 8080, 3306, 5432, 21, 23}

var signatureTemplates = []struct {
	title    string
	priority int
	protocol string
}{
	{"ET SCAN Nmap Scripting Engine User-Agent Detected", 2, "TCP"},
	{"ET EXPLOIT SMB Exploit Behavior Detected", 1, "TCP"},
	{"ET POLICY SSH Brute Force Attempt Multiple Failures", 2, "TCP"},
	{"ET MALWARE Possible Trojan Backdoor Connection", 1, "TCP"},
	{"ET SCAN Potential TCP Port Scan Detected", 3, "TCP"},
	{"ET WEB_SERVER SQL Injection Attempt in URI", 1, "TCP"},
	{"ET DOS Possible SYN Flood Inbound", 2, "TCP"},
	{"ET INFO Outbound DNS Query to Suspicious Domain", 3, "UDP"},
	{"ET RECON External Host Probing Internal Services", 4, "TCP"},
	{"ET EXPLOIT Shellcode Pattern in Payload", 1, "TCP"},
}

var hostTemplates = []struct {
	title string
	level int
}{
	{"SSHD authentication failed.", 5},
	{"Multiple authentication failures followed by a success.", 10},
	{"Integrity checksum changed for critical system binary.", 12},
	{"Possible rootkit activity detected by kernel module check.", 14},
	{"New user added to the system.", 8},
	{"Web server 400 error code spike.", 5},
	{"Listened ports status changed, new port opened.", 7},
	{"Privilege escalation attempt via sudo misuse.", 10},
}

// Run emits alerts until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	s.logger.Info("Synthetic alert generator starting",
		zap.Duration("min_interval", s.minInterval),
		zap.Duration("max_interval", s.maxInterval),
	)

	for {
		spread := s.maxInterval - s.minInterval
		wait := s.minInterval
		if spread > 0 {
			wait += time.Duration(s.rng.Int63n(int64(spread)))
		}
		if !sleep(ctx, wait) {
			return
		}
		s.ingest(ctx, s.nextEntry(), "synthetic")
	}
}

// nextEntry builds one raw alert in either sensor's native format.
func (s *Simulator) nextEntry() string {
	if s.rng.Float64() < 0.6 {
		return s.signatureEntry()
	}
	return s.hostEntry()
}

func (s *Simulator) signatureEntry() string {
	tpl := signatureTemplates[s.rng.Intn(len(signatureTemplates))]
	src := attackerIPs[s.rng.Intn(len(attackerIPs))]
	dst := victimIPs[s.rng.Intn(len(victimIPs))]
	port := targetPorts[s.rng.Intn(len(targetPorts))]
	now := time.Now()

	return fmt.Sprintf(
		"%s [**] [1:%d:1] %s [**] [Classification: Attempted Administrator Privilege Gain] [Priority: %d] {%s} %s:%d -> %s:%d",
		now.Format("01/02-15:04:05.000000"),
		2000000+s.rng.Intn(100000),
		tpl.title,
		tpl.priority,
		tpl.protocol,
		src,
		1024+s.rng.Intn(64000),
		dst,
		port,
	)
}

func (s *Simulator) hostEntry() string {
	tpl := hostTemplates[s.rng.Intn(len(hostTemplates))]
	src := attackerIPs[s.rng.Intn(len(attackerIPs))]
	now := time.Now()

	return fmt.Sprintf(
		"** Alert %d.%d: mail  - syslog,authentication_failed,\n"+
			"%s server01->/var/log/auth.log\n"+
			"Rule: %d (level %d) -> '%s'\n"+
			"Src IP: %s\n"+
			"User: root",
		now.Unix(),
		s.rng.Intn(999999),
		now.Format("2006 Jan 02 15:04:05"),
		5700+s.rng.Intn(100),
		tpl.level,
		tpl.title,
		src,
	)
}
