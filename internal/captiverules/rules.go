// Package captiverules installs and tears down the captive-portal
// iptables rules and the optional dnsmasq wildcard responder (§3
// Captive-portal rules, §4.G). Grounded on internal/handlers/firewall.go's
// EnableNAT/DisableNAT: shell out to iptables, tolerate "already exists"
// style errors, and treat /tmp artefacts as side state to clean up on
// teardown.
package captiverules

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ncb-edge/internal/shell"
)

const (
	// ProvisionPort is the port the HTTP provisioning endpoint listens on.
	ProvisionPort = 5000
	dnsmasqConf   = "/tmp/dnsmasq-captive.conf"
	dnsmasqPID    = "/tmp/dnsmasq-captive.pid"
)

// Install raises the three iptables rules and the DNS passthrough of
// §4.G, then best-effort spawns dnsmasq with a wildcard A-record
// pointing at gatewayIP. dnsmasq failing to start is not fatal to the
// hotspot (§4.G: "best-effort").
func Install(ctx context.Context, runner shell.Runner, gatewayIP string) error {
	cmds := []string{
		"iptables -t nat -F",
		"iptables -F",
		"iptables -I INPUT -p tcp --dport " + strconv.Itoa(ProvisionPort) + " -j ACCEPT",
		"iptables -t nat -I PREROUTING -p tcp --dport 80 -j REDIRECT --to-port " + strconv.Itoa(ProvisionPort),
		"iptables -t nat -I PREROUTING -p tcp --dport 443 -j REDIRECT --to-port " + strconv.Itoa(ProvisionPort),
		"iptables -I INPUT -p udp --dport 53 -j ACCEPT",
		"iptables -I INPUT -p tcp --dport 53 -j ACCEPT",
	}
	for _, c := range cmds {
		res, err := runner.Run(ctx, c)
		if err != nil {
			return fmt.Errorf("captiverules: %s: %w", c, err)
		}
		if !res.Success && !strings.Contains(res.Stderr, "already") {
			return fmt.Errorf("captiverules: %s failed: %s", c, res.Stderr)
		}
	}

	spawnDnsmasq(ctx, runner, gatewayIP)
	return nil
}

// spawnDnsmasq best-effort starts a dnsmasq instance answering every
// name with gatewayIP. A failure to write the config or start dnsmasq
// is ignored: it is neither logged nor surfaced as an error (§4.G).
func spawnDnsmasq(ctx context.Context, runner shell.Runner, gatewayIP string) {
	conf := fmt.Sprintf("address=/#/%s\nno-resolv\nno-poll\n", gatewayIP)
	if err := os.WriteFile(dnsmasqConf, []byte(conf), 0o644); err != nil {
		return
	}
	cmd := fmt.Sprintf("dnsmasq --conf-file=%s --pid-file=%s", dnsmasqConf, dnsmasqPID)
	_, _ = runner.Run(ctx, cmd)
}

// Teardown flushes the nat and filter tables and kills the dnsmasq
// pidfile process, in that order so no redirect rule survives past the
// operation boundary (§4.E failure semantics, §5 ordering guarantee b).
func Teardown(ctx context.Context, runner shell.Runner) error {
	_, _ = runner.Run(ctx, "iptables -t nat -F")
	_, _ = runner.Run(ctx, "iptables -F")

	if pid, err := os.ReadFile(dnsmasqPID); err == nil {
		pidStr := strings.TrimSpace(string(pid))
		if pidStr != "" {
			_, _ = runner.Run(ctx, "kill "+pidStr)
		}
		_ = os.Remove(dnsmasqPID)
	}
	_ = os.Remove(dnsmasqConf)
	return nil
}
