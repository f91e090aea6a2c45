package dokku

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
)

const pingToken = "dflow-ok"

// Ping confirms a shell is usable on the far side of the session.
func Ping(ctx context.Context, s ports.Session) error {
	out, err := run(ctx, s, "echo "+pingToken)
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) != pingToken {
		return fmt.Errorf("dokku: unexpected ping reply %q", strings.TrimSpace(out))
	}
	return nil
}

// DokkuVersion returns e.g. "0.34.4" from "dokku version 0.34.4".
func DokkuVersion(ctx context.Context, s ports.Session) (string, error) {
	out, err := run(ctx, s, dokku("version"))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[len(fields)-1], nil
}

// CloudInitStatus reads `cloud-init status`. Degraded runs exit nonzero but
// still print a status, so the output is parsed regardless of exit code.
func CloudInitStatus(ctx context.Context, s ports.Session) (string, error) {
	res, err := s.Exec(ctx, "cloud-init status 2>/dev/null")
	if err != nil {
		return "", err
	}
	for _, l := range strings.Split(res.Stdout, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(l), "status:"); ok {
			return strings.TrimSpace(v), nil
		}
	}
	return "", nil
}

type OSRelease struct {
	ID      string
	Version string
}

func ReadOSRelease(ctx context.Context, s ports.Session) (OSRelease, error) {
	out, err := run(ctx, s, "cat /etc/os-release")
	if err != nil {
		return OSRelease{}, err
	}
	return ParseOSRelease(out), nil
}

func ParseOSRelease(out string) OSRelease {
	var rel OSRelease
	for _, l := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(l), "=")
		if !ok {
			continue
		}
		v = strings.Trim(v, `"'`)
		switch k {
		case "ID":
			rel.ID = v
		case "VERSION_ID":
			rel.Version = v
		}
	}
	return rel
}

// PrivateIPs lists the addresses printed by `hostname -I` that are in
// private ranges.
func PrivateIPs(ctx context.Context, s ports.Session) ([]string, error) {
	out, err := run(ctx, s, "hostname -I")
	if err != nil {
		return nil, err
	}
	var ips []string
	for _, f := range strings.Fields(out) {
		if ip := net.ParseIP(f); ip != nil && ip.IsPrivate() {
			ips = append(ips, f)
		}
	}
	return ips, nil
}

func PublicIP(ctx context.Context, s ports.Session) (string, error) {
	out, err := run(ctx, s, "curl -fsS --max-time 5 https://api.ipify.org")
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(out)
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("dokku: unexpected public ip reply %q", ip)
	}
	return ip, nil
}
