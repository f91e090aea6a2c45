package dokku

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
)

var hostnamePattern = regexp.MustCompile(`^(\*\.)?[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*$`)

func ValidHostname(host string) bool {
	return hostnamePattern.MatchString(host)
}

func checkHostnames(hosts []string) error {
	for _, h := range hosts {
		if !hostnamePattern.MatchString(h) {
			return fmt.Errorf("%w: hostname %q", ErrInvalidName, h)
		}
	}
	return nil
}

func ListDomains(ctx context.Context, s ports.Session, app string) ([]string, error) {
	if err := checkName(app); err != nil {
		return nil, err
	}
	out, err := run(ctx, s, dokku("domains:report", app, "--domains-app-vhosts"))
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

// AddDomains adds the hosts that are not present yet. Returns the hosts
// actually added.
func AddDomains(ctx context.Context, s ports.Session, app string, hosts ...string) ([]string, error) {
	if err := checkHostnames(hosts); err != nil {
		return nil, err
	}
	existing, err := ListDomains(ctx, s, app)
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(existing))
	for _, h := range existing {
		present[h] = struct{}{}
	}
	var missing []string
	for _, h := range hosts {
		if _, ok := present[h]; !ok {
			missing = append(missing, h)
			present[h] = struct{}{}
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	args := append([]string{"domains:add", app}, missing...)
	if _, err := run(ctx, s, dokku(args...)); err != nil {
		return nil, err
	}
	return missing, nil
}

func RemoveDomains(ctx context.Context, s ports.Session, app string, hosts ...string) error {
	if err := checkName(app); err != nil {
		return err
	}
	if err := checkHostnames(hosts); err != nil {
		return err
	}
	if len(hosts) == 0 {
		return nil
	}
	args := append([]string{"domains:remove", app}, hosts...)
	_, err := run(ctx, s, dokku(args...))
	return err
}

// SetDomains replaces every app domain with hosts.
func SetDomains(ctx context.Context, s ports.Session, app string, hosts ...string) error {
	if err := checkName(app); err != nil {
		return err
	}
	if err := checkHostnames(hosts); err != nil {
		return err
	}
	if len(hosts) == 0 {
		_, err := run(ctx, s, dokku("domains:clear", app))
		return err
	}
	args := append([]string{"domains:set", app}, hosts...)
	_, err := run(ctx, s, dokku(args...))
	return err
}
