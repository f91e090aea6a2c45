package dokku

import (
	"context"
	"fmt"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

func ListPorts(ctx context.Context, s ports.Session, app string) ([]domain.PortMapping, error) {
	if err := checkName(app); err != nil {
		return nil, err
	}
	out, err := run(ctx, s, dokku("ports:report", app, "--ports-map"))
	if err != nil {
		return nil, err
	}
	var mappings []domain.PortMapping
	for _, f := range strings.Fields(out) {
		m, err := domain.ParsePortMapping(f)
		if err != nil {
			return nil, fmt.Errorf("dokku: ports of %s: %w", app, err)
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

func SetPorts(ctx context.Context, s ports.Session, app string, mappings ...domain.PortMapping) error {
	return portsCommand(ctx, s, "ports:set", app, mappings)
}

func AddPorts(ctx context.Context, s ports.Session, app string, mappings ...domain.PortMapping) error {
	return portsCommand(ctx, s, "ports:add", app, mappings)
}

func RemovePorts(ctx context.Context, s ports.Session, app string, mappings ...domain.PortMapping) error {
	return portsCommand(ctx, s, "ports:remove", app, mappings)
}

func portsCommand(ctx context.Context, s ports.Session, sub, app string, mappings []domain.PortMapping) error {
	if err := checkName(app); err != nil {
		return err
	}
	if len(mappings) == 0 {
		return nil
	}
	args := []string{sub, app}
	for _, m := range mappings {
		if m.Scheme != "http" && m.Scheme != "https" && m.Scheme != "tcp" && m.Scheme != "udp" {
			return fmt.Errorf("%w: port scheme %q", ErrInvalidName, m.Scheme)
		}
		args = append(args, m.Identity())
	}
	_, err := run(ctx, s, dokku(args...))
	return err
}
