package dokku

import (
	"context"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

// Plugin is one row of `dokku plugin:list`.
type Plugin struct {
	Name        string
	Version     string
	Enabled     bool
	Description string
}

func (p Plugin) Spec() domain.PluginSpec {
	return domain.PluginSpec{Name: p.Name, Version: p.Version, Enabled: p.Enabled}
}

func ListPlugins(ctx context.Context, s ports.Session) ([]Plugin, error) {
	out, err := run(ctx, s, dokku("plugin:list"))
	if err != nil {
		return nil, err
	}
	return ParsePluginList(out), nil
}

// ParsePluginList reads rows like
//
//	postgres             1.39.2 enabled    dokku postgres service plugin
func ParsePluginList(out string) []Plugin {
	var plugins []Plugin
	for _, l := range lines(out) {
		fields := strings.Fields(l)
		if len(fields) < 3 || (fields[2] != "enabled" && fields[2] != "disabled") {
			continue
		}
		plugins = append(plugins, Plugin{
			Name:        fields[0],
			Version:     fields[1],
			Enabled:     fields[2] == "enabled",
			Description: strings.Join(fields[3:], " "),
		})
	}
	return plugins
}

func InstallPlugin(ctx context.Context, s ports.Session, url, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := run(ctx, s, "sudo "+dokku("plugin:install", quote(url), "--name", name))
	return err
}

func EnablePlugin(ctx context.Context, s ports.Session, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := run(ctx, s, "sudo "+dokku("plugin:enable", name))
	return err
}

func DisablePlugin(ctx context.Context, s ports.Session, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := run(ctx, s, "sudo "+dokku("plugin:disable", name))
	return err
}

func UninstallPlugin(ctx context.Context, s ports.Session, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := run(ctx, s, "sudo "+dokku("plugin:uninstall", name))
	return err
}
