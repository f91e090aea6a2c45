package dokku

import (
	"context"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
)

func ListApps(ctx context.Context, s ports.Session) ([]string, error) {
	out, err := run(ctx, s, dokku("apps:list"))
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

func AppExists(ctx context.Context, s ports.Session, app string) (bool, error) {
	if err := checkName(app); err != nil {
		return false, err
	}
	res, err := s.Exec(ctx, dokku("apps:exists", app))
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func CreateApp(ctx context.Context, s ports.Session, app string) error {
	if err := checkName(app); err != nil {
		return err
	}
	_, err := run(ctx, s, dokku("apps:create", app))
	return err
}

func DestroyApp(ctx context.Context, s ports.Session, app string) error {
	if err := checkName(app); err != nil {
		return err
	}
	_, err := run(ctx, s, dokku("--force", "apps:destroy", app))
	return err
}
