package dokku

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
)

func SetLetsencryptEmail(ctx context.Context, s ports.Session, app, email string) error {
	if err := checkName(app); err != nil {
		return err
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: email %q", ErrInvalidName, email)
	}
	_, err := run(ctx, s, dokku("letsencrypt:set", app, "email", quote(email)))
	return err
}

func EnableLetsencrypt(ctx context.Context, s ports.Session, app string) error {
	if err := checkName(app); err != nil {
		return err
	}
	_, err := run(ctx, s, dokku("letsencrypt:enable", app))
	return err
}

func LetsencryptActive(ctx context.Context, s ports.Session, app string) (bool, error) {
	if err := checkName(app); err != nil {
		return false, err
	}
	out, err := run(ctx, s, dokku("letsencrypt:active", app))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "true", nil
}

func AddLetsencryptCron(ctx context.Context, s ports.Session) error {
	_, err := run(ctx, s, dokku("letsencrypt:cron-job", "--add"))
	return err
}
