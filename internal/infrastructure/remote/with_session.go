package remote

import (
	"context"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

// WithSession opens a session, hands it to fn and closes it on every exit
// path, panics included.
func WithSession(ctx context.Context, gw ports.Gateway, ep domain.Endpoint, fn func(ports.Session) error) error {
	session, err := gw.Open(ctx, ep)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}
