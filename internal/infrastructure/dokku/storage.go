package dokku

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z0-9_./-]+$`)

// ValidVolume reports whether both paths of v are safe to pass to the shell.
func ValidVolume(v domain.Volume) bool {
	return pathPattern.MatchString(v.HostPath) && pathPattern.MatchString(v.ContainerPath)
}

func ListVolumes(ctx context.Context, s ports.Session, app string) ([]domain.Volume, error) {
	if err := checkName(app); err != nil {
		return nil, err
	}
	out, err := run(ctx, s, dokku("storage:list", app))
	if err != nil {
		return nil, err
	}
	var volumes []domain.Volume
	for _, l := range lines(out) {
		host, container, ok := strings.Cut(l, ":")
		if !ok {
			continue
		}
		volumes = append(volumes, domain.Volume{HostPath: host, ContainerPath: container, Created: true})
	}
	return volumes, nil
}

// MountVolume runs `storage:mount app host:container`. The host path is
// passed through as given.
func MountVolume(ctx context.Context, s ports.Session, app string, v domain.Volume) error {
	return storageCommand(ctx, s, "storage:mount", app, v)
}

func UnmountVolume(ctx context.Context, s ports.Session, app string, v domain.Volume) error {
	return storageCommand(ctx, s, "storage:unmount", app, v)
}

func storageCommand(ctx context.Context, s ports.Session, sub, app string, v domain.Volume) error {
	if err := checkName(app); err != nil {
		return err
	}
	if !ValidVolume(v) {
		return fmt.Errorf("%w: volume %q", ErrInvalidName, v.Identity())
	}
	_, err := run(ctx, s, dokku(sub, app, v.Identity()))
	return err
}
