package dokku

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

var (
	scaleLine   = regexp.MustCompile(`^([A-Za-z0-9_-]+):\s+(\d+)$`)
	processType = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ScaleReport parses the table printed by `ps:scale app`.
func ScaleReport(ctx context.Context, s ports.Session, app string) ([]domain.ProcessScale, error) {
	if err := checkName(app); err != nil {
		return nil, err
	}
	out, err := run(ctx, s, dokku("ps:scale", app))
	if err != nil {
		return nil, err
	}
	var scale []domain.ProcessScale
	for _, l := range lines(out) {
		m := scaleLine.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		qty, _ := strconv.Atoi(m[2])
		scale = append(scale, domain.ProcessScale{Type: m[1], Quantity: qty})
	}
	return scale, nil
}

func Scale(ctx context.Context, s ports.Session, app string, counts ...domain.ProcessScale) error {
	if err := checkName(app); err != nil {
		return err
	}
	if len(counts) == 0 {
		return nil
	}
	sorted := append([]domain.ProcessScale(nil), counts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Type < sorted[j].Type })

	args := []string{"ps:scale", app}
	for _, c := range sorted {
		if !processType.MatchString(c.Type) || c.Quantity < 0 {
			return fmt.Errorf("%w: process %q=%d", ErrInvalidName, c.Type, c.Quantity)
		}
		args = append(args, c.Type+"="+strconv.Itoa(c.Quantity))
	}
	_, err := run(ctx, s, dokku(args...))
	return err
}

func Restart(ctx context.Context, s ports.Session, app string) error {
	if err := checkName(app); err != nil {
		return err
	}
	_, err := run(ctx, s, dokku("ps:restart", app))
	return err
}
