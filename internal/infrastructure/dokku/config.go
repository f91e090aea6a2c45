package dokku

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func ValidEnvKey(key string) bool {
	return envKeyPattern.MatchString(key)
}

func ShowConfig(ctx context.Context, s ports.Session, app string) (map[string]string, error) {
	if err := checkName(app); err != nil {
		return nil, err
	}
	out, err := run(ctx, s, dokku("config:export", "--format", "json", app))
	if err != nil {
		return nil, err
	}
	vars := map[string]string{}
	if strings.TrimSpace(out) == "" {
		return vars, nil
	}
	if err := json.Unmarshal([]byte(out), &vars); err != nil {
		return nil, fmt.Errorf("dokku: parse config of %s: %w", app, err)
	}
	return vars, nil
}

// SetConfig sets vars without restarting the app. Values travel base64
// encoded so no shell escaping of user data is needed.
func SetConfig(ctx context.Context, s ports.Session, app string, vars map[string]string) error {
	if err := checkName(app); err != nil {
		return err
	}
	if len(vars) == 0 {
		return nil
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if !envKeyPattern.MatchString(k) {
			return fmt.Errorf("%w: env key %q", ErrInvalidName, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := []string{"config:set", "--encoded", "--no-restart", app}
	for _, k := range keys {
		args = append(args, k+"="+base64.StdEncoding.EncodeToString([]byte(vars[k])))
	}
	_, err := run(ctx, s, dokku(args...))
	return err
}

func UnsetConfig(ctx context.Context, s ports.Session, app string, keys ...string) error {
	if err := checkName(app); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	for _, k := range keys {
		if !envKeyPattern.MatchString(k) {
			return fmt.Errorf("%w: env key %q", ErrInvalidName, k)
		}
	}
	args := append([]string{"config:unset", "--no-restart", app}, keys...)
	_, err := run(ctx, s, dokku(args...))
	return err
}
