// Package dokku wraps the dokku CLI as typed operations over a remote
// session. Every function runs exactly the commands it names; none retry.
package dokku

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

var ErrInvalidName = errors.New("dokku: invalid name")

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidName reports whether name is usable as a dokku app or service name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// run executes cmd and converts a nonzero exit into a RemoteCommandError.
func run(ctx context.Context, s ports.Session, cmd string) (string, error) {
	res, err := s.Exec(ctx, cmd)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return res.Stdout, &domain.RemoteCommandError{
			Command:  cmd,
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(firstNonEmpty(res.Stderr, res.Stdout)),
		}
	}
	return res.Stdout, nil
}

func dokku(args ...string) string {
	return "dokku " + strings.Join(args, " ")
}

// quote wraps s in single quotes for the remote shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// lines returns the non-empty, non-banner lines of dokku output.
func lines(out string) []string {
	var result []string
	for _, l := range strings.Split(out, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "=====>") || strings.HasPrefix(l, "----->") || strings.HasPrefix(l, "!") {
			continue
		}
		result = append(result, l)
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
