package dokku

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-/]{1,254}$`)

func checkDatabase(kind domain.DatabaseType, name string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: database type %q", ErrInvalidName, kind)
	}
	return checkName(name)
}

func DatabaseExists(ctx context.Context, s ports.Session, kind domain.DatabaseType, name string) (bool, error) {
	if err := checkDatabase(kind, name); err != nil {
		return false, err
	}
	res, err := s.Exec(ctx, dokku(string(kind)+":exists", name))
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// CreateDatabase is a no-op when the service already exists.
func CreateDatabase(ctx context.Context, s ports.Session, kind domain.DatabaseType, name string) error {
	exists, err := DatabaseExists(ctx, s, kind, name)
	if err != nil || exists {
		return err
	}
	_, err = run(ctx, s, dokku(string(kind)+":create", name))
	return err
}

func DestroyDatabase(ctx context.Context, s ports.Session, kind domain.DatabaseType, name string) error {
	if err := checkDatabase(kind, name); err != nil {
		return err
	}
	_, err := run(ctx, s, dokku("--force", string(kind)+":destroy", name))
	return err
}

func LinkDatabase(ctx context.Context, s ports.Session, kind domain.DatabaseType, name, app string) error {
	if err := checkDatabase(kind, name); err != nil {
		return err
	}
	if err := checkName(app); err != nil {
		return err
	}
	_, err := run(ctx, s, dokku(string(kind)+":link", name, app))
	return err
}

func UnlinkDatabase(ctx context.Context, s ports.Session, kind domain.DatabaseType, name, app string) error {
	if err := checkDatabase(kind, name); err != nil {
		return err
	}
	if err := checkName(app); err != nil {
		return err
	}
	_, err := run(ctx, s, dokku(string(kind)+":unlink", name, app))
	return err
}

func DatabaseDSN(ctx context.Context, s ports.Session, kind domain.DatabaseType, name string) (string, error) {
	if err := checkDatabase(kind, name); err != nil {
		return "", err
	}
	out, err := run(ctx, s, dokku(string(kind)+":info", name, "--dsn"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// BackupCredentials authenticate the dokku service plugin against S3.
type BackupCredentials struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
}

// BackupDatabase configures backup-auth and runs a native backup into bucket.
func BackupDatabase(ctx context.Context, s ports.Session, kind domain.DatabaseType, name, bucket string, creds BackupCredentials) error {
	if err := checkDatabase(kind, name); err != nil {
		return err
	}
	if !bucketPattern.MatchString(bucket) {
		return fmt.Errorf("%w: bucket %q", ErrInvalidName, bucket)
	}
	args := []string{string(kind) + ":backup-auth", name, quote(creds.AccessKey), quote(creds.SecretKey)}
	if creds.Region != "" {
		args = append(args, quote(creds.Region))
		if creds.Endpoint != "" {
			args = append(args, "s3v4", quote(creds.Endpoint))
		}
	}
	if _, err := run(ctx, s, dokku(args...)); err != nil {
		return err
	}
	_, err := run(ctx, s, dokku(string(kind)+":backup", name, bucket))
	return err
}

// ExportDatabase dumps the service into path on the remote host.
func ExportDatabase(ctx context.Context, s ports.Session, kind domain.DatabaseType, name, path string) error {
	if err := checkDatabase(kind, name); err != nil {
		return err
	}
	if !pathPattern.MatchString(path) {
		return fmt.Errorf("%w: path %q", ErrInvalidName, path)
	}
	_, err := run(ctx, s, dokku(string(kind)+":export", name)+" > "+path)
	return err
}

// RemoveFile deletes a staging file left by ExportDatabase.
func RemoveFile(ctx context.Context, s ports.Session, path string) error {
	if !pathPattern.MatchString(path) {
		return fmt.Errorf("%w: path %q", ErrInvalidName, path)
	}
	_, err := run(ctx, s, "rm -f "+path)
	return err
}
