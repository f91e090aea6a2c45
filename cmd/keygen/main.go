package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dflow-sh/dflow-sub003/pkg/utils/sshkeygen"
	"github.com/spf13/cobra"
)

func main() {
	var (
		out       string
		comment   string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 deploy key for dokku servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("failed to get home directory: %w", err)
				}
				out = filepath.Join(home, ".ssh", "dflow_ed25519")
			}

			pair, err := sshkeygen.Generate(comment)
			if err != nil {
				return err
			}
			if err := pair.WriteFiles(out, overwrite); err != nil {
				if errors.Is(err, sshkeygen.ErrKeyExists) {
					fmt.Fprintf(cmd.OutOrStdout(), "key pair already exists at %s (use --force to replace)\n", out)
					return nil
				}
				return err
			}

			fp, err := pair.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\npublic key:  %s.pub\nfingerprint: %s\n", out, out, fp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "private key path (default ~/.ssh/dflow_ed25519)")
	cmd.Flags().StringVarP(&comment, "comment", "C", "dflow", "public key comment")
	cmd.Flags().BoolVar(&overwrite, "force", false, "replace an existing key pair")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
