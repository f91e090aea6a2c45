package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/dto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("DFLOW")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "dflowctl",
		Short:         "Operate the dflow orchestrator from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("api", "http://localhost:8080", "server base URL (env DFLOW_API)")
	root.PersistentFlags().String("token", "", "admin API key (env DFLOW_TOKEN)")
	root.PersistentFlags().String("tenant", "", "tenant id (env DFLOW_TENANT)")
	root.PersistentFlags().Bool("json", false, "print raw JSON")
	for _, name := range []string{"api", "token", "tenant", "json"} {
		_ = v.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}

	client := func() (*apiClient, error) {
		tenant := v.GetString("tenant")
		if tenant == "" {
			return nil, fmt.Errorf("--tenant or DFLOW_TENANT is required")
		}
		return newAPIClient(v.GetString("api"), v.GetString("token"), tenant), nil
	}
	asJSON := func() bool { return v.GetBool("json") }

	root.AddCommand(
		newServersCmd(client, asJSON),
		newReconcileCmd(client, asJSON),
		newJobCmd(client, asJSON),
		newOrderCmd(client, asJSON),
		newEventsCmd(client),
	)
	return root
}

type clientFunc func() (*apiClient, error)

func newServersCmd(client clientFunc, asJSON func() bool) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List servers of the tenant with their connection status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			servers, err := c.ListServers(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON() {
				return printJSON(cmd.OutOrStdout(), servers)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tADDRESS\tSTATUS\tCHECKED\tPLUGINS")
			for _, s := range servers {
				checked := "-"
				if s.ConnectionCheckedAt != nil {
					checked = s.ConnectionCheckedAt.Local().Format(time.RFC3339)
				}
				plugins := "settled"
				if s.PluginsPending {
					plugins = "pending"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Address(), s.ConnectionStatus, checked, plugins)
			}
			return w.Flush()
		},
	}
}

func newReconcileCmd(client clientFunc, asJSON func() bool) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "reconcile [tenant]",
		Short: "Queue a reconciliation scan of a tenant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			tenant := c.tenant
			if len(args) == 1 {
				tenant = args[0]
			}
			res, err := c.Reconcile(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			if !wait || res.Job == nil {
				if asJSON() {
					return printJSON(cmd.OutOrStdout(), res)
				}
				if res.Job == nil {
					fmt.Fprintln(cmd.OutOrStdout(), res.Message)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: job %s\n", res.Message, res.Job.ID)
				return nil
			}
			job, err := c.WaitJob(cmd.Context(), res.Job.ID, time.Second)
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), job, asJSON())
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the scan to finish")
	return cmd
}

func newJobCmd(client clientFunc, asJSON func() bool) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job while it is retained",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			if wait {
				j, err := c.WaitJob(cmd.Context(), args[0], time.Second)
				if err != nil {
					return err
				}
				return printJob(cmd.OutOrStdout(), j, asJSON())
			}
			j, err := c.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), j, asJSON())
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes")
	return cmd
}

func newOrderCmd(client clientFunc, asJSON func() bool) *cobra.Command {
	return &cobra.Command{
		Use:   "order <id>",
		Short: "Show a provisioning order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			order, err := c.Order(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON() {
				return printJSON(cmd.OutOrStdout(), order)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "order    %s (%s)\n", order.ID, order.OrderID)
			fmt.Fprintf(out, "status   %s, attempt %d/%d\n", order.Status, order.Attempts, order.MaxAttempts)
			if order.PublicIP != "" {
				fmt.Fprintf(out, "address  %s %s\n", order.PublicIP, order.Hostname)
			}
			if order.FailureReason != "" {
				fmt.Fprintf(out, "reason   %s\n", order.FailureReason)
			}
			return nil
		},
	}
}

func newEventsCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "events <tenant|server|provision|reconcile> <id>",
		Short: "Tail live events of a target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			err = c.Events(cmd.Context(), args[0], args[1], func(ev domain.Event) error {
				_, werr := fmt.Fprintln(out, formatEvent(ev))
				return werr
			})
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}

func formatEvent(ev domain.Event) string {
	var b strings.Builder
	b.WriteString(ev.Timestamp.Local().Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%-8s", ev.Kind))
	b.WriteString(" ")
	if ev.JobID != "" {
		b.WriteString("[" + ev.JobID[:min(8, len(ev.JobID))] + "] ")
	}
	b.WriteString(ev.Message)
	return b.String()
}

func printJob(w io.Writer, job *dto.JobResponse, raw bool) error {
	if raw {
		return printJSON(w, job)
	}
	fmt.Fprintf(w, "job      %s (%s)\n", job.ID, job.Type)
	fmt.Fprintf(w, "queue    %s\n", job.Queue)
	fmt.Fprintf(w, "state    %s\n", job.State)
	if job.Error != "" {
		fmt.Fprintf(w, "error    %s [%s]\n", job.Error, job.ErrorKind)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
