// Package main is dcactl, a command-line client for the DCA order API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/archon-research/dca/internal/pkg/amount"
	"github.com/archon-research/dca/internal/pkg/env"
	"github.com/archon-research/dca/pkg/dcasdk"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type app struct {
	url    string
	token  string
	out    io.Writer
	client *dcasdk.Client
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:          "dcactl",
		Short:        "Manage recurring DCA orders",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.url == "" {
				return fmt.Errorf("API URL not provided (use --url or DCA_API_URL)")
			}
			a.client = dcasdk.NewClient(a.url, a.token)
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.url, "url", env.Get("DCA_API_URL", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&a.token, "token", env.Get("DCA_API_TOKEN", ""), "API bearer token")

	root.AddCommand(
		a.newCreateCommand(),
		a.newGetCommand(),
		a.newListCommand(),
		a.newExecutionsCommand(),
		a.newCancelCommand(),
		a.newControlCommand("pause", "Stop an order from being scheduled", a.pause),
		a.newControlCommand("resume", "Resume a paused or stalled order", a.resume),
		a.newReauthorizeCommand(),
		a.newSweepCommand(),
	)
	return root
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readCredential(path string) (dcasdk.Credential, error) {
	var cred dcasdk.Credential
	raw, err := os.ReadFile(path)
	if err != nil {
		return cred, fmt.Errorf("reading credential file: %w", err)
	}
	if err := json.Unmarshal(raw, &cred); err != nil {
		return cred, fmt.Errorf("parsing credential file: %w", err)
	}
	return cred, nil
}

func (a *app) newCreateCommand() *cobra.Command {
	var (
		req            dcasdk.CreateOrderRequest
		humanAmount    string
		decimals       int32
		interval       time.Duration
		duration       time.Duration
		credentialPath string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a recurring order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := amount.ToBaseUnits(humanAmount, decimals)
			if err != nil {
				return err
			}
			req.TotalAmount = total.String()
			req.IntervalSeconds = int64(interval / time.Second)
			req.DurationSeconds = int64(duration / time.Second)
			if req.Credential, err = readCredential(credentialPath); err != nil {
				return err
			}

			order, err := a.client.CreateOrder(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.printJSON(order)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Owner, "owner", "", "owner address")
	f.StringVar(&req.FundingAccount, "account", "", "funding smart account address")
	f.StringVar(&req.SourceAsset, "sell", "", "source asset address")
	f.StringVar(&req.TargetAsset, "buy", "", "target asset address")
	f.StringVar(&req.Destination, "destination", "", "payout address (default: funding account)")
	f.StringVar(&humanAmount, "amount", "", "total amount in whole tokens, e.g. 1000.5")
	f.Int32Var(&decimals, "decimals", 6, "source asset decimals")
	f.DurationVar(&interval, "interval", 24*time.Hour, "time between executions")
	f.IntVar(&req.TotalExecutions, "executions", 0, "number of executions")
	f.DurationVar(&duration, "duration", 0, "total duration, instead of --executions")
	f.StringVar(&credentialPath, "credential", "", "path to the credential JSON")
	for _, name := range []string{"owner", "account", "sell", "buy", "amount", "credential"} {
		_ = cmd.MarkFlagRequired(name)
	}
	cmd.MarkFlagsMutuallyExclusive("executions", "duration")
	cmd.MarkFlagsOneRequired("executions", "duration")
	return cmd
}

func (a *app) newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <order-id>",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := a.client.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(order)
		},
	}
}

func (a *app) newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <owner>",
		Short: "List an owner's orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := a.client.ListOrders(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tEXECUTED\tTOTAL\tNEXT\tSTALL")
			for _, o := range orders {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\n",
					o.ID, o.Status, o.ExecutionsCompleted, o.TotalExecutions,
					o.ExecutedAmount, o.TotalAmount, o.NextExecutionAt.Format(time.RFC3339), o.StallReason)
			}
			return tw.Flush()
		},
	}
}

func (a *app) newExecutionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "executions <order-id>",
		Short: "Show an order's execution log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			executions, err := a.client.ListExecutions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CYCLE\tKIND\tSTATUS\tIN\tOUT\tCODE\tTX\tAT")
			for _, e := range executions {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Cycle, e.Kind, e.Status, e.AmountIn, e.AmountOut, e.ErrorCode, e.TxReference, e.ExecutedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func (a *app) newCancelCommand() *cobra.Command {
	var req dcasdk.CancelRequest
	cmd := &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.CancelOrder(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return a.printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&req.Owner, "owner", "", "owner address")
	cmd.Flags().BoolVar(&req.SweepRemainingFunds, "sweep", false, "transfer unspent funds back to the owner")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (a *app) pause(ctx context.Context, id, owner string) (*dcasdk.Order, error) {
	return a.client.PauseOrder(ctx, id, owner)
}

func (a *app) resume(ctx context.Context, id, owner string) (*dcasdk.Order, error) {
	return a.client.ResumeOrder(ctx, id, owner)
}

func (a *app) newControlCommand(use, short string, op func(ctx context.Context, id, owner string) (*dcasdk.Order, error)) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   use + " <order-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := op(cmd.Context(), args[0], owner)
			if err != nil {
				return err
			}
			return a.printJSON(order)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (a *app) newReauthorizeCommand() *cobra.Command {
	var owner, credentialPath string
	cmd := &cobra.Command{
		Use:   "reauthorize <order-id>",
		Short: "Replace an order's credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := readCredential(credentialPath)
			if err != nil {
				return err
			}
			order, err := a.client.ReauthorizeOrder(cmd.Context(), args[0], dcasdk.ReauthorizeRequest{Owner: owner, Credential: cred})
			if err != nil {
				return err
			}
			return a.printJSON(order)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address")
	cmd.Flags().StringVar(&credentialPath, "credential", "", "path to the credential JSON")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("credential")
	return cmd
}

func (a *app) newSweepCommand() *cobra.Command {
	var manual bool
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one scheduler sweep and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				result *dcasdk.SweepResult
				err    error
			)
			if manual {
				var when *time.Time
				if at != "" {
					t, err := time.Parse(time.RFC3339, at)
					if err != nil {
						return fmt.Errorf("parsing --at: %w", err)
					}
					when = &t
				}
				result, err = a.client.ManualSweep(cmd.Context(), when)
			} else {
				result, err = a.client.Sweep(cmd.Context())
			}
			if err != nil {
				return err
			}
			return a.printJSON(result)
		},
	}
	cmd.Flags().BoolVar(&manual, "manual", false, "use the testing entrypoint")
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 sweep time, with --manual")
	return cmd
}
