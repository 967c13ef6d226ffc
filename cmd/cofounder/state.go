package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
	"github.com/ChamsBouzaiene/cofounder/internal/store"
)

func newCheckpointCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "checkpoint <session>",
		Short: "Show where a session stands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			snap, err := db.Restore(ctx, args[0])
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("no checkpoint for session %s", args[0])
			}
			printf(cmd, "session:      %s\n", snap.SessionID)
			printf(cmd, "job:          %s\n", snap.JobID)
			printf(cmd, "lifecycle:    %s\n", snap.Lifecycle)
			printf(cmd, "phase:        %s\n", snap.Phase)
			printf(cmd, "iteration:    %d\n", snap.Iteration)
			printf(cmd, "sandbox:      %s\n", snap.SandboxID)
			printf(cmd, "cost:         $%.4f of $%.4f today\n", micros(snap.SessionCost), micros(snap.DailyBudget))
			printf(cmd, "messages:     %d\n", len(snap.History))
			printf(cmd, "saved:        %s\n", snap.CreatedAt.Format(time.RFC3339))

			metas, err := db.ListCheckpoints(ctx, args[0], limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\nCHECKPOINT\tITERATION\tLIFECYCLE\tBYTES\tSAVED")
			for _, m := range metas {
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", m.ID, m.Iteration, m.Lifecycle, m.ByteSize, m.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "history", 5, "number of recent checkpoints to list")
	return cmd
}

func newSubscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Manage user subscriptions",
	}

	var (
		remaining float64
		renewal   string
	)
	set := &cobra.Command{
		Use:   "set <user>",
		Short: "Create or replace a user's remaining balance and renewal date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub := engine.Subscription{UserID: args[0], RemainingMicros: int64(remaining * 1e6)}
			if renewal != "" {
				t, err := time.Parse("2006-01-02", renewal)
				if err != nil {
					return fmt.Errorf("invalid --renewal: %w", err)
				}
				sub.RenewalDate = t
			}
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.UpsertSubscription(ctx, sub); err != nil {
				return err
			}
			printf(cmd, "%s: $%.2f remaining, daily budget $%.4f\n", sub.UserID, remaining, micros(engine.DailyBudget(sub, time.Now())))
			return nil
		},
	}
	set.Flags().Float64Var(&remaining, "remaining", 0, "remaining balance in dollars")
	set.Flags().StringVar(&renewal, "renewal", "", "renewal date (YYYY-MM-DD)")
	cmd.AddCommand(set)
	return cmd
}

func newEscalationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "List and resolve questions the agent escalated to the founder",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list <project>",
		Short: "List a project's escalations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			status := store.EscalationPending
			if all {
				status = ""
			}
			rows, err := db.ListEscalations(ctx, args[0], status)
			if err != nil {
				return err
			}
			for _, r := range rows {
				printf(cmd, "%s [%s] %s after %d attempts (%s)\n", r.ID, r.Status, r.ErrorType, r.Attempts, r.Category)
				printf(cmd, "  %s\n", r.ProblemSummary)
				for _, o := range r.Options {
					printf(cmd, "  - %s: %s\n", o.Value, o.Label)
				}
				if r.Resolution != "" {
					printf(cmd, "  resolved: %s\n", r.Resolution)
				}
			}
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include resolved escalations")

	resolve := &cobra.Command{
		Use:   "resolve <id> <choice>",
		Short: "Record the founder's decision on an escalation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.ResolveEscalation(ctx, args[0], args[1]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no escalation %s", args[0])
				}
				return err
			}
			printf(cmd, "%s resolved: %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(list, resolve)
	return cmd
}

func micros(v int64) float64 { return float64(v) / 1e6 }
