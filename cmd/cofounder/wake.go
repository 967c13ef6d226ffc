package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/cofounder/internal/wake"
)

func newWakeCmd() *cobra.Command {
	var due bool
	cmd := &cobra.Command{
		Use:   "wake [session...]",
		Short: "Wake sleeping sessions in a running worker",
		Long: `wake publishes a wake signal over Redis. A worker holding the session
resumes it at once. With --due every session whose sleep has ended is woken.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !due && len(args) == 0 {
				return errors.New("name at least one session or pass --due")
			}
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rdb, err := openRedis(ctx, cfg)
			if err != nil {
				return err
			}
			if rdb == nil {
				return errors.New("wake needs redis_url to be configured")
			}
			defer rdb.Close()

			sessions := args
			if due {
				db, err := openStore(ctx, cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				markers, err := db.DueSleepers(ctx, time.Now())
				if err != nil {
					return err
				}
				for _, m := range markers {
					sessions = append(sessions, m.SessionID)
				}
			}

			for _, s := range sessions {
				n, err := wake.Publish(ctx, rdb, s)
				if err != nil {
					return err
				}
				if n == 0 {
					printf(cmd, "%s: no worker is listening; run `cofounder run --resume-due`\n", s)
					continue
				}
				printf(cmd, "%s: woken\n", s)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&due, "due", false, "wake every session whose sleep has ended")
	return cmd
}
