package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealradar/internal/server"
)

var (
	servePort     int
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		mode, needs := "store", envNeeds{}
		if serveSchedule {
			mode, needs = "schedule", envNeeds{scorer: true, router: true}
		}
		env, err := initEnv(ctx, mode, needs)
		if err != nil {
			return err
		}
		defer env.Close()

		api := server.New(env.Source, env.Store, server.Options{
			DefaultSearchLimit: cfg.Blocket.DefaultSearchLimit,
			MaxSearchLimit:     cfg.Blocket.MaxSearchLimit,
			HighValueThreshold: cfg.Evaluation.HighValueThreshold,
			ResolveCategory:    cfg.ResolveCategory,
		})

		g, gctx := errgroup.WithContext(ctx)
		if serveSchedule {
			sched, cleanup, err := initScheduler(ctx, env)
			if err != nil {
				return err
			}
			defer cleanup()
			g.Go(func() error {
				sched.Start(gctx)
				return nil
			})
		}
		g.Go(func() error {
			return server.Run(gctx, api.Handler(), resolvePort(servePort, cfg.Server.Port))
		})
		return g.Wait()
	},
}

// resolvePort returns the flag value when set, otherwise the config value.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "also run the cron scheduler in-process")
	rootCmd.AddCommand(serveCmd)
}
