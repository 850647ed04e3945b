package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var matchNoExpire bool

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Run one request matching cycle",
	Long:  "Matches every approved, active deal request against fresh listings of its category, notifies subscribers of qualifying listings, then expires lapsed requests.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "match", envNeeds{scorer: true, router: true})
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := env.matchingEngine()
		if err != nil {
			return err
		}

		run := eng.RunCycle
		if matchNoExpire {
			run = eng.MatchRequests
		}
		res, err := run(ctx)
		if err != nil {
			return eris.Wrap(err, "match")
		}
		return writeJSON(os.Stdout, res)
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire lapsed deal requests and notify their subscribers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "notify", envNeeds{router: true})
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := env.matchingEngine()
		if err != nil {
			return err
		}
		res, err := eng.ExpireSweep(ctx)
		if err != nil {
			return eris.Wrap(err, "expire")
		}
		return writeJSON(os.Stdout, res)
	},
}

func init() {
	matchCmd.Flags().BoolVar(&matchNoExpire, "no-expire", false, "skip the expiry sweep")
	rootCmd.AddCommand(matchCmd, expireCmd)
}
