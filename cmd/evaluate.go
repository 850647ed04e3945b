package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var evaluateLimit int

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score unevaluated posts with the generic deal rubric",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "scoring", envNeeds{scorer: true})
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := env.evaluateEngine()
		if err != nil {
			return err
		}
		res, err := eng.Evaluate(ctx, evaluateLimit)
		if err != nil {
			return eris.Wrap(err, "evaluate")
		}
		return writeJSON(os.Stdout, res)
	},
}

var notifyLimit int

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send high-value deal alerts that have not been sent yet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "notify", envNeeds{router: true})
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := env.evaluateEngine()
		if err != nil {
			return err
		}
		res, err := eng.NotifyHighValue(ctx, notifyLimit)
		if err != nil {
			return eris.Wrap(err, "notify")
		}
		return writeJSON(os.Stdout, res)
	},
}

func init() {
	evaluateCmd.Flags().IntVar(&evaluateLimit, "limit", 0, "max posts to evaluate (default from config)")
	notifyCmd.Flags().IntVar(&notifyLimit, "limit", 50, "max alerts per channel")
	rootCmd.AddCommand(evaluateCmd, notifyCmd)
}
