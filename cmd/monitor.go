package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var monitorJSON bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check evaluation and request health and send alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "monitor", envNeeds{})
		if err != nil {
			return err
		}
		defer env.Close()

		checker, err := env.monitorChecker()
		if err != nil {
			return err
		}
		report, err := checker.Check(ctx)
		if err != nil {
			return eris.Wrap(err, "monitor")
		}
		if monitorJSON {
			return writeJSON(os.Stdout, report)
		}
		if len(report.Alerts) == 0 {
			fmt.Println("No alerts triggered.")
			return nil
		}
		for _, a := range report.Alerts {
			fmt.Printf("[%s] %s: %s\n", a.Severity, a.Type, a.Message)
		}
		fmt.Printf("%d of %d alert(s) delivered.\n", report.Sent, len(report.Alerts))
		return nil
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorJSON, "json", false, "print the full report as JSON")
	rootCmd.AddCommand(monitorCmd)
}
