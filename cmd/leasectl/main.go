/*
main.go - leasectl, command-line access to the lease engine

PURPOSE:
  Runs the same engine operations as the HTTP API directly against a
  SQLite database. Useful for cron-driven daily runs, backfills and
  onboarding agreements from extraction output.

COMMANDS:
  confirm <file>        Confirm an agreement (JSON body, or --extraction output)
  generate [agreement]  Generate payment records (all agreements when omitted)
  sweep                 Sweep agreement lifecycle and payment statuses
  payments              List payment records
  alerts                Schedule alerts, then list them
  run                   Full daily run

COMMON FLAGS:
  --db      SQLite database path (default: DB_PATH or lease.db)
  --as-of   Reference date, YYYY-MM-DD (default: today)

SEE ALSO:
  - cmd/server/main.go: HTTP server over the same store
  - lease/engine.go: Operations invoked here
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grospace/lease-engine/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	opts := &options{cfg: cfg}
	rootCmd := &cobra.Command{
		Use:           "leasectl",
		Short:         "Lease obligation, payment and alert engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", cfg.DBPath, "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&opts.asOf, "as-of", "", "Reference date (YYYY-MM-DD, default today)")

	rootCmd.AddCommand(
		confirmCmd(opts),
		generateCmd(opts),
		sweepCmd(opts),
		paymentsCmd(opts),
		alertsCmd(opts),
		runCmd(opts),
	)
	return rootCmd
}
