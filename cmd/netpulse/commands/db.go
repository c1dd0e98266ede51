package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/netpulse/pulse/tracker"
)

// DbCmd groups database maintenance
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Migrate and clean up the database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	Long: `Apply pending schema migrations. Every command migrates on open, so
this is only needed to prepare a database ahead of time.

Examples:
  netpulse db migrate
  netpulse --db /var/lib/netpulse/netpulse.db db migrate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		pterm.Success.Printfln("Database %s is up to date", a.cfg.Database.Path)
		return nil
	},
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete executions past their retention window",
	Long: `Delete executions whose retention window has elapsed, along with
their log entries. Running executions are never removed.

Examples:
  netpulse db cleanup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := tracker.NewSQLStore(a.db).CleanupExpired(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Deleted %d expired execution(s)", deleted)
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbCleanupCmd)
}
