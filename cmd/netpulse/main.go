package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/netpulse/cmd/netpulse/commands"
)

var rootCmd = &cobra.Command{
	Use:   "netpulse",
	Short: "netpulse - scheduled configuration retrieval for network devices",
	Long: `netpulse - scheduled configuration retrieval for network devices.

netpulse connects to routers and switches on a schedule, retrieves their
running configuration and keeps a history of every execution.

Available commands:
  pulse     - Run the scheduler and worker pool
  schedule  - Inspect and toggle schedules
  exec      - Inspect job executions
  backup    - Run a configuration backup now
  device    - List devices and their snapshots
  inventory - Import devices, credentials and schedules from YAML
  notify    - Deliver queued digest notifications
  db        - Migrate and clean up the database
  am        - Show and initialise configuration
  version   - Print version information

Examples:
  netpulse inventory import inventory.yaml
  netpulse pulse start
  netpulse schedule next
  netpulse exec ls --status failed`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: search /etc/netpulse, ~/.netpulse, ./netpulse.toml)")
	rootCmd.PersistentFlags().String("db", "", "Database path (overrides database.path)")

	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.ExecCmd)
	rootCmd.AddCommand(commands.BackupCmd)
	rootCmd.AddCommand(commands.DeviceCmd)
	rootCmd.AddCommand(commands.InventoryCmd)
	rootCmd.AddCommand(commands.NotifyCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
