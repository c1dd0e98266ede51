package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/netpulse/backup"
	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/pulse/tracker"
)

// BackupCmd runs device jobs in the foreground
var BackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a configuration backup now",
}

var backupRunCmd = &cobra.Command{
	Use:   "run <device-id>",
	Short: "Retrieve a device configuration now",
	Long: `Retrieve a device configuration now, outside any schedule.

The job runs in this process through the same path as scheduled jobs and
is recorded as an execution. Ctrl+C cancels it between connection attempts.
With --command the given command is run instead and its output recorded.

Examples:
  netpulse backup run core-1
  netpulse backup run core-1 --user ops
  netpulse backup run edge-7 --command "show version"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		command, _ := cmd.Flags().GetString("command")

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.services()
		if err != nil {
			return err
		}

		kind := backup.KindConfigBackup
		if command != "" {
			kind = backup.KindDeviceCommand
		}
		job, err := backup.NewManualJob(kind, backup.Payload{
			DeviceID: args[0],
			UserID:   userID,
			Command:  command,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Running %s on %s", kind, args[0]))
		runErr := s.registry.Execute(ctx, job)

		latest, err := s.executions.ListExecutions(context.Background(), tracker.ExecutionFilter{
			DeviceID: args[0],
			Kind:     kind,
			Limit:    1,
		})
		if err == nil && len(latest) == 1 {
			e := latest[0]
			msg := fmt.Sprintf("%s %s: %s (execution %s)", kind, e.Status, e.ResultMessage, e.ID)
			if e.Status == tracker.StatusCompleted {
				spinner.Success(msg)
			} else {
				spinner.Fail(msg)
			}
		} else if runErr != nil {
			spinner.Fail(runErr.Error())
		} else {
			spinner.Success(kind + " finished")
		}

		if runErr != nil {
			return errors.Wrapf(runErr, "%s on %s failed", kind, args[0])
		}
		return nil
	},
}

func init() {
	backupRunCmd.Flags().String("user", "", "Notify this user when the job ends")
	backupRunCmd.Flags().String("command", "", "Run this command instead of retrieving the configuration")
	BackupCmd.AddCommand(backupRunCmd)
}
