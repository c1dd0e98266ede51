package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/internal/util"
	"github.com/teranos/netpulse/logger"
	"github.com/teranos/netpulse/pulse/tracker"
)

// ExecCmd groups execution history commands
var ExecCmd = &cobra.Command{
	Use:   "exec",
	Short: "Inspect job executions",
	Long: `Inspect job executions and their logs.

Examples:
  netpulse exec ls
  netpulse exec ls --status failed --device core-1
  netpulse exec show 3f2a9c1e-...
  netpulse exec show 3f2a9c1e-... --category connection --json`,
}

var execLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent executions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		deviceID, _ := cmd.Flags().GetString("device")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		execs, err := tracker.NewSQLStore(a.db).ListExecutions(cmd.Context(), tracker.ExecutionFilter{
			Status:   tracker.Status(status),
			DeviceID: deviceID,
			Kind:     kind,
			Limit:    limit,
		})
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			pterm.Info.Println("No executions")
			return nil
		}

		data := pterm.TableData{{"ID", "Kind", "Device", "Status", "Started", "Duration", "Result"}}
		for _, e := range execs {
			data = append(data, []string{
				e.ID, e.Kind, e.DeviceID, statusLabel(e.Status),
				e.StartTime.Local().Format("2006-01-02 15:04:05"),
				formatDuration(e), util.Truncate(e.ResultMessage, 60),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var execShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show an execution and its log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("level")
		category, _ := cmd.Flags().GetString("category")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		store := tracker.NewSQLStore(a.db)
		e, err := store.GetExecution(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		filter := tracker.LogFilter{Category: category}
		if level != "" {
			filter.Level = logger.ParseLevel(level)
		}
		entries, err := store.ListLogEntries(cmd.Context(), e.ID, filter)
		if err != nil {
			return err
		}

		if asJSON {
			data, err := json.MarshalIndent(struct {
				*tracker.Execution
				Entries []tracker.LogEntry `json:"entries"`
			}{e, entries}, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal execution")
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		pterm.DefaultSection.Printfln("Execution %s", e.ID)
		fields := pterm.TableData{
			{"Kind", e.Kind},
			{"Status", statusLabel(e.Status)},
			{"Device", e.DeviceID},
			{"User", e.UserID},
			{"Correlation", e.CorrelationID},
			{"Started", e.StartTime.Local().Format(time.RFC3339)},
			{"Duration", formatDuration(e)},
			{"Result", e.ResultMessage},
		}
		if expires, ok := e.ExpiresAt(); ok {
			fields = append(fields, []string{"Expires", expires.Local().Format(time.RFC3339)})
		}
		if err := pterm.DefaultTable.WithData(fields).Render(); err != nil {
			return err
		}

		pterm.DefaultSection.Printfln("Log (%d entries)", len(entries))
		data := pterm.TableData{{"Time", "Level", "Category", "Message"}}
		for _, entry := range entries {
			data = append(data, []string{
				entry.Timestamp.Local().Format("15:04:05.000"),
				string(entry.Level), entry.Category, entry.Message,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var execRmCmd = &cobra.Command{
	Use:   "rm <execution-id>",
	Short: "Delete an execution and its log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := tracker.NewSQLStore(a.db).DeleteExecution(cmd.Context(), args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("Deleted execution %s", args[0])
		return nil
	},
}

func statusLabel(s tracker.Status) string {
	switch s {
	case tracker.StatusCompleted:
		return pterm.Green(string(s))
	case tracker.StatusFailed:
		return pterm.Red(string(s))
	case tracker.StatusCanceled:
		return pterm.Yellow(string(s))
	default:
		return pterm.Cyan(string(s))
	}
}

func formatDuration(e *tracker.Execution) string {
	if e.DurationMs == nil {
		return "-"
	}
	return e.Duration().Round(time.Millisecond).String()
}

func init() {
	execLsCmd.Flags().String("status", "", "Filter by status (running, completed, failed, canceled)")
	execLsCmd.Flags().String("device", "", "Filter by device id")
	execLsCmd.Flags().String("kind", "", "Filter by job kind")
	execLsCmd.Flags().Int("limit", 50, "Maximum executions to list")

	execShowCmd.Flags().String("level", "", "Only entries at this level")
	execShowCmd.Flags().String("category", "", "Only entries in this category")
	execShowCmd.Flags().Bool("json", false, "Print as JSON")

	ExecCmd.AddCommand(execLsCmd)
	ExecCmd.AddCommand(execShowCmd)
	ExecCmd.AddCommand(execRmCmd)
}
