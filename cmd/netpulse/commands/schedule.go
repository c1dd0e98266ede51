package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/pulse/schedule"
)

// ScheduleCmd groups schedule inspection
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect and toggle schedules",
	Long: `Inspect and toggle schedules.

Schedules are created with 'netpulse inventory import'.

Examples:
  netpulse schedule ls
  netpulse schedule next
  netpulse schedule toggle nightly-core --disable
  netpulse schedule rm nightly-core`,
}

var scheduleLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		defs, err := schedule.NewStore(a.db).ListDefinitions(cmd.Context())
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			pterm.Info.Println("No schedules")
			return nil
		}
		return renderSchedules(defs)
	},
}

var scheduleNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show enabled schedules in the order they will run",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		defs, err := schedule.NewStore(a.db).ListDefinitions(cmd.Context())
		if err != nil {
			return err
		}
		upcoming := defs[:0]
		for _, d := range defs {
			if d.Enabled && d.NextRunAt != nil {
				upcoming = append(upcoming, d)
			}
		}
		if len(upcoming) == 0 {
			pterm.Info.Println("Nothing scheduled")
			return nil
		}
		sort.SliceStable(upcoming, func(i, j int) bool {
			return upcoming[i].NextRunAt.Before(*upcoming[j].NextRunAt)
		})
		return renderSchedules(upcoming)
	},
}

var scheduleToggleCmd = &cobra.Command{
	Use:   "toggle <schedule-id>",
	Short: "Enable or disable a schedule",
	Long: `Enable or disable a schedule. Disabling clears the next run; enabling
computes it from now.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enable, _ := cmd.Flags().GetBool("enable")
		disable, _ := cmd.Flags().GetBool("disable")
		if enable == disable {
			return errors.NewConfigurationError("exactly one of --enable or --disable is required")
		}

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := schedule.NewStore(a.db).SetEnabled(cmd.Context(), args[0], enable, time.Now())
		if err != nil {
			return err
		}
		if d.Enabled {
			pterm.Success.Printfln("Enabled %s, next run %s", d.ID, formatTimePtr(d.NextRunAt))
		} else {
			pterm.Success.Printfln("Disabled %s", d.ID)
		}
		return nil
	},
}

var scheduleRmCmd = &cobra.Command{
	Use:   "rm <schedule-id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := schedule.NewStore(a.db).DeleteDefinition(cmd.Context(), args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("Deleted schedule %s", args[0])
		return nil
	},
}

func renderSchedules(defs []*schedule.Definition) error {
	data := pterm.TableData{{"ID", "Name", "Recurrence", "Kind", "Device", "Enabled", "Last run", "Next run"}}
	for _, d := range defs {
		data = append(data, []string{
			d.ID, d.Name, describeRecurrence(d.Recurrence), d.JobKind, d.DeviceID,
			fmt.Sprint(d.Enabled), formatTimePtr(d.LastRunAt), formatTimePtr(d.NextRunAt),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func describeRecurrence(r schedule.Recurrence) string {
	switch r.Kind {
	case schedule.KindOneTime:
		return "once at " + formatTimePtr(r.StartAt)
	case schedule.KindDaily:
		return "daily " + r.Time
	case schedule.KindWeekly:
		return fmt.Sprintf("weekly %s %s", r.Day, r.Time)
	case schedule.KindMonthly:
		return fmt.Sprintf("monthly day %s %s", r.Day, r.Time)
	case schedule.KindYearly:
		return fmt.Sprintf("yearly %s %s %s", time.Month(r.Month), r.Day, r.Time)
	default:
		return string(r.Kind)
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func init() {
	scheduleToggleCmd.Flags().Bool("enable", false, "Enable the schedule")
	scheduleToggleCmd.Flags().Bool("disable", false, "Disable the schedule")

	ScheduleCmd.AddCommand(scheduleLsCmd)
	ScheduleCmd.AddCommand(scheduleNextCmd)
	ScheduleCmd.AddCommand(scheduleToggleCmd)
	ScheduleCmd.AddCommand(scheduleRmCmd)
}
