package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/netpulse/backup"
	"github.com/teranos/netpulse/device"
)

// DeviceCmd groups device and snapshot inspection
var DeviceCmd = &cobra.Command{
	Use:   "device",
	Short: "List devices and their snapshots",
	Long: `List devices and their configuration snapshots.

Examples:
  netpulse device ls
  netpulse device snapshots core-1
  netpulse device config core-1
  netpulse device config core-1 --snapshot 9b1d...`,
}

var deviceLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		devices, err := device.NewStore(a.db).List(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			pterm.Info.Println("No devices")
			return nil
		}
		data := pterm.TableData{{"ID", "Label", "Address", "Platform", "Credentials"}}
		for _, d := range devices {
			creds := d.CredentialID
			if creds == "" && d.TagID != "" {
				creds = "tag:" + d.TagID
			}
			data = append(data, []string{d.ID, d.Label, d.Address(), d.Platform, creds})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var deviceSnapshotsCmd = &cobra.Command{
	Use:   "snapshots <device-id>",
	Short: "List configuration snapshots of a device, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		snaps, err := backup.NewSnapshotStore(a.db).List(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			pterm.Info.Printfln("No snapshots for %s", args[0])
			return nil
		}
		data := pterm.TableData{{"ID", "Captured", "Size", "SHA-256", "Execution"}}
		for _, s := range snaps {
			data = append(data, []string{
				s.ID, s.CapturedAt.Local().Format("2006-01-02 15:04:05"),
				fmt.Sprint(s.Size), s.SHA256[:12], s.ExecutionID,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

var deviceConfigCmd = &cobra.Command{
	Use:   "config <device-id>",
	Short: "Print a stored configuration (latest by default)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshotID, _ := cmd.Flags().GetString("snapshot")

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		store := backup.NewSnapshotStore(a.db)
		var snap *backup.Snapshot
		if snapshotID != "" {
			snap, err = store.Get(cmd.Context(), snapshotID)
		} else {
			snap, err = store.Latest(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), snap.Content)
		return nil
	},
}

func init() {
	deviceSnapshotsCmd.Flags().Int("limit", 20, "Maximum snapshots to list")
	deviceConfigCmd.Flags().String("snapshot", "", "Print this snapshot instead of the latest")

	DeviceCmd.AddCommand(deviceLsCmd)
	DeviceCmd.AddCommand(deviceSnapshotsCmd)
	DeviceCmd.AddCommand(deviceConfigCmd)
}
