package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/netpulse/inventory"
)

// InventoryCmd groups inventory commands
var InventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Import devices, credentials and schedules from YAML",
}

var inventoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an inventory file",
	Long: `Import an inventory file. Credentials, tag bindings, devices and
notification preferences are upserted; schedules whose id already exists
are left untouched so re-importing never resets their next run.

Secrets are read from the environment variable named by secret_env.

Examples:
  netpulse inventory import inventory.yaml
  netpulse inventory import inventory.yaml --check`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")

		f, err := inventory.ParseFile(args[0])
		if err != nil {
			return err
		}
		if err := f.Validate(); err != nil {
			return err
		}
		if check {
			pterm.Success.Printfln("%s is valid (%d credentials, %d devices, %d schedules)",
				args[0], len(f.Credentials), len(f.Devices), len(f.Schedules))
			return nil
		}

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.services()
		if err != nil {
			return err
		}
		rep, err := inventory.NewImporter(s.creds, s.devices, s.schedules, s.prefs, a.log).
			Import(cmd.Context(), f, time.Now())
		if err != nil {
			return err
		}

		data := pterm.TableData{
			{"Credentials", fmt.Sprint(rep.Credentials)},
			{"Tag bindings", fmt.Sprint(rep.Bindings)},
			{"Devices", fmt.Sprint(rep.Devices)},
			{"Schedules created", fmt.Sprint(rep.SchedulesCreated)},
			{"Schedules skipped", fmt.Sprint(rep.SchedulesSkipped)},
			{"Notification preferences", fmt.Sprint(rep.Preferences)},
		}
		if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
			return err
		}
		pterm.Success.Printfln("Imported %s", args[0])
		return nil
	},
}

func init() {
	inventoryImportCmd.Flags().Bool("check", false, "Only parse and validate the file")
	InventoryCmd.AddCommand(inventoryImportCmd)
}
