package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/netpulse/am"
	"github.com/teranos/netpulse/errors"
)

// AmCmd manages configuration
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and initialise configuration",
	Long: `Show and initialise netpulse configuration.

Configuration sources (in order of precedence):
1. Command line flags (--config, --db)
2. Environment variables (NETPULSE_* prefix)
3. Project config (./netpulse.toml, searched upwards)
4. User config (~/.netpulse/config.toml)
5. System config (/etc/netpulse/config.toml)
6. Default values

Examples:
  netpulse am show
  netpulse am show --format json
  netpulse am where
  netpulse am init ~/.netpulse/config.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to path.

An existing file is rotated to a numbered backup before it is replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runAmInit,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, _, err := am.Load(configPath)
	if err != nil {
		return err
	}
	// Never print the sealing passphrase
	if cfg.Secrets.Passphrase != "" {
		cfg.Secrets.Passphrase = "***"
	}

	out := cmd.OutOrStdout()
	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# netpulse configuration\n%s", data)
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(out, "# netpulse configuration\n%s", data)
	default:
		return errors.NewConfigurationError("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		pterm.Info.Printfln("Explicit config: %s", configPath)
		return nil
	}

	data := pterm.TableData{{"Precedence", "Path", "Status"}}
	for i, path := range am.SearchPaths() {
		status := "missing"
		if _, err := os.Stat(path); err == nil {
			status = "loaded"
		}
		data = append(data, []string{fmt.Sprint(i + 1), path, status})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runAmInit(cmd *cobra.Command, args []string) error {
	cfg, err := am.DefaultConfig()
	if err != nil {
		return err
	}
	if err := am.WriteConfig(args[0], cfg); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote default configuration to %s", args[0])
	return nil
}
