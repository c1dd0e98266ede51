package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/notify"
)

// NotifyCmd groups notification commands
var NotifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Deliver queued digest notifications",
}

var notifyFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Send pending digests now",
	Long: `Send one combined notification per recipient for every pending digest
item of the given frequency. The daemon does this on its own every hour and
every day.

Examples:
  netpulse notify flush --frequency daily`,
	RunE: func(cmd *cobra.Command, args []string) error {
		freq, _ := cmd.Flags().GetString("frequency")
		frequency := notify.Frequency(freq)
		if !frequency.Valid() || frequency == notify.FrequencyImmediate {
			return errors.NewConfigurationError("frequency must be hourly or daily, got %q", freq)
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
		sent, err := s.dispatcher.FlushDigest(cmd.Context(), s.prefs, frequency)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Sent %s digest to %d recipient(s)", frequency, sent)
		return nil
	},
}

func init() {
	notifyFlushCmd.Flags().String("frequency", string(notify.FrequencyDaily), "Digest frequency: hourly or daily")
	NotifyCmd.AddCommand(notifyFlushCmd)
}
