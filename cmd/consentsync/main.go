package main

import (
	"consentsync/internal/di"
	"consentsync/internal/structures"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	flags := &structures.CliFlags{}

	rootCmd := &cobra.Command{
		Use:           "consentsync",
		Short:         "Local sync daemon for studio configuration and consent records",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := di.InitApp(flags)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "config/config.yml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&flags.DebugMode, "debug", "d", false, "log to the console as well")

	rootCmd.AddCommand(newOfflineCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newOfflineCmd flips the durable offline-mode flag. Run it while the
// daemon is stopped; a running daemon overwrites the snapshot on exit.
func newOfflineCmd(flags *structures.CliFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "offline [on|off]",
		Short:     "Show or set offline mode",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := di.InitMaintenance(flags)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "offline mode: %s\n", onOff(m.State.IsOfflineMode()))
				return nil
			}

			switch args[0] {
			case "on":
				m.State.SetOfflineMode(true)
			case "off":
				m.State.SetOfflineMode(false)
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			if err := m.Scheduler.Persist(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "offline mode: %s\n", onOff(m.State.IsOfflineMode()))
			return nil
		},
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
