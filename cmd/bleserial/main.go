package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bleserial",
	Short: "Serial port over Bluetooth Low Energy",
	Long: `Serial-style byte streams over Bluetooth Low Energy (BLE) peripherals that
expose a UART-like service (RedBear, Nordic UART, HM-10 and custom profiles):

- Scan for nearby serial peripherals
- Open an interactive terminal to a peripheral
- Bridge a peripheral to a PTY so serial tools can use it
- Show vendor name, RSSI and negotiated MTU of a peripheral`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(termCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(infoCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: $XDG_CONFIG_HOME/bleserial/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "Only use the named serial profile (redbear, nordic-uart, hm10 or a configured one)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
