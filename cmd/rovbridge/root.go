package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/bridge_config.yaml"

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rovbridge",
	Short: "Bridge between a browser control surface and an ROV's embedded controller",
	Long: `rovbridge connects a gamepad-driven control surface to the ESP32 on board
an ROV over a serial link.

The 'serve' command runs the bridge: HTTP/WebSocket API, serial links and the
optional ZeroMQ telemetry feed.

The 'ports' command lists the serial ports present on this machine.

The 'mix' command reads pilot frames as JSON from stdin and prints the
hardware frame the bridge would send, which is handy for checking thruster
wiring on the bench.
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "bootstrap config file")
}
