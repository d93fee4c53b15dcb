package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	customlog "github.com/open-rov/rovbridge/pkg/log"
	"github.com/open-rov/rovbridge/pkg/mixer"
	"github.com/open-rov/rovbridge/pkg/vehicle"
	"github.com/open-rov/rovbridge/services"
)

var vehicleFile string

// mixCmd represents the mix command
var mixCmd = &cobra.Command{
	Use:   "mix",
	Short: "Print the hardware frame for each pilot frame read from stdin",
	Long: `Reads pilot frames in the control surface format, one JSON value after
another, and prints the serial frame the bridge would send for each:

  echo '{"axes":{"L":[0,-1],"R":[0,0]},"buttons":{"R1":true}}' | rovbridge mix

Without --vehicle the stock five-thruster layout is used.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := services.NewVehicleConfigService(vehicleFile, customlog.NewNop())
		if err != nil {
			return err
		}
		return mixStream(cmd.InOrStdin(), cmd.OutOrStdout(), svc.Current())
	},
}

func init() {
	rootCmd.AddCommand(mixCmd)
	mixCmd.Flags().StringVar(&vehicleFile, "vehicle", "", "vehicle config YAML (default layout when empty)")
}

// mixStream writes one frame line per pilot frame decoded from r.
func mixStream(r io.Reader, w io.Writer, cfg vehicle.Configuration) error {
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)
	for n := 1; ; n++ {
		var f mixer.PilotFrame
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("pilot frame %d: %w", n, err)
		}
		if err := enc.Encode(mixer.Mix(f, cfg)); err != nil {
			return err
		}
	}
}
