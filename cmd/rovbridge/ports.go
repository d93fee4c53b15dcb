package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-rov/rovbridge/pkg/link"
)

// portsCmd represents the ports command
var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports present on this machine",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ports, err := link.SystemEnumerator()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "No serial ports found")
			return nil
		}
		for _, p := range ports {
			if p.Manufacturer == "" {
				fmt.Fprintln(out, p.Path)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\n", p.Path, p.Manufacturer)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
