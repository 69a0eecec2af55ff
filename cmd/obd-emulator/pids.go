package main

import (
	"fmt"
	"obd-emulator/internal/obd"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var pidsCmd = &cobra.Command{
	Use:   "pids",
	Short: "Print the PIDs the emulator answers and their configured values.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sessionCfg, err := cfg.SessionConfig()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PID\tNAME\tBYTES\tVALUE\tRESPONSE")
		for _, rule := range sessionCfg.PIDs.Rules() {
			response := rule.Response(obd.ServiceCurrentData)
			fmt.Fprintf(w, "0x%02X\t%s\t%d\t0x%0*X\t% 02X\n",
				rule.PID, rule.Label, rule.Width, rule.Width*2, rule.Value, response[:])
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout())
		for _, base := range []byte{0x00, 0x20, 0x40, 0x60} {
			if mask, ok := sessionCfg.PIDs.SupportedMask(base); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Supported PIDs 0x%02X: %08X\n", base, mask)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "VIN: %s\n", cfg.VIN)
		return nil
	},
}
