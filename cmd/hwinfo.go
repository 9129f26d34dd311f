package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var hwinfoCmd = &cobra.Command{
	Use:   "hwinfo",
	Short: "Print the hardware info an instance built from the given config would report",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		servedConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, closer, err := buildTA(servedConfig)
		if err != nil {
			return err
		}
		defer closer()

		info := instance.GetHardwareInfo()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(info); err != nil {
			return fmt.Errorf("encoding hardware info: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hwinfoCmd)
}
