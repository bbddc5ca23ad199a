package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/arka/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Manage Arka configuration",
}

var configureShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewLoader(cfgFile).Load()
		if err != nil {
			return err
		}
		fmt.Println(cfg.String())
		return nil
	},
}

var configureInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		if err := loader.Save(config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Println("Configuration written. Set ARKA_API_KEY or edit provider.api_key before running.")
		return nil
	},
}

func init() {
	configureCmd.AddCommand(configureShowCmd)
	configureCmd.AddCommand(configureInitCmd)
	rootCmd.AddCommand(configureCmd)
}
