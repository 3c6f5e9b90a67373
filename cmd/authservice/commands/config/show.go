package config

import (
	"github.com/marmos91/gridauth/internal/cli/output"
	"github.com/marmos91/gridauth/pkg/config"
	"github.com/spf13/cobra"
)

var showFormat string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and
GRIDAUTH_ environment variables have been merged.

Examples:
  authservice config show
  GRIDAUTH_SERVER_PORT=7512 authservice config show -o json`,
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showFormat, "output", "o", "yaml", "Output format (yaml|json)")
}

func runShow(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadUnvalidated(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showFormat)
	if err != nil {
		return err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format, false).Print(cfg)
}
