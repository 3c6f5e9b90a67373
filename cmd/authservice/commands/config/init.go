package config

import (
	"fmt"

	"github.com/marmos91/gridauth/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file populated with the default values.

Examples:
  # Create the default config file
  authservice config init

  # Create it at a custom location, replacing an existing file
  authservice config init --config /etc/gridauth/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing file")
}

func runInit(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	var (
		path string
		err  error
	)
	if configPath != "" {
		path = configPath
		err = config.InitConfigToPath(path, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  1. Set auth.kerberos.keytab_path (or the auth.x509 files)")
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  2. Start the service: authservice --config %s -p <port>\n", path)
	return nil
}
