// Package config implements the configuration subcommands of authservice.
package config

import "github.com/spf13/cobra"

// Cmd is the parent command for configuration management.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the service configuration",
	Long: `Create, inspect and validate the authservice configuration file.

The file is read from $XDG_CONFIG_HOME/gridauth/config.yaml unless --config
names another one. Every key can be overridden with a GRIDAUTH_ environment
variable, e.g. GRIDAUTH_SERVER_PORT or GRIDAUTH_AUTH_MECHANISM.`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(schemaCmd)
	Cmd.AddCommand(validateCmd)
}
