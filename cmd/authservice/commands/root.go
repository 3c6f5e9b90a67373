// Package commands implements the authservice command line.
package commands

import (
	"strings"

	"github.com/marmos91/gridauth/cmd/authservice/commands/config"
	"github.com/marmos91/gridauth/cmd/authservice/commands/idmap"
	"github.com/marmos91/gridauth/cmd/authservice/commands/sessions"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd serves when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "authservice -p <port> [-log <path>]",
	Short: "gridauth authentication service",
	Long: `authservice accepts authenticated connections and tells each client
which local identity its credential maps to.

Every connection is served on its own goroutine. The credential is verified
during the handshake (Kerberos/SPNEGO or mutual TLS); the authenticated
subject is then mapped to its local principals and the lexicographically
smallest one is reported back.

Examples:
  # Serve on port 7512, logging to stdout
  authservice -p 7512

  # Append logs to a file
  authservice -p 7512 -log /var/log/gridauth.log

  # Use a configuration file
  authservice --config /etc/gridauth/config.yaml -p 7512

Use "authservice [command] --help" for more information about a command.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

// Execute runs the root command with args.
func Execute(args []string) error {
	rootCmd.SetArgs(normalizeArgs(args))
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/gridauth/config.yaml)")

	addServeFlags(rootCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(idmap.Cmd)
	rootCmd.AddCommand(sessions.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// legacyLongFlags are long options historically spelled with a single dash.
// pflag would read them as shorthand clusters.
var legacyLongFlags = []string{"log"}

// normalizeArgs rewrites "-log" and "-log=x" to their double-dash form.
// Arguments after "--" are left alone.
func normalizeArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)

	for i, a := range out {
		if a == "--" {
			break
		}
		for _, name := range legacyLongFlags {
			if a == "-"+name || strings.HasPrefix(a, "-"+name+"=") {
				out[i] = "-" + a
			}
		}
	}
	return out
}
