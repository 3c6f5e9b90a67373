// Package idmap implements the identity mapping subcommands, which edit the
// subject-to-username bindings kept in the database.
package idmap

import (
	"github.com/marmos91/gridauth/cmd/authservice/cmdutil"
	"github.com/spf13/cobra"
)

// Cmd is the parent command for identity mapping management.
var Cmd = &cobra.Command{
	Use:   "idmap",
	Short: "Manage stored identity mappings",
	Long: `Manage the identity mappings kept in the database.

A mapping binds an authenticated subject (a Kerberos principal such as
alice@EXAMPLE.COM, or a certificate subject such as
"/DC=org/DC=example/CN=Alice Smith") to a local username. These mappings are
consulted alongside the static map and the grid-mapfile.

Examples:
  # List all mappings
  authservice idmap list

  # Bind a principal to a local user
  authservice idmap add --subject alice@EXAMPLE.COM --username alice

  # Remove every binding of a subject
  authservice idmap remove --subject alice@EXAMPLE.COM`,
}

func init() {
	cmdutil.AddOutputFlags(Cmd)

	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(addCmd)
	Cmd.AddCommand(removeCmd)
}
