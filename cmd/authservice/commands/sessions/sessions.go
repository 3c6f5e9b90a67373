// Package sessions implements the session audit subcommands.
package sessions

import (
	"github.com/marmos91/gridauth/cmd/authservice/cmdutil"
	"github.com/spf13/cobra"
)

// Cmd is the parent command for the session audit trail.
var Cmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect the session audit trail",
}

func init() {
	cmdutil.AddOutputFlags(Cmd)

	Cmd.AddCommand(listCmd)
}
