// Package cmdutil provides shared utilities for authservice subcommands.
package cmdutil

import (
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/gridauth/internal/cli/output"
	"github.com/marmos91/gridauth/pkg/config"
	"github.com/marmos91/gridauth/pkg/store"
	"github.com/spf13/cobra"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	Output  string
	NoColor bool
}

// AddOutputFlags registers the output flags on a command group.
func AddOutputFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	cmd.PersistentFlags().BoolVar(&Flags.NoColor, "no-color", false, "Disable colored output")
}

// OpenStore opens the database configured in the file named by the
// inherited --config flag.
func OpenStore(cmd *cobra.Command) (*store.GORMStore, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadUnvalidated(configPath)
	if err != nil {
		return nil, err
	}
	if !cfg.Database.Enabled {
		return nil, errors.New("the database is disabled; set database.enabled in the configuration")
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return store.New(&cfg.Database)
}

// PrintOutput prints data in the selected format. For table format it prints
// emptyMsg when isEmpty is set and renders table otherwise.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, table output.TableRenderer) error {
	format, err := output.ParseFormat(Flags.Output)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, table)
	}
}

// PrintSuccess prints msg when the output format is table.
func PrintSuccess(w io.Writer, msg string) {
	format, err := output.ParseFormat(Flags.Output)
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(w, format, !Flags.NoColor).Success(msg)
}
