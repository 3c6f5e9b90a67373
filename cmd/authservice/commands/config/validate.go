package config

import (
	"fmt"
	"strconv"

	"github.com/marmos91/gridauth/internal/cli/output"
	"github.com/marmos91/gridauth/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the authservice configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  authservice config validate

  # Validate specific config file
  authservice config validate --config /etc/gridauth/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	switch cfg.Auth.Mechanism {
	case config.MechanismKerberos:
		if cfg.Auth.Kerberos.KeytabPath == "" {
			warnings = append(warnings, "auth.kerberos.keytab_path not set; GRIDAUTH_KERBEROS_KEYTAB must be provided at start")
		}
	case config.MechanismX509:
		if cfg.Auth.GridMapFile == "" && !cfg.Database.Enabled {
			warnings = append(warnings, "no grid-mapfile and no database; no client can be given an identity")
		}
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		printer := output.NewPrinter(out, output.FormatTable, false)
		for _, w := range warnings {
			printer.Warning("  - " + w)
		}
	}

	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	return output.PrintKeyValues(out, [][2]string{
		{"Port", strconv.Itoa(cfg.Server.Port)},
		{"Mechanism", cfg.Auth.Mechanism},
		{"Grid-mapfile", orNone(cfg.Auth.GridMapFile)},
		{"Database", strconv.FormatBool(cfg.Database.Enabled)},
		{"API", strconv.FormatBool(cfg.API.Enabled)},
		{"Log level", cfg.Logging.Level},
	})
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
