package idmap

import (
	"fmt"

	"github.com/marmos91/gridauth/cmd/authservice/cmdutil"
	"github.com/marmos91/gridauth/pkg/store"
	"github.com/spf13/cobra"
)

var listSubject string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List identity mappings",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listSubject, "subject", "", "Only show mappings of this subject")
}

// MappingList renders identity mappings as a table.
type MappingList []*store.IdentityMapping

// Headers implements output.TableRenderer.
func (ml MappingList) Headers() []string {
	return []string{"SUBJECT", "USERNAME", "CREATED"}
}

// Rows implements output.TableRenderer.
func (ml MappingList) Rows() [][]string {
	rows := make([][]string, 0, len(ml))
	for _, m := range ml {
		rows = append(rows, []string{m.Subject, m.Username, m.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	return rows
}

func runList(cmd *cobra.Command, _ []string) error {
	st, err := cmdutil.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	mappings, err := st.ListIdentityMappings(cmd.Context(), listSubject)
	if err != nil {
		return fmt.Errorf("failed to list identity mappings: %w", err)
	}

	return cmdutil.PrintOutput(cmd.OutOrStdout(), mappings, len(mappings) == 0,
		"No identity mappings found.", MappingList(mappings))
}
