package idmap

import (
	"errors"
	"fmt"

	"github.com/marmos91/gridauth/cmd/authservice/cmdutil"
	"github.com/marmos91/gridauth/pkg/store"
	"github.com/spf13/cobra"
)

var (
	removeSubject  string
	removeUsername string
)

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove identity mappings of a subject",
	Long: `Remove the binding of --username to --subject, or every binding of
--subject when --username is omitted.`,
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().StringVar(&removeSubject, "subject", "", "Authenticated subject (required)")
	removeCmd.Flags().StringVar(&removeUsername, "username", "", "Local username")
	_ = removeCmd.MarkFlagRequired("subject")
}

func runRemove(cmd *cobra.Command, _ []string) error {
	st, err := cmdutil.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	err = st.RemoveIdentityMapping(cmd.Context(), removeSubject, removeUsername)
	if errors.Is(err, store.ErrMappingNotFound) {
		return fmt.Errorf("no identity mapping for %q", removeSubject)
	}
	if err != nil {
		return err
	}

	cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Removed identity mapping for %s", removeSubject))
	return nil
}
