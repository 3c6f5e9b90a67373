package idmap

import (
	"errors"
	"fmt"

	"github.com/marmos91/gridauth/cmd/authservice/cmdutil"
	"github.com/marmos91/gridauth/internal/cli/output"
	"github.com/marmos91/gridauth/pkg/store"
	"github.com/spf13/cobra"
)

var (
	addSubject  string
	addUsername string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Bind a local username to a subject",
	RunE:  runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addSubject, "subject", "", "Authenticated subject (required)")
	addCmd.Flags().StringVar(&addUsername, "username", "", "Local username (required)")
	_ = addCmd.MarkFlagRequired("subject")
	_ = addCmd.MarkFlagRequired("username")
}

func runAdd(cmd *cobra.Command, _ []string) error {
	st, err := cmdutil.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	m, err := st.AddIdentityMapping(cmd.Context(), addSubject, addUsername)
	if errors.Is(err, store.ErrDuplicateMapping) {
		return fmt.Errorf("%q is already bound to %q", addUsername, addSubject)
	}
	if err != nil {
		return err
	}

	format, _ := output.ParseFormat(cmdutil.Flags.Output)
	if format != output.FormatTable {
		return cmdutil.PrintOutput(cmd.OutOrStdout(), m, false, "", nil)
	}
	cmdutil.PrintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Bound %s to %s", m.Username, m.Subject))
	return nil
}
