package sessions

import (
	"fmt"
	"strconv"

	"github.com/marmos91/gridauth/cmd/authservice/cmdutil"
	"github.com/marmos91/gridauth/pkg/session"
	"github.com/marmos91/gridauth/pkg/store"
	"github.com/spf13/cobra"
)

var filter store.SessionFilter

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	Long: `List the most recent sessions recorded by the service, newest first.

Examples:
  authservice sessions list --limit 20
  authservice sessions list --outcome rejected -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&filter.Outcome, "outcome", "", "Only show sessions with this outcome (rejected, succeeded, failure_sent, abandoned)")
	listCmd.Flags().StringVar(&filter.Subject, "subject", "", "Only show sessions of this subject")
	listCmd.Flags().IntVar(&filter.Limit, "limit", store.DefaultListLimit, "Maximum number of sessions")
}

// SessionList renders session records as a table.
type SessionList []*store.SessionRecord

// Headers implements output.TableRenderer.
func (sl SessionList) Headers() []string {
	return []string{"STARTED", "REMOTE", "MECHANISM", "SUBJECT", "IDENTITY", "OUTCOME", "STATUS", "DURATION"}
}

// Rows implements output.TableRenderer.
func (sl SessionList) Rows() [][]string {
	rows := make([][]string, 0, len(sl))
	for _, r := range sl {
		status := "-"
		if r.Responded {
			status = strconv.Itoa(int(r.StatusCode))
		}
		rows = append(rows, []string{
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.RemoteAddr,
			dash(r.Mechanism),
			dash(r.Subject),
			dash(r.Identity),
			r.Outcome,
			status,
			fmt.Sprintf("%dms", r.DurationMs),
		})
	}
	return rows
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runList(cmd *cobra.Command, _ []string) error {
	if filter.Outcome != "" {
		if _, ok := session.ParseOutcome(filter.Outcome); !ok {
			return fmt.Errorf("unknown outcome %q (valid: rejected, succeeded, failure_sent, abandoned)", filter.Outcome)
		}
	}

	st, err := cmdutil.OpenStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	records, err := st.ListSessions(cmd.Context(), filter)
	if err != nil {
		return err
	}

	return cmdutil.PrintOutput(cmd.OutOrStdout(), records, len(records) == 0,
		"No sessions recorded.", SessionList(records))
}
