package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// CommitsOptions holds flags for the commits command.
type CommitsOptions struct {
	*RootOptions
	Database string
	After    int64
	Limit    int
}

// CommitEntry is the printed form of one commit-log row.
type CommitEntry struct {
	Seq         int64    `json:"seq"`
	Mutation    string   `json:"mutation"`
	CommittedAt string   `json:"committedAt"`
	Touched     []string `json:"touched"`
}

// NewCommitsCommand creates the commits command.
func NewCommitsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commits",
		Short: "List the commit log",
		Long: `List committed mutations in commit order with the index ranges
each one touched. Useful for seeing why a subscription was invalidated.

Examples:
  livechat commits --db chat.db
  livechat commits --after 120 --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommits(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store.path)")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "show commits with seq greater than this")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of commits")

	return cmd
}

func runCommits(opts *CommitsOptions, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, "--limit must be positive")
	}

	cfg, err := loadConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	a, err := openApp(cfg, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer a.close()

	commits, err := a.store.Commits(cmd.Context(), opts.After, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read commits", err)
	}

	entries := make([]CommitEntry, 0, len(commits))
	for _, c := range commits {
		entries = append(entries, CommitEntry{
			Seq:         c.Seq,
			Mutation:    c.Name,
			CommittedAt: time.UnixMilli(c.CommittedAt).UTC().Format(time.RFC3339Nano),
			Touched:     c.Touched.Strings(),
		})
	}

	if opts.Format == "json" {
		return out.Success(entries)
	}

	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No commits.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%6d  %s  %s\n", e.Seq, e.CommittedAt, e.Mutation)
		for _, r := range e.Touched {
			fmt.Fprintf(w, "        %s\n", r)
		}
	}
	return nil
}
