package cli

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/livechat/internal/chat"
	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/transport"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Database string
	As       string // subject to act as; empty runs anonymously
	Name     string // display name; defaults to the subject
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <operation> [args-json]",
		Short: "Run a query or mutation against the database",
		Long: `Run one named query or mutation in-process and print its result.

The operation runs as the user identified by --as (signed in through
users:store first, like a token-authenticated request) or anonymously.

Exit codes:
  0 - Operation succeeded
  1 - Operation returned an error
  2 - Command error (unknown operation, bad args, database)

Examples:
  livechat exec users:current --as alice
  livechat exec conversations:getOrCreate '{"otherUserId":"..."}' --as alice
  livechat exec messages:search '{"searchTerm":"hi"}' --as bob --format json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := "{}"
			if len(args) == 2 {
				raw = args[1]
			}
			return runExec(opts, args[0], raw, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides store.path)")
	cmd.Flags().StringVar(&opts.As, "as", "", "subject to act as")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name for --as")

	return cmd
}

func runExec(opts *ExecOptions, name, rawArgs string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if !json.Valid([]byte(rawArgs)) {
		return NewExitError(ExitCommandError, fmt.Sprintf("args must be valid JSON: %s", rawArgs))
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

	isQuery := slices.Contains(a.engine.Queries(), name)
	if !isQuery && !slices.Contains(a.engine.Mutations(), name) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown operation %q", name))
	}

	ctx := cmd.Context()
	var ident *engine.Identity
	if opts.As != "" {
		displayName := opts.Name
		if displayName == "" {
			displayName = opts.As
		}
		ident = &engine.Identity{
			TokenIdentifier: transport.TokenIdentifier(cfg.Auth.Issuer, opts.As),
			Name:            displayName,
		}
	}
	caller, err := chat.ResolveCaller(ctx, a.engine, ident)
	if err != nil {
		return out.OperationError("users:store", err)
	}
	out.VerboseLog("%s %s as %q (user %q)", kind(isQuery), name, opts.As, caller.UserID)

	var result json.RawMessage
	if isQuery {
		result, err = a.engine.Query(ctx, caller, name, json.RawMessage(rawArgs))
	} else {
		result, err = a.engine.Mutate(ctx, caller, name, json.RawMessage(rawArgs))
	}
	if err != nil {
		return out.OperationError(name, err)
	}
	return out.Success(result)
}

func kind(isQuery bool) string {
	if isQuery {
		return "query"
	}
	return "mutation"
}
