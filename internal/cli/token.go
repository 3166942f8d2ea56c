package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/livechat/internal/transport"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Name string
	TTL  time.Duration
}

// TokenResult is the JSON payload of the token command.
type TokenResult struct {
	Token     string `json:"token"`
	Subject   string `json:"subject"`
	ExpiresAt string `json:"expiresAt"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a development access token",
		Long: `Sign an HS256 access token with auth.secret for the given subject.
Intended for local development and tests; production tokens come from the
identity provider that shares the secret.

Example:
  LIVECHAT_JWT_SECRET=dev livechat token alice --name Alice --ttl 24h`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name claim")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "token lifetime")

	return cmd
}

func runToken(opts *TokenOptions, subject string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if opts.TTL <= 0 {
		return NewExitError(ExitCommandError, "--ttl must be positive")
	}

	cfg, err := loadConfig(opts.RootOptions, "")
	if err != nil {
		return err
	}
	auth := transport.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	if auth == nil {
		return NewExitError(ExitCommandError, "auth.secret is not configured (set LIVECHAT_JWT_SECRET)")
	}

	token, err := auth.Issue(subject, opts.Name, opts.TTL)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to sign token", err)
	}

	if opts.Format == "json" {
		return out.Success(TokenResult{
			Token:     token,
			Subject:   subject,
			ExpiresAt: time.Now().Add(opts.TTL).UTC().Format(time.RFC3339),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
