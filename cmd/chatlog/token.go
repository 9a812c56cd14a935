package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gosuda/chatlog/internal/auth"
)

func newTokenCommand() *cobra.Command {
	var (
		accounts []string
		admin    bool
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Issue a reader token for the history API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return errors.New("CHATLOG_JWT_SECRET is required to issue tokens")
			}
			if len(accounts) == 0 {
				return errors.New("at least one --account is required")
			}
			if ttl <= 0 {
				ttl = cfg.JWT.TTL
			}

			token, err := auth.IssueToken(cfg.JWT.Secret, args[0], accounts, admin, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&accounts, "account", "a", nil, "account the token may read ("+auth.AllAccounts+" for all); repeatable")
	cmd.Flags().BoolVar(&admin, "admin", false, "allow clearing history")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default CHATLOG_JWT_TTL)")
	return cmd
}
