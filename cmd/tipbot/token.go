package main

import (
	"errors"
	"fmt"

	"github.com/Maphikza/tipbot-engine/internal/api"
	"github.com/spf13/cobra"
)

var tokenTTL string

var tokenCmd = &cobra.Command{
	Use:   "token [service]",
	Short: "Issue an API token for a chat frontend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.API.JWTSecret == "" {
			return errors.New("api.jwt_secret is not configured")
		}
		ttl, err := parseTTL(tokenTTL)
		if err != nil {
			return err
		}
		token, err := api.IssueToken([]byte(cfg.API.JWTSecret), args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenTTL, "ttl", "0", "token lifetime (e.g. 720h), 0 for no expiry")
}
