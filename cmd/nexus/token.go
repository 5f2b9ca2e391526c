package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/nexus/internal/middleware"
)

// TokenCmd issues a bearer token for the HTTP API.
func TokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with server.auth_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := middleware.IssueToken(ServerConfig.Server.AuthSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime (0 never expires)")
	return cmd
}
