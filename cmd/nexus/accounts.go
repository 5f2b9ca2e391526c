package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/nexus/internal/auth"
)

// AccountsCmd manages the ring of signed-in Google accounts used by the web backend.
func AccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage web account rotation",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List account indices; the active one is marked",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			if err := svcCtx.Accounts.EnsureInitialized(cmd.Context()); err != nil {
				return err
			}
			current := svcCtx.Accounts.CurrentIndex()
			for _, idx := range svcCtx.Accounts.AccountIndices() {
				marker := "  "
				if idx == current {
					marker = successStyle.Render("* ")
				}
				fmt.Printf("%s%d  %s\n", marker, idx, idStyle.Render(fmt.Sprintf("gemini.google.com/u/%d/", idx)))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <indices>",
		Short: "Set the account ring, e.g. \"0,1,3\"",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			indices := auth.ParseIndices(strings.Join(args, ","))
			if err := svcCtx.Accounts.SetAccounts(cmd.Context(), indices); err != nil {
				return err
			}
			fmt.Println(successStyle.Render(fmt.Sprintf("Accounts set to %v", indices)))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Switch to the next account",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			if err := svcCtx.Accounts.EnsureInitialized(cmd.Context()); err != nil {
				return err
			}
			idx, err := svcCtx.Accounts.RotateAccount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(successStyle.Render(fmt.Sprintf("Active account index: %d", idx)))
			return nil
		},
	})

	return cmd
}
