package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func ContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Inspect or reset the web conversation context",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored web context",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			if err := svcCtx.Accounts.EnsureInitialized(cmd.Context()); err != nil {
				return err
			}
			wc, model := svcCtx.Accounts.Snapshot()
			fmt.Printf("Account index: %d\n", svcCtx.Accounts.CurrentIndex())
			if wc == nil {
				fmt.Println("No web context stored; the next ask starts a new conversation.")
				return nil
			}
			fmt.Printf("Model:         %s\n", model)
			fmt.Printf("Conversation:  %s\n", orNone(wc.ContextIDs[0]))
			fmt.Printf("Response:      %s\n", orNone(wc.ContextIDs[1]))
			fmt.Printf("Choice:        %s\n", orNone(wc.ContextIDs[2]))
			fmt.Printf("Build label:   %s\n", orNone(wc.BuildLabel))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the web conversation so the next ask starts fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			if err := svcCtx.Dispatcher.ResetContext(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("Web context reset"))
			return nil
		},
	})

	return cmd
}

func orNone(s string) string {
	if s == "" {
		return idStyle.Render("(none)")
	}
	return s
}
