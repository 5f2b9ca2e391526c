package cli

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/nexus/internal/logic/session"
	"github.com/neboloop/nexus/internal/types"
)

// SessionCmd creates the session command
func SessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation history",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			sessions, err := svcCtx.Sessions.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}
			fmt.Println(headerStyle.Render("Sessions"))
			for _, s := range sessions {
				fmt.Printf("  %s  %s  %s\n",
					idStyle.Render(s.ID), s.Title, dateStyle.Render(s.UpdatedAt.Format("2006-01-02 15:04:05")))
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of sessions")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			s, err := svcCtx.Sessions.Get(cmd.Context(), args[0])
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("session %s not found", args[0])
			}
			if err != nil {
				return err
			}
			msgs, err := svcCtx.Sessions.GetMessages(cmd.Context(), s.ID)
			if err != nil {
				return err
			}

			fmt.Println(headerStyle.Render(s.Title), idStyle.Render(s.ID))
			for _, m := range msgs {
				role := modelStyle.Render("model")
				if m.Role == "user" {
					role = userStyle.Render("user")
				}
				fmt.Printf("\n%s %s\n%s\n", role, dateStyle.Render(m.CreatedAt.Format("15:04:05")), m.Content)
				for _, a := range m.Attachments {
					fmt.Println(idStyle.Render("  [attachment] " + a.Name))
				}
			}
			return nil
		},
	})

	var format string
	export := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Print a session as a markdown or HTML transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			doc, _, err := session.NewExportSessionLogic(cmd.Context(), svcCtx).
				ExportSession(&types.ExportSessionRequest{Id: args[0], Format: format})
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("session %s not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Print(doc)
			return nil
		},
	}
	export.Flags().StringVar(&format, "format", "markdown", "markdown or html")
	cmd.AddCommand(export)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			if err := svcCtx.Sessions.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("Deleted " + args[0]))
			return nil
		},
	})

	return cmd
}
