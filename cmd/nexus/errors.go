package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/nexus/internal/crashlog"
)

// ErrorsCmd prints the persisted crash log.
func ErrorsCmd() *cobra.Command {
	var (
		limit      int
		showStacks bool
	)
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show recent recorded errors and panics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			entries, err := crashlog.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No errors recorded.")
				return nil
			}
			for _, e := range entries {
				level := idStyle.Render(e.Level)
				if e.Level == "panic" {
					level = errorStyle.Render(e.Level)
				}
				fmt.Printf("%s  %s  %s  %s\n",
					dateStyle.Render(e.CreatedAt.Format("2006-01-02 15:04:05")), level, headerStyle.Render(e.Module), e.Message)
				for k, v := range e.Context {
					fmt.Printf("    %s=%s\n", k, v)
				}
				if showStacks && e.Stacktrace != "" {
					fmt.Println(idStyle.Render(e.Stacktrace))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().BoolVar(&showStacks, "stack", false, "print panic stack traces")
	return cmd
}
