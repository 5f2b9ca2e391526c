package cli

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/nexus/internal/credential"
	"github.com/neboloop/nexus/internal/settings"
)

// ConfigCmd edits the persisted runtime settings (provider, keys, accounts).
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write runtime settings",
		Long: "Runtime settings live in the database. Secret values (API keys, the web\n" +
			"cookie) are encrypted at rest when an encryption key is available.\n\n" +
			"Keys: " + strings.Join(settings.Keys, ", "),
	}

	var reveal bool
	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			v, ok, err := svcCtx.Settings.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is not set", args[0])
			}
			fmt.Println(display(args[0], v, reveal))
			return nil
		},
	}
	get.Flags().BoolVar(&reveal, "reveal", false, "print secret values in full")
	cmd.AddCommand(get)

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkKey(args[0]); err != nil {
				return err
			}
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			if err := svcCtx.Settings.Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("Set " + args[0]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset <key>...",
		Short: "Remove settings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			if err := svcCtx.Settings.Delete(cmd.Context(), args...); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("Unset " + strings.Join(args, ", ")))
			return nil
		},
	})

	var revealAll bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Print all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			all, err := svcCtx.Settings.All(cmd.Context())
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %s\n", headerStyle.Render(k), display(k, all[k], revealAll))
			}
			return nil
		},
	}
	list.Flags().BoolVar(&revealAll, "reveal", false, "print secret values in full")
	cmd.AddCommand(list)

	return cmd
}

func checkKey(key string) error {
	if slices.Contains(settings.Keys, key) {
		return nil
	}
	return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(settings.Keys, ", "))
}

// display masks secrets down to their last four characters.
func display(key, value string, reveal bool) string {
	if reveal || !credential.IsSecret(key) {
		return value
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", 8) + value[len(value)-4:]
}
