package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/satishbabariya/gorel/cli/internal/ui"
)

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the query cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear [tables...]",
		Short: "Invalidate cached query results",
		Long: `Invalidate cached query results. Without arguments the whole store is flushed;
with table names only the reads tagged with those tables are dropped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			if len(args) == 0 {
				if err := a.cache.Clear(cmd.Context()); err != nil {
					return err
				}
				ui.PrintSuccess(out(cmd), "flushed the %s cache", a.cfg.Cache.Driver)
				return nil
			}
			if err := a.cache.Tags(args...).Clear(cmd.Context()); err != nil {
				return err
			}
			ui.PrintSuccess(out(cmd), "cleared cached reads of %s", strings.Join(args, ", "))
			return nil
		},
	})
	return cmd
}
