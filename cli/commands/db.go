package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/satishbabariya/gorel/cli/internal/ui"
	"github.com/satishbabariya/gorel/cli/internal/watch"
	"github.com/satishbabariya/gorel/database"
)

// errDeclined is returned when a destructive command is not confirmed.
var errDeclined = errors.New("aborted")

func newDBCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and manage the database",
	}
	cmd.AddCommand(newDBTablesCommand(a))
	cmd.AddCommand(newDBDescribeCommand(a))
	cmd.AddCommand(newDBInfoCommand(a))
	cmd.AddCommand(newDBTruncateCommand(a))
	cmd.AddCommand(newDBWipeCommand(a))
	return cmd
}

func newDBTablesCommand(a *app) *cobra.Command {
	var watchConfig bool
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := func() error {
				c, err := a.conn()
				if err != nil {
					return err
				}
				tables, err := c.GetTables(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, len(tables))
				for i, t := range tables {
					rows[i] = []string{t}
				}
				if err := ui.PrintTable(out(cmd), []string{"table"}, rows); err != nil {
					return err
				}
				ui.PrintFaint(out(cmd), "%d tables on %s", len(tables), c.Name())
				return nil
			}
			if !watchConfig {
				return list()
			}

			if err := a.load(); err != nil {
				return err
			}
			file := a.cfg.File
			if file == "" {
				return errors.New("--watch needs a config file")
			}
			first := true
			w, err := watch.NewWatcher(file, func() error {
				if !first {
					if err := a.reload(); err != nil {
						ui.PrintError(cmd.ErrOrStderr(), "reload %s: %v", file, err)
						return err
					}
				}
				first = false
				return list()
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVarP(&watchConfig, "watch", "w", false, "list again whenever the config file changes")
	return cmd
}

func newDBDescribeCommand(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "describe <table>",
		Short: "Show the columns of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.conn()
			if err != nil {
				return err
			}
			ok, err := c.TableExists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("table %q does not exist on %s", args[0], c.Name())
			}
			cols, err := c.GetColumns(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			doc := describeMarkdown(args[0], cols)
			if raw {
				_, err = fmt.Fprint(out(cmd), doc)
				return err
			}
			return ui.PrintMarkdown(out(cmd), doc)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without rendering")
	return cmd
}

// describeMarkdown renders columns as a markdown table.
func describeMarkdown(table string, cols []database.Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", table)
	b.WriteString("| Column | Type | Nullable | Default |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, col := range cols {
		nullable := "no"
		if col.Nullable {
			nullable = "yes"
		}
		def := ""
		if col.Default != nil {
			def = "`" + cast.ToString(col.Default) + "`"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", col.Name, col.Type, nullable, def)
	}
	return b.String()
}

func newDBInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the connection and server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.conn()
			if err != nil {
				return err
			}
			v, raw, err := c.ServerVersion(cmd.Context())
			if err != nil {
				return err
			}
			cfg := c.Config()
			g := c.Grammar()
			return ui.PrintKeyValues(out(cmd), "Connection "+c.Name(), [][2]string{
				{"driver", cfg.Driver},
				{"dialect", string(g.Dialect())},
				{"server", raw},
				{"version", v.String()},
				{"returning", yesNo(g.SupportsReturning())},
				{"statement cache", fmt.Sprint(c.StatementCacheSize())},
				{"config", orNone(a.cfg.File)},
			})
		},
	}
}

func newDBTruncateCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "truncate <table>",
		Short: "Delete every row of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.conn()
			if err != nil {
				return err
			}
			if err := confirm(force, fmt.Sprintf("Delete every row of %s on %s?", args[0], c.Name())); err != nil {
				return err
			}
			if err := c.TruncateTable(cmd.Context(), args[0]); err != nil {
				return err
			}
			ui.PrintSuccess(out(cmd), "truncated %s", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")
	return cmd
}

func newDBWipeCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Drop every table of the connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.conn()
			if err != nil {
				return err
			}
			ui.PrintWarning(out(cmd), "this drops every table on %s", c.Name())
			if err := confirm(force, "Drop all tables?"); err != nil {
				return err
			}
			if err := c.DropAllTables(cmd.Context()); err != nil {
				return err
			}
			ui.PrintSuccess(out(cmd), "dropped all tables on %s", c.Name())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")
	return cmd
}

// confirm asks before destructive commands unless force is set.
func confirm(force bool, message string) error {
	if force {
		return nil
	}
	ok := false
	if err := survey.AskOne(&survey.Confirm{Message: message}, &ok); err != nil {
		return fmt.Errorf("confirmation failed (use --force in scripts): %w", err)
	}
	if !ok {
		return errDeclined
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
