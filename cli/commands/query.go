package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/satishbabariya/gorel/cli/internal/ui"
	"github.com/satishbabariya/gorel/database"
)

func newQueryCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "query <sql> [bindings...]",
		Short: "Run a select and print the rows",
		Long: `Run a select statement on the connection. Bindings fill the ? placeholders in order.

  gorel query "select * from users where id = ?" 7 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unknown format %q (table, json or yaml)", format)
			}
			c, err := a.conn()
			if err != nil {
				return err
			}
			bindings := make([]any, len(args)-1)
			for i, b := range args[1:] {
				bindings[i] = b
			}
			start := time.Now()
			rows, err := c.Select(cmd.Context(), args[0], bindings)
			if err != nil {
				return err
			}
			return writeRows(out(cmd), format, rows, time.Since(start))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "table", "output format: table, json or yaml")
	return cmd
}

// writeRows prints rows in format. Columns are sorted by name for the table format.
func writeRows(w io.Writer, format string, rows []database.Row, elapsed time.Duration) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	}

	columns := columnsOf(rows)
	if len(columns) > 0 {
		table := make([][]string, len(rows))
		for i, row := range rows {
			table[i] = make([]string, len(columns))
			for j, col := range columns {
				table[i][j] = display(row[col])
			}
		}
		if err := ui.PrintTable(w, columns, table); err != nil {
			return err
		}
	}
	ui.PrintFaint(w, "%d rows in %s", len(rows), elapsed.Round(time.Millisecond))
	return nil
}

func columnsOf(rows []database.Row) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func display(v any) string {
	if v == nil {
		return "NULL"
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return strings.ReplaceAll(cast.ToString(v), "\n", `\n`)
}
