// Package commands implements the gorel CLI.
package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/satishbabariya/gorel/cli/internal/ui"
	"github.com/satishbabariya/gorel/cli/internal/version"
	"github.com/satishbabariya/gorel/config"
	"github.com/satishbabariya/gorel/database"
	"github.com/satishbabariya/gorel/internal/debug"
	"github.com/satishbabariya/gorel/query/cache"
)

// app carries the state shared by the subcommands.
type app struct {
	fs     afero.Fs
	dbOpts []database.Option

	configFile string
	connection string
	debug      bool

	cfg   *config.Config
	cache *cache.Cache
	mgr   *database.Manager
}

// Option customises the CLI, mainly for tests.
type Option func(*app)

// WithFs replaces the file system used to read configuration.
func WithFs(fs afero.Fs) Option {
	return func(a *app) { a.fs = fs }
}

// WithDatabaseOptions passes options to every connection.
func WithDatabaseOptions(opts ...database.Option) Option {
	return func(a *app) { a.dbOpts = append(a.dbOpts, opts...) }
}

// NewRootCommand builds the gorel command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{fs: afero.NewOsFs()}
	for _, o := range opts {
		o(a)
	}

	root := &cobra.Command{
		Use:           "gorel",
		Short:         "Inspect and query gorel databases",
		Long:          "gorel inspects the databases configured in gorel.yaml, .env or DATABASE_URL.",
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default: gorel.yaml in ., ~ or ~/.config/gorel)")
	root.PersistentFlags().StringVarP(&a.connection, "connection", "c", "", "connection name (default: the configured default)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "log executed statements")
	root.PersistentPostRunE = func(*cobra.Command, []string) error { return a.close() }

	root.AddCommand(newVersionCommand())
	root.AddCommand(newDBCommand(a))
	root.AddCommand(newQueryCommand(a))
	root.AddCommand(newCacheCommand(a))
	return root
}

// Execute runs the CLI with os.Args.
func Execute() error {
	root := NewRootCommand()
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}

func newVersionCommand() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			build := version.Get()
			if full {
				return ui.PrintKeyValues(out(cmd), "gorel", build.Fields())
			}
			_, err := fmt.Fprintln(out(cmd), build.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "include build details")
	return cmd
}

// load reads the configuration once and prepares the connection manager.
func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	debug.Init(a.debug)
	cfg, err := config.Load(a.fs, config.Options{File: a.configFile})
	if err != nil {
		return err
	}
	if cfg.Debug && !a.debug {
		a.debug = true
		debug.Init(true)
	}
	repo, err := cfg.NewCache(a.fs)
	if err != nil {
		return err
	}
	a.cfg, a.cache = cfg, repo
	a.mgr = cfg.Manager(append([]database.Option{database.WithCache(repo)}, a.dbOpts...)...)
	return nil
}

// reload drops the open connections and reads the configuration again.
func (a *app) reload() error {
	if err := a.close(); err != nil {
		return err
	}
	a.cfg, a.cache, a.mgr = nil, nil, nil
	return a.load()
}

// conn resolves the selected connection.
func (a *app) conn() (*database.Connection, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	c, err := a.mgr.Connection(a.connection)
	if errors.Is(err, database.ErrUnknownConnection) {
		return nil, fmt.Errorf("%w (configured: %v)", err, a.cfg.Names())
	}
	return c, err
}

func (a *app) close() error {
	if a.cache != nil {
		a.cache.Wait()
	}
	if a.mgr == nil {
		return nil
	}
	return a.mgr.Close()
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
