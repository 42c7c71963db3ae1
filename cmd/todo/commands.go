package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasklite/internal/config"
	"tasklite/internal/storage"
	"tasklite/internal/tasks"
	"tasklite/internal/ui"
)

type globalFlags struct {
	configPath string
	dbPath     string
	verbose    bool
}

// snapshot is the reloaded state printed after every CLI command.
type snapshot struct {
	Pending   []tasks.Task `json:"pending"`
	Completed []tasks.Task `json:"completed"`
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "todo",
		Short: "A local to-do list backed by SQLite",
		Long:  "todo keeps tasks in a local SQLite file. Run without arguments for the interactive view.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(flags)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file (default $"+config.EnvConfigPath+" or the user config dir)")
	cmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "Database file, overrides db_path from the config")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "V", false, "Enable debug logging")

	cmd.AddCommand(newAddCmd(stdout, stderr, flags))
	cmd.AddCommand(newListCmd(stdout, stderr, flags))
	cmd.AddCommand(newSetCompletedCmd(stdout, stderr, flags, "done", "Mark tasks completed", true))
	cmd.AddCommand(newSetCompletedCmd(stdout, stderr, flags, "undo", "Move completed tasks back to pending", false))
	cmd.AddCommand(newToggleCmd(stdout, stderr, flags))
	cmd.AddCommand(newRemoveCmd(stdout, stderr, flags))
	return cmd
}

func newAddCmd(stdout, stderr io.Writer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <title>",
		Short: "Add a pending task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(flags, stderr, func(ctx context.Context, repo *tasks.Repository) error {
				t, err := repo.Add(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "added #%d %s\n", t.ID, t.Title)
				return printReloaded(ctx, stdout, repo, false)
			})
		},
	}
}

func newListCmd(stdout, stderr io.Writer, flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show pending and completed tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(flags, stderr, func(ctx context.Context, repo *tasks.Repository) error {
				return printReloaded(ctx, stdout, repo, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func newSetCompletedCmd(stdout, stderr io.Writer, flags *globalFlags, use, short string, completed bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withRepo(flags, stderr, func(ctx context.Context, repo *tasks.Repository) error {
				for _, id := range ids {
					if err := repo.SetCompleted(ctx, id, completed); err != nil {
						return err
					}
				}
				return printReloaded(ctx, stdout, repo, false)
			})
		},
	}
}

func newToggleCmd(stdout, stderr io.Writer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>...",
		Short: "Flip the completion state of tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withRepo(flags, stderr, func(ctx context.Context, repo *tasks.Repository) error {
				for _, id := range ids {
					if err := repo.Toggle(ctx, id); err != nil {
						return err
					}
				}
				return printReloaded(ctx, stdout, repo, false)
			})
		},
	}
}

func newRemoveCmd(stdout, stderr io.Writer, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete tasks permanently",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withRepo(flags, stderr, func(ctx context.Context, repo *tasks.Repository) error {
				for _, id := range ids {
					if err := repo.Remove(ctx, id); err != nil {
						return err
					}
				}
				return printReloaded(ctx, stdout, repo, false)
			})
		},
	}
}

func runInteractive(flags *globalFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg, flags.verbose, io.Discard)
	if err != nil {
		return err
	}
	defer closeLog()

	var (
		mu    sync.Mutex
		store *storage.Store
	)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		if store != nil {
			store.Close()
		}
	}()
	open := func(ctx context.Context) (ui.Repository, error) {
		s, err := storage.Open(cfg.DBPath, logger)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		store = s
		mu.Unlock()
		return tasks.NewRepository(s, logger), nil
	}
	return ui.Run(open, cfg, logger)
}

func withRepo(flags *globalFlags, stderr io.Writer, fn func(ctx context.Context, repo *tasks.Repository) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg, flags.verbose, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := storage.Open(cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), tasks.NewRepository(store, logger))
}

func loadConfig(flags *globalFlags) (config.Config, error) {
	path := flags.configPath
	if path == "" {
		path = config.ResolveConfigPath()
	}
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if flags.dbPath != "" {
		cfg.DBPath = flags.dbPath
	}
	return cfg, nil
}

// newLogger writes to the configured log file, or to fallback when none is
// set. The interactive view passes io.Discard since it owns the terminal.
func newLogger(cfg config.Config, verbose bool, fallback io.Writer) (*log.Logger, func(), error) {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}
	logger.SetLevel(level)

	if cfg.LogFile == "" {
		logger.SetOutput(fallback)
		return logger, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, func() { f.Close() }, nil
}

// printReloaded re-reads the store and prints the pending and completed
// views.
func printReloaded(ctx context.Context, w io.Writer, repo *tasks.Repository, asJSON bool) error {
	all, err := repo.ListAll(ctx)
	if err != nil {
		return err
	}
	pending, completed := tasks.Partition(all)
	if asJSON {
		data, err := sonic.ConfigStd.MarshalIndent(snapshot{Pending: pending, Completed: completed}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	fmt.Fprintf(w, "Tasks (%d)\n", len(pending))
	for _, t := range pending {
		fmt.Fprintf(w, "  [ ] #%d %s\n", t.ID, t.Title)
	}
	fmt.Fprintf(w, "History (%d)\n", len(completed))
	for _, t := range completed {
		fmt.Fprintf(w, "  [x] #%d %s\n", t.ID, t.Title)
	}
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(strings.TrimPrefix(a, "#"), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid task id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
