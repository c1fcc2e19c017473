package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tordrt/relcache"
	"github.com/tordrt/relcache/internal/config"
	"github.com/tordrt/relcache/internal/formatter"
	"github.com/tordrt/relcache/internal/schema"
)

// cli holds the values shared by every subcommand
type cli struct {
	cfg *config.Config

	dbURL       string
	noCache     bool
	strictCache bool
	threads     int
	logLevel    string
	logFormat   string

	logger *slog.Logger
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	c := &cli{cfg: cfg}

	root := &cobra.Command{
		Use:           "relcache",
		Short:         "Inspect and change warehouse relations through a dependency-aware cache",
		Long:          `relcache lists the relations of a PostgreSQL, MySQL, or SQLite warehouse together with the view dependencies between them, and runs drops, renames and other structural changes while keeping that picture consistent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.dbURL, "db-url", cfg.DatabaseURL, "Warehouse URL: postgres://, mysql:// or sqlite:// (env RELCACHE_DATABASE_URL)")
	flags.BoolVar(&c.noCache, "no-cache", !cfg.Cache.Enabled, "Disable the relation cache; every lookup goes to the warehouse")
	flags.BoolVar(&c.strictCache, "strict-cache", cfg.Cache.Strict, "Fail when renaming a relation the cache does not know")
	flags.IntVar(&c.threads, "threads", cfg.Threads, "Concurrent warehouse sessions")
	flags.StringVar(&c.logLevel, "log-level", cfg.Log.Level, "Log level: debug, info, warn or error")
	flags.StringVar(&c.logFormat, "log-format", cfg.Log.Format, "Log format: text or json")

	root.AddCommand(
		c.relationsCmd(),
		c.dropCmd(),
		c.renameCmd(),
		c.truncateCmd(),
		c.createSchemaCmd(),
		c.dropSchemaCmd(),
		c.columnsCmd(),
		c.expandCmd(),
	)
	return root
}

func (c *cli) setup(stderr io.Writer) error {
	c.cfg.DatabaseURL = c.dbURL
	c.cfg.Cache.Enabled = !c.noCache
	c.cfg.Cache.Strict = c.strictCache
	c.cfg.Threads = c.threads
	c.cfg.Log.Level = c.logLevel
	c.cfg.Log.Format = c.logFormat
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(stderr, c.cfg.Log)
	if err != nil {
		return err
	}
	c.logger = logger.With(slog.String("run_id", uuid.NewString()))
	return nil
}

func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func (c *cli) open(ctx context.Context) (*relcache.Warehouse, error) {
	if c.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("--db-url (or RELCACHE_DATABASE_URL) must be specified")
	}
	return relcache.Open(ctx, c.cfg.DatabaseURL, &relcache.Options{
		DisableCache: !c.cfg.Cache.Enabled,
		StrictCache:  c.cfg.Cache.Strict,
		Threads:      c.cfg.Threads,
		Logger:       c.logger,
	})
}

// withWarehouse opens the warehouse, runs fn and closes it again
func (c *cli) withWarehouse(cmd *cobra.Command, fn func(ctx context.Context, w *relcache.Warehouse) error) error {
	ctx := cmd.Context()
	w, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			c.logger.Warn("failed to close warehouse connections", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, w)
}

func (c *cli) relationsCmd() *cobra.Command {
	var (
		outputFile string
		outputDir  string
		format     string
		required   bool
	)
	cmd := &cobra.Command{
		Use:   "relations [schema...]",
		Short: "Populate the cache from the warehouse and print relations with their dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputDir != "" && outputFile != "" {
				return fmt.Errorf("cannot use both --output-dir and --output flags")
			}
			return c.withWarehouse(cmd, func(ctx context.Context, w *relcache.Warehouse) error {
				schemas := splitList(args)
				var req []string
				if required {
					req = schemas
				}
				report, err := w.Populate(ctx, schemas, req)
				if err != nil {
					return err
				}
				for _, warning := range report.Warnings {
					c.logger.Warn("incomplete cache", slog.String("error", warning.Error()))
				}
				c.logger.Info("populated relation cache",
					slog.Int("schemas", report.Schemas), slog.Int("relations", report.Relations), slog.Int("links", report.Links))

				out := &relcache.OutputOptions{Writer: cmd.OutOrStdout(), OutputDir: outputDir, Format: format}
				if outputFile != "" {
					f, err := os.Create(outputFile)
					if err != nil {
						return fmt.Errorf("failed to create output file: %w", err)
					}
					defer func() {
						if err := f.Close(); err != nil {
							fmt.Fprintf(os.Stderr, "warning: failed to close output file: %v\n", err)
						}
					}()
					out.Writer = f
				}
				if err := relcache.FormatSnapshot(w.Cache().Snapshot(), out); err != nil {
					return fmt.Errorf("failed to format output: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "d", "", "Output directory for multi-file output")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text or markdown")
	cmd.Flags().BoolVar(&required, "required", false, "Fail instead of warning when a schema cannot be listed")
	return cmd
}

func (c *cli) dropCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "drop <[schema.]relation>",
		Short: "Drop a relation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWarehouse(cmd, func(ctx context.Context, w *relcache.Warehouse) error {
				rel, err := resolveRelation(ctx, w, args[0], kind)
				if err != nil {
					return err
				}
				if err := w.DropRelation(ctx, rel); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %s %s\n", rel.Kind, rel)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Relation kind (table, view, materializedview); looked up when omitted")
	return cmd
}

func (c *cli) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <[schema.]relation> <new_name>",
		Short: "Rename a relation in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWarehouse(cmd, func(ctx context.Context, w *relcache.Warehouse) error {
				from, err := resolveRelation(ctx, w, args[0], "")
				if err != nil {
					return err
				}
				to := from.WithIdentifier(args[1])
				if err := w.RenameRelation(ctx, from, to); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "renamed %s to %s\n", from, to)
				return nil
			})
		},
	}
}

func (c *cli) truncateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <[schema.]relation>",
		Short: "Delete every row of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWarehouse(cmd, func(ctx context.Context, w *relcache.Warehouse) error {
				rel := parseRelation(w, args[0], schema.KindTable)
				if err := w.TruncateRelation(ctx, rel); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "truncated %s\n", rel)
				return nil
			})
		},
	}
}

func (c *cli) createSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-schema <schema>",
		Short: "Create a schema if it does not exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWarehouse(cmd, func(ctx context.Context, w *relcache.Warehouse) error {
				if err := w.CreateSchema(ctx, w.Database, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created schema %s\n", args[0])
				return nil
			})
		},
	}
}

func (c *cli) dropSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop-schema <schema>",
		Short: "Drop a schema and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWarehouse(cmd, func(ctx context.Context, w *relcache.Warehouse) error {
				if err := w.DropSchema(ctx, w.Database, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dropped schema %s\n", args[0])
				return nil
			})
		},
	}
}

func (c *cli) columnsCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "columns <[schema.]relation>",
		Short: "Print the columns of a relation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWarehouse(cmd, func(ctx context.Context, w *relcache.Warehouse) error {
				rel, err := resolveRelation(ctx, w, args[0], "")
				if err != nil {
					return err
				}
				cols, err := w.GetColumnsInRelation(ctx, rel)
				if err != nil {
					return err
				}
				switch format {
				case "text":
					return formatter.NewTextFormatter(cmd.OutOrStdout()).FormatColumns(rel, cols)
				case "markdown":
					return formatter.NewMarkdownFormatter(cmd.OutOrStdout()).FormatColumns(rel, cols)
				default:
					return fmt.Errorf("invalid format: %s (must be 'text' or 'markdown')", format)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text or markdown")
	return cmd
}

func (c *cli) expandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expand <[schema.]goal> <[schema.]target>",
		Short: "Widen the columns of target that are narrower than the same columns of goal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withWarehouse(cmd, func(ctx context.Context, w *relcache.Warehouse) error {
				goal := parseRelation(w, args[0], schema.KindTable)
				target := parseRelation(w, args[1], schema.KindTable)
				if err := w.ExpandColumnTypes(ctx, goal, target); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expanded %s to fit %s\n", target, goal)
				return nil
			})
		},
	}
}

// parseRelation reads "schema.name" or "name" into a relation of the warehouse's database
func parseRelation(w *relcache.Warehouse, arg string, kind schema.Kind) schema.Relation {
	schemaName, name, ok := strings.Cut(arg, ".")
	if !ok {
		return w.Relation("", arg, kind)
	}
	return w.Relation(schemaName, name, kind)
}

// resolveRelation parses arg and, when kind is empty, asks the warehouse what the relation is
func resolveRelation(ctx context.Context, w *relcache.Warehouse, arg, kind string) (schema.Relation, error) {
	if kind != "" {
		k := schema.ParseKind(kind)
		if k == schema.KindUnknown {
			return schema.Relation{}, fmt.Errorf("invalid kind: %s", kind)
		}
		return parseRelation(w, arg, k), nil
	}

	rel := parseRelation(w, arg, schema.KindUnknown)
	found, ok, err := w.GetRelation(ctx, rel.Database, rel.Schema, rel.Identifier)
	if err != nil {
		return schema.Relation{}, err
	}
	if !ok {
		return schema.Relation{}, fmt.Errorf("relation %s not found", rel)
	}
	return found, nil
}

// splitList flattens comma-separated arguments
func splitList(args []string) []string {
	var out []string
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
