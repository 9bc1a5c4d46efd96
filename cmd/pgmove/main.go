package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pgmove/pgmove/internal/config"
	"github.com/pgmove/pgmove/internal/logging"
	"github.com/pgmove/pgmove/internal/orchestrator"
	"github.com/pgmove/pgmove/internal/pool"
	"github.com/urfave/cli/v2"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "pgmove",
		Usage:   "Migrate a PostgreSQL instance: schema, routines, data, policies, grants, and storage",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the selected migration stages",
				Action: runMigration,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "stage",
						Usage: "Stage to run (repeatable); default is all stages",
					},
					&cli.IntFlag{
						Name:  "page-size",
						Usage: "Rows per transfer batch",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Value: true,
						Usage: "Render a progress bar during data transfer",
					},
				},
			},
			{
				Name:   "plan",
				Usage:  "Print the stages and objects a run would touch, without mutating anything",
				Action: planMigration,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "stage",
						Usage: "Stage to include in the plan (repeatable)",
					},
				},
			},
			{
				Name:   "export",
				Usage:  "Export the source catalog as SQL documents",
				Action: exportSQL,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Value:   "export",
						Usage:   "Directory for the generated SQL files",
					},
				},
			},
			{
				Name:      "apply",
				Usage:     "Apply a SQL file to the target",
				ArgsUsage: "<file>",
				Action:    applySQL,
			},
			{
				Name:   "validate",
				Usage:  "Compare per-table row counts between source and target",
				Action: validateMigration,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setup loads configuration, initializes logging, and connects both sides.
func setup(c *cli.Context) (*config.Config, *pool.Pool, *pool.Pool, context.Context, func(), error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if lvl, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		logging.SetLevel(lvl)
	}
	logging.SetFormat(cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, shutting down...")
		cancel()
	}()

	src, err := pool.Connect(ctx, &cfg.Source)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, nil, fmt.Errorf("source: %w", err)
	}
	dst, err := pool.Connect(ctx, &cfg.Target)
	if err != nil {
		src.Close()
		cancel()
		return nil, nil, nil, nil, nil, fmt.Errorf("target: %w", err)
	}

	cleanup := func() {
		dst.Close()
		src.Close()
		cancel()
	}
	return cfg, src, dst, ctx, cleanup, nil
}

// applyFlagOverrides lets command-line flags win over the config file.
func applyFlagOverrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet("stage") {
		cfg.Migration.Stages = c.StringSlice("stage")
	}
	if c.IsSet("page-size") {
		cfg.Migration.PageSize = c.Int("page-size")
	}
}

func runMigration(c *cli.Context) error {
	cfg, src, dst, ctx, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	applyFlagOverrides(c, cfg)

	orch := orchestrator.New(cfg, src.Pool(), dst.Pool()).
		WithProgressBar(c.Bool("progress"))

	stats, err := orch.Run(ctx)
	if stats != nil {
		orchestrator.PrintSummary(stats)
	}
	if err != nil {
		return fmt.Errorf("migration aborted: %w", err)
	}
	return nil
}

func planMigration(c *cli.Context) error {
	cfg, src, dst, ctx, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	applyFlagOverrides(c, cfg)
	return orchestrator.New(cfg, src.Pool(), dst.Pool()).Plan(ctx)
}

func exportSQL(c *cli.Context) error {
	cfg, src, dst, ctx, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	return orchestrator.New(cfg, src.Pool(), dst.Pool()).Export(ctx, c.String("out"))
}

func applySQL(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: pgmove apply <file>")
	}

	cfg, src, dst, ctx, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := orchestrator.New(cfg, src.Pool(), dst.Pool()).Apply(ctx, c.Args().First())
	if err != nil {
		return err
	}
	fmt.Printf("Applied %d statements: %d ok, %d skipped, %d failed\n",
		res.Total(), res.Succeeded, res.Skipped, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d statements failed", res.Failed)
	}
	return nil
}

func validateMigration(c *cli.Context) error {
	cfg, src, dst, ctx, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg.Migration.Stages = []string{orchestrator.StageVerify}
	stats, err := orchestrator.New(cfg, src.Pool(), dst.Pool()).Run(ctx)
	if stats != nil {
		orchestrator.PrintSummary(stats)
	}
	if err != nil {
		return err
	}
	if stats.Failed() {
		return fmt.Errorf("validation found mismatched tables")
	}
	return nil
}
