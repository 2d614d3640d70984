package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/example/tableorder/pkg/config"
	"github.com/example/tableorder/pkg/logger"
	"github.com/example/tableorder/pkg/repository"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "tableorder",
		Usage: "table ordering core: order ledger, print queue and realtime rooms",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				EnvVars: []string{"TABLEORDER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file loaded before reading the environment",
			},
		},
		Before: func(c *cli.Context) error {
			// A missing .env file is fine; the environment may be set already.
			_ = godotenv.Load(c.String("env-file"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP, WebSocket and printer feed servers",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create or update the database schema",
				Action: migrate,
			},
			{
				Name:   "seed",
				Usage:  "migrate and load the default tables and menu",
				Action: seed,
			},
			{
				Name:      "add-table",
				Usage:     "add a table to the floor",
				ArgsUsage: "NAME",
				Action:    addTable,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func load(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log.Named(cfg.Server.Name), nil
}

func openStore(c *cli.Context) (*repository.Store, *zap.Logger, error) {
	cfg, log, err := load(c)
	if err != nil {
		return nil, nil, err
	}

	store, err := repository.Open(&cfg.Database, log.Named("store"))
	if err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(c.Context); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, log, nil
}

func migrate(c *cli.Context) error {
	store, log, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	defer log.Sync()

	log.Info("Schema migrated")
	return nil
}

func seed(c *cli.Context) error {
	store, log, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	defer log.Sync()

	if err := store.Seed(c.Context); err != nil {
		return err
	}
	log.Info("Seed data loaded",
		zap.Int("tables", len(repository.DefaultTables)),
		zap.Int("products", len(repository.DefaultProducts)))
	return nil
}

func addTable(c *cli.Context) error {
	name := strings.TrimSpace(c.Args().First())
	if name == "" {
		return cli.Exit("table name is required", 2)
	}

	store, log, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()
	defer log.Sync()

	table, err := store.CreateTable(c.Context, name)
	if err != nil {
		return err
	}
	log.Info("Table added", zap.Uint("table_id", table.ID), zap.String("name", table.Name))
	return nil
}
