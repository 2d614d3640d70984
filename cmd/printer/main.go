package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/tableorder/pkg/config"
	"github.com/example/tableorder/pkg/discovery"
	printerfeed "github.com/example/tableorder/pkg/grpc"
	"github.com/example/tableorder/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "printer",
		Usage: "print queued kitchen and bill tickets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				EnvVars: []string{"TABLEORDER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "printer feed address, overrides discovery",
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "print what is pending and exit",
			},
		},
		Before: func(c *cli.Context) error {
			_ = godotenv.Load()
			return nil
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	log = log.Named("printer")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	target := cfg.Printer.Target
	if c.IsSet("target") {
		target = c.String("target")
	}

	var registry discovery.Registry
	if target == "" {
		switch {
		case cfg.Etcd.Enabled:
			registry, err = discovery.NewEtcdRegistry(&cfg.Etcd, log.Named("discovery"))
		case cfg.Consul.Enabled:
			registry, err = discovery.NewConsulRegistry(&cfg.Consul, log.Named("discovery"))
		}
		if err != nil {
			return err
		}
		if registry != nil {
			defer registry.Close()
		}
	}

	client, err := printerfeed.ConnectPrinterFeed(ctx, registry, cfg.GRPC.Name, target, log)
	if err != nil {
		return err
	}
	defer client.Close()

	out, closeOut, err := openOutput(cfg.Printer.Output)
	if err != nil {
		return err
	}
	defer closeOut()

	agent := NewAgent(client, out, log, cfg.Printer.BatchSize, cfg.Printer.PollInterval)
	if c.Bool("once") {
		n, err := agent.Drain(ctx)
		log.Info("Queue drained", zap.Int("printed", n))
		return err
	}

	log.Info("Printer agent started")
	return agent.Run(ctx)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ticket output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
