package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/tableorder/gateway"
	"github.com/example/tableorder/pkg/config"
	"github.com/example/tableorder/pkg/discovery"
	"github.com/example/tableorder/pkg/eventbus"
	printerfeed "github.com/example/tableorder/pkg/grpc"
	"github.com/example/tableorder/pkg/ledger"
	"github.com/example/tableorder/pkg/printqueue"
	"github.com/example/tableorder/pkg/repository"
	"github.com/example/tableorder/pkg/session"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serve(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Record store
	store, err := repository.Open(&cfg.Database, log.Named("store"))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	registry, err := newRegistry(cfg, log.Named("discovery"))
	if err != nil {
		return err
	}
	if registry != nil {
		defer registry.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	// Rooms, optionally shared across instances through Redis
	hub := eventbus.NewHub(log.Named("eventbus"))
	var notifier ledger.Notifier = hub
	if cfg.Realtime.Relay {
		redisRepo := repository.NewRedisRepository(&cfg.Redis)
		defer redisRepo.Close()
		if err := redisRepo.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}

		relay := eventbus.NewRelay(redisRepo, hub, cfg.Realtime.Channel, log.Named("relay"))
		if err := relay.Start(gctx); err != nil {
			return err
		}
		notifier = relay
	}

	// Audit log
	var (
		ledgerOpts  []ledger.Option
		gatewayOpts []gateway.Option
	)
	if cfg.MongoDB.Enabled {
		mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoRepo.Close(closeCtx)
		}()
		if err := mongoRepo.EnsureIndexes(ctx); err != nil {
			log.Warn("Audit index not created", zap.Error(err))
		}
		ledgerOpts = append(ledgerOpts, ledger.WithAuditor(mongoRepo))
		gatewayOpts = append(gatewayOpts, gateway.WithAuditLog(mongoRepo))
	}

	orders := ledger.New(store, store, notifier, log.Named("ledger"), ledgerOpts...)
	queue := printqueue.NewQueue(store, log.Named("printqueue"))

	// Ticket forwarding to the message broker
	if cfg.AMQP.Enabled {
		broker, err := printqueue.DialBroker(&cfg.AMQP)
		if err != nil {
			return err
		}
		defer broker.Close()

		forwarder := printqueue.NewForwarder(queue, broker, log.Named("forwarder"), cfg.Realtime.WatchBuffer)
		hub.Join(forwarder, eventbus.PrinterRoom)
		g.Go(func() error { return forwarder.Run(gctx) })
	}

	system := actor.NewActorSystem()
	sessions := session.NewManager(hub, system, log.Named("session"))

	gw := gateway.NewGateway(cfg, orders, queue, sessions, log.Named("gateway"), gatewayOpts...)
	gw.SetupRoutes()
	g.Go(gw.Start)

	var feed *printerfeed.PrinterServer
	if cfg.GRPC.Enabled {
		feed = printerfeed.NewPrinterServer(queue, hub, log.Named("printer-feed"), cfg.Realtime.WatchBuffer)
		g.Go(func() error { return feed.Start(cfg.GRPC.Addr()) })
	}

	// Service registration; a failure stops the servers started above.
	instances := advertised(cfg)
	if registry != nil {
		register(gctx, g, registry, instances)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if registry != nil {
			for _, instance := range instances {
				if err := registry.Deregister(shutdownCtx, instance); err != nil {
					log.Warn("Failed to deregister", zap.String("service", instance.Name), zap.Error(err))
				}
			}
		}
		if feed != nil {
			feed.Stop()
		}
		if err := gw.Shutdown(shutdownCtx); err != nil {
			log.Warn("Gateway shutdown incomplete", zap.Error(err))
		}
		system.Shutdown()
		return nil
	})

	log.Info("Serving",
		zap.String("http", cfg.Server.Addr()),
		zap.Bool("grpc", cfg.GRPC.Enabled),
		zap.Bool("relay", cfg.Realtime.Relay))
	return g.Wait()
}

// register announces instances from inside g, so a failed registration
// cancels the group and every server in it shuts down.
func register(ctx context.Context, g *errgroup.Group, registry discovery.Registry, instances []*discovery.ServiceInstance) {
	g.Go(func() error {
		for _, instance := range instances {
			if err := registry.Register(ctx, instance); err != nil {
				return fmt.Errorf("failed to register %s: %w", instance.Name, err)
			}
		}
		return nil
	})
}

func newRegistry(cfg *config.Config, log *zap.Logger) (discovery.Registry, error) {
	switch {
	case cfg.Etcd.Enabled:
		return discovery.NewEtcdRegistry(&cfg.Etcd, log)
	case cfg.Consul.Enabled:
		return discovery.NewConsulRegistry(&cfg.Consul, log)
	}
	return nil, nil
}

// advertised lists the endpoints other processes should find. Wildcard
// bind addresses are replaced by the hostname.
func advertised(cfg *config.Config) []*discovery.ServiceInstance {
	host := func(bind string) string {
		if bind != "" && bind != "0.0.0.0" && bind != "::" {
			return bind
		}
		if name, err := os.Hostname(); err == nil {
			return name
		}
		return "localhost"
	}

	instances := []*discovery.ServiceInstance{
		{Name: cfg.Server.Name, Host: host(cfg.Server.Host), Port: cfg.Server.Port},
	}
	if cfg.GRPC.Enabled {
		instances = append(instances, &discovery.ServiceInstance{
			Name: cfg.GRPC.Name, Host: host(cfg.GRPC.Host), Port: cfg.GRPC.Port,
		})
	}
	return instances
}
