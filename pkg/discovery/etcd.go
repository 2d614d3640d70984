package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/tableorder/pkg/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const leaseTTL = 30

// EtcdRegistry keeps instances under prefix/name/host:port bound to a
// lease that lives as long as the process keeps it alive.
type EtcdRegistry struct {
	client *clientv3.Client
	config *config.EtcdConfig
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID
}

func NewEtcdRegistry(cfg *config.EtcdConfig, logger *zap.Logger) (*EtcdRegistry, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &EtcdRegistry{
		client: cli,
		config: cfg,
		logger: logger,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func (r *EtcdRegistry) key(instance *ServiceInstance) string {
	return fmt.Sprintf("%s%s/%s", r.config.Prefix, instance.Name, instance.Addr())
}

// Register publishes the instance and keeps its lease alive until ctx
// ends or the instance is deregistered.
func (r *EtcdRegistry) Register(ctx context.Context, instance *ServiceInstance) error {
	lease, err := r.client.Grant(ctx, leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	key := r.key(instance)
	if _, err := r.client.Put(ctx, key, instance.Addr(), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep alive: %w", err)
	}

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	go func() {
		for range ch {
		}
		r.logger.Debug("Lease keep-alive ended", zap.String("key", key))
	}()

	r.logger.Info("Registered with etcd", zap.String("key", key))
	return nil
}

func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]*ServiceInstance, error) {
	prefix := fmt.Sprintf("%s%s/", r.config.Prefix, serviceName)

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover service: %w", err)
	}

	instances := make([]*ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		instance, err := ParseInstance(serviceName, string(kv.Value))
		if err != nil {
			r.logger.Warn("Skipping malformed registration", zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, instance *ServiceInstance) error {
	key := r.key(instance)

	r.mu.Lock()
	leaseID, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		if _, err := r.client.Revoke(ctx, leaseID); err != nil {
			return fmt.Errorf("failed to revoke lease: %w", err)
		}
		return nil
	}

	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	return nil
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
