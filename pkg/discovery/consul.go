package discovery

import (
	"context"
	"fmt"

	"github.com/example/tableorder/pkg/config"
	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// ConsulRegistry registers instances with the local consul agent using
// a TCP health check.
type ConsulRegistry struct {
	client *api.Client
	config *config.ConsulConfig
	logger *zap.Logger
}

func NewConsulRegistry(cfg *config.ConsulConfig, logger *zap.Logger) (*ConsulRegistry, error) {
	apiConfig := api.DefaultConfig()
	apiConfig.Address = cfg.Address

	client, err := api.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulRegistry{client: client, config: cfg, logger: logger}, nil
}

func serviceID(instance *ServiceInstance) string {
	return fmt.Sprintf("%s-%s", instance.Name, instance.Addr())
}

func (r *ConsulRegistry) Register(ctx context.Context, instance *ServiceInstance) error {
	registration := &api.AgentServiceRegistration{
		ID:      serviceID(instance),
		Name:    instance.Name,
		Address: instance.Host,
		Port:    instance.Port,
		Check: &api.AgentServiceCheck{
			TCP:                            instance.Addr(),
			Interval:                       r.config.CheckInterval,
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}

	opts := api.ServiceRegisterOpts{}.WithContext(ctx)
	if err := r.client.Agent().ServiceRegisterOpts(registration, opts); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	r.logger.Info("Registered with consul", zap.String("service_id", registration.ID))
	return nil
}

func (r *ConsulRegistry) Deregister(ctx context.Context, instance *ServiceInstance) error {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	if err := r.client.Agent().ServiceDeregisterOpts(serviceID(instance), opts); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	return nil
}

// Discover returns instances whose health checks pass.
func (r *ConsulRegistry) Discover(ctx context.Context, serviceName string) ([]*ServiceInstance, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := r.client.Health().Service(serviceName, "", true, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to discover service %s: %w", serviceName, err)
	}

	instances := make([]*ServiceInstance, 0, len(entries))
	for _, entry := range entries {
		host := entry.Service.Address
		if host == "" {
			host = entry.Node.Address
		}
		instances = append(instances, &ServiceInstance{
			Name: serviceName,
			Host: host,
			Port: entry.Service.Port,
		})
	}
	return instances, nil
}

func (r *ConsulRegistry) Close() error {
	return nil
}
