package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

var ErrNoInstances = errors.New("no service instances")

type ServiceInstance struct {
	Name string
	Host string
	Port int
}

func (i *ServiceInstance) Addr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// ParseInstance builds an instance from a host:port address.
func ParseInstance(name, addr string) (*ServiceInstance, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return &ServiceInstance{Name: name, Host: host, Port: port}, nil
}

// Registry announces this process's endpoints and finds others.
type Registry interface {
	Register(ctx context.Context, instance *ServiceInstance) error
	Deregister(ctx context.Context, instance *ServiceInstance) error
	Discover(ctx context.Context, serviceName string) ([]*ServiceInstance, error)
	Close() error
}

// Resolve returns the first discovered address of serviceName, or
// fallback when the registry is nil or knows no instance.
func Resolve(ctx context.Context, registry Registry, serviceName, fallback string) (string, error) {
	if registry == nil {
		return fallback, nil
	}
	instances, err := registry.Discover(ctx, serviceName)
	if err != nil {
		if fallback != "" {
			return fallback, nil
		}
		return "", err
	}
	if len(instances) == 0 {
		if fallback != "" {
			return fallback, nil
		}
		return "", fmt.Errorf("%s: %w", serviceName, ErrNoInstances)
	}
	return instances[0].Addr(), nil
}
