// Package registry announces the exporter to consul so scrapers can find
// it, with an HTTP check against /health.
package registry

import (
	"fmt"
	"os"

	log "github.com/golang/glog"
	consul "github.com/hashicorp/consul/api"
)

// Agent is the part of *consul.Agent used for registration.
type Agent interface {
	ServiceRegister(service *consul.AgentServiceRegistration) error
	ServiceDeregister(serviceID string) error
}

// Config describes the service entry.
type Config struct {
	// Address of the consul agent; empty uses the consul default.
	Address string
	Token   string
	Service string
	// Host and Port are advertised to consul.
	Host string
	Port int
	Tags []string
	// CheckInterval and CheckTimeout are consul duration strings ("10s").
	CheckInterval string
	CheckTimeout  string
}

// Identity returns "service-host-port", defaulting host to the hostname.
func Identity(service, host string, port int) string {
	if host == "" {
		host, _ = os.Hostname()
	}
	return fmt.Sprintf("%s-%s-%d", service, host, port)
}

// NewAgent returns the agent endpoint of a consul client for cfg.
func NewAgent(cfg Config) (*consul.Agent, error) {
	config := consul.DefaultConfig()
	if cfg.Address != "" {
		config.Address = cfg.Address
	}
	if cfg.Token != "" {
		config.Token = cfg.Token
	}
	client, err := consul.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("creating consul client: %w", err)
	}
	return client.Agent(), nil
}

// Register adds the service with its health check and returns a function
// that removes it again.
func Register(agent Agent, cfg Config) (func(), error) {
	host := cfg.Host
	if host == "" {
		host, _ = os.Hostname()
	}
	id := Identity(cfg.Service, host, cfg.Port)
	interval, timeout := cfg.CheckInterval, cfg.CheckTimeout
	if interval == "" {
		interval = "15s"
	}
	if timeout == "" {
		timeout = "5s"
	}

	reg := &consul.AgentServiceRegistration{
		ID:      id,
		Name:    cfg.Service,
		Tags:    cfg.Tags,
		Address: host,
		Port:    cfg.Port,
		Meta:    map[string]string{"metrics_path": "/metrics"},
		Check: &consul.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://%s:%d/health", host, cfg.Port),
			Method:   "GET",
			Interval: interval,
			Timeout:  timeout,
			// drop the entry if the exporter stays down
			DeregisterCriticalServiceAfter: "10m",
		},
	}
	if err := agent.ServiceRegister(reg); err != nil {
		return nil, fmt.Errorf("registering %s in consul: %w", id, err)
	}
	log.Infof("registered %s in consul", id)

	return func() {
		if err := agent.ServiceDeregister(id); err != nil {
			log.Warningf("deregistering %s from consul: %v", id, err)
			return
		}
		log.Infof("deregistered %s from consul", id)
	}, nil
}
