package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
)

// setting is one "section.key" entry. flag marks the settings also exposed
// as command-line flags.
type setting struct {
	key   string
	usage string
	flag  bool
	set   func(c *Config, v string) error
}

var settings = []setting{
	{"server.addr", "HTTP listen address", true, str(func(c *Config) *string { return &c.Server.Addr })},
	{"server.shutdown_timeout", "graceful shutdown deadline", false, dur(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},

	{"refresh.interval", "pause between refresh cycles", true, dur(func(c *Config) *time.Duration { return &c.Refresh.Interval })},
	{"refresh.timeout", "deadline of one refresh cycle", true, dur(func(c *Config) *time.Duration { return &c.Refresh.Timeout })},

	{"store.kind", "data store: cassandra or memory", true, str(func(c *Config) *string { return &c.Store.Kind })},

	{"cassandra.hosts", "comma separated Cassandra contact points", true, list(func(c *Config) *[]string { return &c.Cassandra.Hosts })},
	{"cassandra.port", "Cassandra native protocol port", true, integer(func(c *Config) *int { return &c.Cassandra.Port })},
	{"cassandra.keyspace", "keyspace of the tweets table", true, str(func(c *Config) *string { return &c.Cassandra.Keyspace })},
	{"cassandra.table", "tweets table name", false, str(func(c *Config) *string { return &c.Cassandra.Table })},
	{"cassandra.timeout", "connect and statement timeout", false, dur(func(c *Config) *time.Duration { return &c.Cassandra.Timeout })},

	{"memory.tweets", "synthetic tweets seeded into the memory store", true, integer(func(c *Config) *int { return &c.Memory.Tweets })},
	{"memory.seed", "random seed of the synthetic tweets", false, func(c *Config, v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}
		c.Memory.Seed = n
		return nil
	}},

	{"memcached.servers", "comma separated memcached servers; empty disables the mirror", true, list(func(c *Config) *[]string { return &c.Memcached.Servers })},
	{"memcached.key", "memcached key of the mirrored snapshot", false, str(func(c *Config) *string { return &c.Memcached.Key })},
	{"memcached.ttl", "expiration of the mirrored snapshot", false, dur(func(c *Config) *time.Duration { return &c.Memcached.TTL })},
	{"memcached.timeout", "memcached socket timeout", false, dur(func(c *Config) *time.Duration { return &c.Memcached.Timeout })},

	{"consul.enabled", "register the exporter in consul (true/false)", true, boolean(func(c *Config) *bool { return &c.Consul.Enabled })},
	{"consul.address", "consul agent address", true, str(func(c *Config) *string { return &c.Consul.Address })},
	{"consul.token", "consul ACL token", false, str(func(c *Config) *string { return &c.Consul.Token })},
	{"consul.service", "service name", false, str(func(c *Config) *string { return &c.Consul.Service })},
	{"consul.host", "advertised host; empty uses the hostname", false, str(func(c *Config) *string { return &c.Consul.Host })},
	{"consul.tags", "comma separated service tags", false, list(func(c *Config) *[]string { return &c.Consul.Tags })},
	{"consul.check_interval", "health check interval", false, str(func(c *Config) *string { return &c.Consul.CheckInterval })},
	{"consul.check_timeout", "health check timeout", false, str(func(c *Config) *string { return &c.Consul.CheckTimeout })},

	{"catalogue.top_users", "number of ranked users", true, integer(func(c *Config) *int { return &c.Catalogue.TopUsers })},
	{"catalogue.percentiles", "comma separated percentiles of retweets and likes", false, func(c *Config, v string) error {
		var out []int
		for _, item := range splitList(v) {
			n, err := strconv.Atoi(item)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		c.Catalogue.Percentiles = out
		return nil
	}},
	{"catalogue.windows", "comma separated label:duration activity windows", false, func(c *Config, v string) error {
		windows, err := ParseWindows(v)
		if err != nil {
			return err
		}
		c.Catalogue.Windows = windows
		return nil
	}},
	{"catalogue.hourly_window", "window of the time-of-day histogram", false, dur(func(c *Config) *time.Duration { return &c.Catalogue.HourlyWindow })},
}

func lookup(key string) (setting, bool) {
	for _, s := range settings {
		if s.key == key {
			return s, true
		}
	}
	return setting{}, false
}

// ParseWindows parses "1h:1h, 7d:168h" into time windows.
func ParseWindows(v string) ([]catalogue.TimeWindow, error) {
	var out []catalogue.TimeWindow
	for _, item := range splitList(v) {
		label, text, ok := strings.Cut(item, ":")
		label = strings.TrimSpace(label)
		if !ok || label == "" {
			return nil, fmt.Errorf("window %q is not label:duration", item)
		}
		if !catalogue.ValidLabel(label) {
			return nil, fmt.Errorf("window label %q may hold only letters, digits and underscores", label)
		}
		d, err := time.ParseDuration(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("window %q: %v", item, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("window %q must be positive", item)
		}
		out = append(out, catalogue.TimeWindow{Label: label, Duration: d})
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = strings.TrimSpace(v)
		return nil
	}
}

func list(field func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = splitList(v)
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func dur(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
