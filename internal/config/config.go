// Package config assembles the exporter configuration from, in increasing
// precedence: built-in defaults, an optional INI file and command-line flags
// that were explicitly set.
//
// File keys and flag names share one namespace, "section.key":
//
//	[refresh]
//	interval = 15s
//
// is the same setting as -refresh.interval=15s. Bucket boundaries live in the
// [buckets] section, one family per key, and [fallback] overrides or adds
// placeholder values.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/susji/tinyini"

	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
	"github.com/smart-developer1791/twitter-exporter/internal/mirror"
	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
	"github.com/smart-developer1791/twitter-exporter/internal/store"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Store kinds.
const (
	StoreCassandra = "cassandra"
	StoreMemory    = "memory"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, ":9123" by default.
	Addr string
	// ShutdownTimeout bounds the graceful shutdown of the server.
	ShutdownTimeout time.Duration
}

// RefreshConfig paces the refresh cycles.
type RefreshConfig struct {
	// Interval is the pause between the end of one cycle and the next.
	Interval time.Duration
	// Timeout is the deadline of a single cycle.
	Timeout time.Duration
}

// StoreConfig selects the data store.
type StoreConfig struct {
	// Kind is StoreCassandra or StoreMemory.
	Kind string
}

// CassandraConfig locates the tweets table.
type CassandraConfig struct {
	// Hosts are the contact points, without port.
	Hosts    []string
	Port     int
	Keyspace string
	Table    string
	// Timeout bounds connection setup and each statement.
	Timeout time.Duration
}

// MemoryConfig sizes the synthetic tweet table of the memory store.
type MemoryConfig struct {
	Tweets int
	Seed   int64
}

// MemcachedConfig configures the snapshot mirror.
type MemcachedConfig struct {
	// Servers enables the mirror when non-empty.
	Servers []string
	Key     string
	// TTL expires the mirrored item; zero keeps it until evicted. It may
	// not exceed mirror.MaxTTL.
	TTL time.Duration
	// Timeout is the memcached socket timeout.
	Timeout time.Duration
}

// ConsulConfig configures service registration.
type ConsulConfig struct {
	// Enabled turns registration on.
	Enabled bool
	// Address of the consul agent; empty uses the consul default.
	Address string
	Token   string
	Service string
	// Host is advertised to consul; empty uses the hostname.
	Host string
	Tags []string
	// CheckInterval and CheckTimeout are consul duration strings.
	CheckInterval string
	CheckTimeout  string
}

// CatalogueConfig tunes the aggregation catalogue.
type CatalogueConfig struct {
	// TopUsers is the number of ranked users.
	TopUsers int
	// Percentiles of retweets and likes, in percent.
	Percentiles []int
	// Windows scope the activity statistics.
	Windows []catalogue.TimeWindow
	// HourlyWindow bounds the time-of-day histogram.
	HourlyWindow time.Duration
}

// Config is the complete exporter configuration.
type Config struct {
	Server    ServerConfig
	Refresh   RefreshConfig
	Store     StoreConfig
	Cassandra CassandraConfig
	Memory    MemoryConfig
	Memcached MemcachedConfig
	Consul    ConsulConfig
	Catalogue CatalogueConfig
	// Buckets replaces the buckets of a family, keyed by family key.
	Buckets map[string][]catalogue.BucketSpec
	// Fallback overrides or adds placeholder values.
	Fallback map[string]float64
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":9123", ShutdownTimeout: 30 * time.Second},
		Refresh: RefreshConfig{Interval: 15 * time.Second, Timeout: 10 * time.Second},
		Store:   StoreConfig{Kind: StoreCassandra},
		Cassandra: CassandraConfig{
			Hosts:    []string{"cassandra"},
			Port:     9042,
			Keyspace: "twitter",
			Table:    "tweets",
			Timeout:  5 * time.Second,
		},
		Memory:    MemoryConfig{Tweets: 2000, Seed: 1},
		Memcached: MemcachedConfig{Key: "twitter_exporter:snapshot", Timeout: 500 * time.Millisecond},
		Consul:    ConsulConfig{Service: "twitter-exporter", Tags: []string{"metrics"}, CheckInterval: "15s", CheckTimeout: "5s"},
		Catalogue: CatalogueConfig{
			TopUsers:     10,
			Percentiles:  append([]int(nil), catalogue.DefaultPercentiles...),
			Windows:      append([]catalogue.TimeWindow(nil), catalogue.DefaultWindows...),
			HourlyWindow: 7 * 24 * time.Hour,
		},
		Buckets:  map[string][]catalogue.BucketSpec{},
		Fallback: map[string]float64{},
	}
}

// Load builds the configuration from args. Flags are defined on fs, which
// may already carry flags of other packages.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	path := fs.String("config", "", "path of an INI configuration file")
	for _, s := range settings {
		if s.flag {
			fs.String(s.key, "", s.usage)
		}
	}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg := Default()
	if *path != "" {
		if err := cfg.LoadFile(*path); err != nil {
			return nil, err
		}
	}

	var errs []error
	fs.Visit(func(f *flag.Flag) {
		if s, ok := lookup(f.Name); ok {
			if err := s.set(cfg, f.Value.String()); err != nil {
				errs = append(errs, fmt.Errorf("-%s: %w", f.Name, err))
			}
		}
	})
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile applies the INI file at path.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	defer f.Close()
	if err := c.Read(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Read applies INI content from r.
func (c *Config) Read(r io.Reader) error {
	sections, parseErrs := tinyini.Parse(r)
	if len(parseErrs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(parseErrs...))
	}

	var errs []error
	for _, name := range sortedKeys(sections) {
		section := sections[name]
		for _, key := range sortedKeys(section) {
			values := section[key]
			if len(values) == 0 {
				continue
			}
			// a repeated key takes its last value
			value := values[len(values)-1]
			if err := c.setKey(name, key, value); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c *Config) setKey(section, key, value string) error {
	switch section {
	case "buckets":
		buckets, err := catalogue.ParseBuckets(value)
		if err != nil {
			return fmt.Errorf("[buckets] %s: %w", key, err)
		}
		c.Buckets[key] = buckets
		return nil
	case "fallback":
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("[fallback] %s: %v", key, err)
		}
		c.Fallback[key] = v
		return nil
	}
	s, ok := lookup(section + "." + key)
	if !ok {
		return fmt.Errorf("[%s] %s: unknown key", section, key)
	}
	if err := s.set(c, value); err != nil {
		return fmt.Errorf("[%s] %s: %w", section, key, err)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Server.Addr != "", "server.addr is empty")
	check(c.Refresh.Interval > 0, "refresh.interval must be positive, got %s", c.Refresh.Interval)
	check(c.Refresh.Timeout > 0, "refresh.timeout must be positive, got %s", c.Refresh.Timeout)
	check(c.Store.Kind == StoreCassandra || c.Store.Kind == StoreMemory,
		"store.kind must be %q or %q, got %q", StoreCassandra, StoreMemory, c.Store.Kind)
	if c.Store.Kind == StoreCassandra {
		check(len(c.Cassandra.Hosts) > 0, "cassandra.hosts is empty")
		check(c.Cassandra.Port > 0 && c.Cassandra.Port < 65536, "cassandra.port %d out of range", c.Cassandra.Port)
		check(c.Cassandra.Keyspace != "", "cassandra.keyspace is empty")
	}
	check(isIdentifier(c.Cassandra.Table), "cassandra.table %q is not a plain identifier", c.Cassandra.Table)
	check(c.Memory.Tweets >= 0, "memory.tweets must not be negative")
	check(c.Catalogue.TopUsers > 0, "catalogue.top_users must be positive")
	for _, p := range c.Catalogue.Percentiles {
		check(p > 0 && p < 100, "catalogue.percentiles: %d not in 1..99", p)
	}
	check(len(c.Catalogue.Windows) > 0, "catalogue.windows is empty")
	check(c.Catalogue.HourlyWindow > 0, "catalogue.hourly_window must be positive")
	check(c.Memcached.TTL >= 0 && c.Memcached.TTL <= mirror.MaxTTL,
		"memcached.ttl must be between 0 and %s, got %s", mirror.MaxTTL, c.Memcached.TTL)
	if c.Consul.Enabled {
		check(c.Consul.Service != "", "consul.service is empty")
	}
	if len(errs) == 0 {
		if _, err := catalogue.New(c.CatalogueOptions()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// CatalogueOptions returns the catalogue settings.
func (c *Config) CatalogueOptions() catalogue.Options {
	return catalogue.Options{
		Table:        c.Cassandra.Table,
		TopUsers:     c.Catalogue.TopUsers,
		Percentiles:  c.Catalogue.Percentiles,
		Windows:      c.Catalogue.Windows,
		Buckets:      c.Buckets,
		HourlyWindow: c.Catalogue.HourlyWindow,
	}
}

// CassandraStore returns the gocql connector settings.
func (c *Config) CassandraStore() store.CassandraConfig {
	return store.CassandraConfig{
		Hosts:    c.Cassandra.Hosts,
		Port:     c.Cassandra.Port,
		Keyspace: c.Cassandra.Keyspace,
		Table:    c.Cassandra.Table,
		Timeout:  c.Cassandra.Timeout,
	}
}

// FallbackValues returns the built-in placeholder values merged with the
// configured overrides.
func (c *Config) FallbackValues() map[string]float64 {
	values := snapshot.Fallback()
	for k, v := range c.Fallback {
		values[k] = v
	}
	return values
}

// isIdentifier reports whether s can be written into a statement as a
// table name.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
