// Package main is the entry point of the Twitter statistics exporter.
//
// The exporter runs the aggregation catalogue against the tweets table on a
// fixed interval and serves the latest snapshot over HTTP. Startup order:
// configuration, snapshot store seeded with the fallback values, refresher,
// optional memcached mirror, HTTP server, optional consul registration.
// SIGINT or SIGTERM shuts everything down in reverse order.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/golang/glog"

	"github.com/smart-developer1791/twitter-exporter/internal/api"
	"github.com/smart-developer1791/twitter-exporter/internal/catalogue"
	"github.com/smart-developer1791/twitter-exporter/internal/config"
	"github.com/smart-developer1791/twitter-exporter/internal/mirror"
	"github.com/smart-developer1791/twitter-exporter/internal/presentation"
	"github.com/smart-developer1791/twitter-exporter/internal/refresher"
	"github.com/smart-developer1791/twitter-exporter/internal/registry"
	"github.com/smart-developer1791/twitter-exporter/internal/snapshot"
	"github.com/smart-developer1791/twitter-exporter/internal/store"
	"github.com/smart-developer1791/twitter-exporter/pkg/metrics"
)

func main() {
	// glog registers its flags on flag.CommandLine; log to stderr unless
	// -logtostderr=false is given
	flag.Set("logtostderr", "true")
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Flush()

	if err := run(cfg); err != nil {
		log.Errorf("exporter failed: %v", err)
		log.Flush()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	cat, err := catalogue.New(cfg.CatalogueOptions())
	if err != nil {
		return fmt.Errorf("building catalogue: %w", err)
	}

	connector, err := newConnector(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector()

	// the first requests see placeholder values until cycle 1 ends
	fallback := cfg.FallbackValues()
	snapshots := snapshot.NewStore(snapshot.New(fallback, snapshot.SourceFallback, 0, time.Now()))

	ref := refresher.New(cat, connector, snapshots, collector, refresher.Config{
		Interval: cfg.Refresh.Interval,
		Timeout:  cfg.Refresh.Timeout,
		Fallback: fallback,
	})
	ref.Start(ctx)

	var mirrored *mirror.Mirror
	if len(cfg.Memcached.Servers) > 0 {
		client := mirror.NewClient(cfg.Memcached.Timeout, cfg.Memcached.Servers...)
		mirrored = mirror.New(client, cfg.Memcached.Key, cfg.Memcached.TTL)
		mirrored.Start(ctx, snapshots)
		log.Infof("mirroring snapshots to memcached %v under %s", cfg.Memcached.Servers, cfg.Memcached.Key)
	}

	server := api.NewServer(
		cfg.Server.Addr,
		snapshots,
		presentation.NewHistogrammer(cat.Families),
		presentation.NewPieCharts(cat),
		collector,
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	banner(cfg)

	deregister := func() {}
	if cfg.Consul.Enabled {
		if deregister, err = register(cfg); err != nil {
			// the exporter stays useful without discovery
			log.Errorf("%v", err)
			deregister = func() {}
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Infof("received %v, shutting down", sig)
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	deregister()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warningf("http shutdown: %v", err)
	}
	ref.Wait()
	if mirrored != nil {
		mirrored.Wait()
	}

	stats := collector.GetStats()
	log.Infof("final stats: cycles ok=%d fallback=%d avg=%v",
		stats.CyclesSucceeded, stats.CyclesFailed, stats.AverageCycleDuration)
	return runErr
}

func newConnector(cfg *config.Config) (store.Connector, error) {
	switch cfg.Store.Kind {
	case config.StoreMemory:
		mem := store.NewMemoryStore()
		mem.Seed(cfg.Memory.Tweets, rand.New(rand.NewSource(cfg.Memory.Seed)), time.Now())
		log.Infof("using the memory store with %d synthetic tweets", mem.Len())
		return mem, nil
	case config.StoreCassandra:
		log.Infof("using Cassandra %v:%d keyspace %s", cfg.Cassandra.Hosts, cfg.Cassandra.Port, cfg.Cassandra.Keyspace)
		return store.NewCassandra(cfg.CassandraStore()), nil
	default:
		return nil, fmt.Errorf("%w: unknown store kind %q", config.ErrInvalid, cfg.Store.Kind)
	}
}

func register(cfg *config.Config) (func(), error) {
	_, portText, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("consul: server.addr %q: %w", cfg.Server.Addr, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return nil, fmt.Errorf("consul: server.addr %q: %w", cfg.Server.Addr, err)
	}
	rc := registry.Config{
		Address:       cfg.Consul.Address,
		Token:         cfg.Consul.Token,
		Service:       cfg.Consul.Service,
		Host:          cfg.Consul.Host,
		Port:          port,
		Tags:          cfg.Consul.Tags,
		CheckInterval: cfg.Consul.CheckInterval,
		CheckTimeout:  cfg.Consul.CheckTimeout,
	}
	agent, err := registry.NewAgent(rc)
	if err != nil {
		return nil, err
	}
	return registry.Register(agent, rc)
}

func banner(cfg *config.Config) {
	log.Infof("Twitter exporter listening on %s (store %s, refresh every %s)",
		cfg.Server.Addr, cfg.Store.Kind, cfg.Refresh.Interval)
	for _, line := range []string{
		"metrics at /metrics",
		"JSON at /metrics_json",
		"histogram data at /histogram_data",
		"pie chart data at /piechart_data/<retweets|likes|text_length>",
		"health check at /health",
		"snapshot info at /snapshot_info",
		"live stream at /stream",
		"exporter metrics at /exporter_metrics",
	} {
		log.Infof("  %s", line)
	}
}
