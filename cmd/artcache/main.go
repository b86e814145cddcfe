// Spins up the artcache server, compatible w/ the Redis protocol, and its Prometheus metrics endpoint.

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nobletooth/artcache/pkg/config"
	"github.com/nobletooth/artcache/pkg/port"
	"github.com/nobletooth/artcache/pkg/tiered"
	"github.com/nobletooth/artcache/pkg/utils"
)

var (
	printVersion   = flag.Bool("print_version", false, "Print the version and exit.")
	metricsAddress = flag.String("metrics_address", ":9090",
		"The ip:port serving Prometheus metrics on /metrics; empty disables the endpoint.")
)

// serveMetrics serves the metrics endpoint until `ctx` is done.
func serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: *metricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	slog.Info("Serving metrics.", "address", *metricsAddress)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Artcache build info.", utils.BuildAttrs()...)
		return
	}
	for _, err := range config.CollectUnknownFlags() {
		slog.Warn("Ignored config file entry.", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coordinator, err := tiered.NewFromFlags()
	if err != nil {
		slog.Error("Failed to build the cache.", "err", err)
		os.Exit(1)
	}
	backend, err := port.NewCacheBackend(coordinator)
	if err != nil {
		slog.Error("Failed to build the cache backend.", "err", err)
		os.Exit(1)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return port.RunRedisServer(groupCtx, backend) })
	if *metricsAddress != "" {
		group.Go(func() error { return serveMetrics(groupCtx) })
	}
	if err := group.Wait(); err != nil {
		slog.Error("Artcache server stopped.", "err", err)
		_ = backend.Close()
		os.Exit(1)
	}
	slog.Info("Artcache server stopped.", utils.BuildAttrs()...)
}
