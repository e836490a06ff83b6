package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nab138/nt4go/pkg/nt4"
	"github.com/nab138/nt4go/pkg/protocol"
	"github.com/nab138/nt4go/pkg/replay"
)

func watchCmd() *cobra.Command {
	var (
		port        int
		name        string
		prefixes    []string
		metricsAddr string
		tracing     bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "watch <host>",
		Short: "Stream value updates to stdout",
		Long: `Subscribe to topics under the given prefixes and print every
value update as it arrives, stamped with server time.

A small HTTP server exposes Prometheus metrics and connection status.

Examples:
  nt4mon watch 10.0.0.2
  nt4mon watch roborio.local --prefix=/SmartDashboard --prefix=/FMSInfo
  nt4mon watch 10.0.0.2 --metrics-addr=:9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(args[0], port, name, prefixes, metricsAddr, tracing, verbose)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", nt4.DefaultPort, "Server WebSocket port")
	cmd.Flags().StringVarP(&name, "name", "n", "nt4mon", "Client name for the endpoint path")
	cmd.Flags().StringSliceVar(&prefixes, "prefix", []string{"/"}, "Topic name prefixes to subscribe to")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":8080", "Listen address for /metrics and /status")
	cmd.Flags().BoolVar(&tracing, "tracing", false, "Emit OpenTelemetry spans via the global provider")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log per-frame detail")

	return cmd
}

func runWatch(host string, port int, name string, prefixes []string, metricsAddr string, tracing, verbose bool) error {
	logger := newLogger(verbose)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := nt4.NewMetrics(nt4.WithRegistry(registry))

	opts := []nt4.Option{
		nt4.WithPort(port),
		nt4.WithLogger(logger),
		nt4.WithMetrics(metrics),
	}
	if tracing {
		opts = append(opts, nt4.WithTracing())
	}
	client := nt4.New(host, name, opts...)

	client.OnAnnounce(func(topic *nt4.Topic) {
		fmt.Printf("# announce %s (%s)\n", topic.Name, topic.Type)
	})
	client.OnUnannounce(func(topic *nt4.Topic) {
		fmt.Printf("# unannounce %s\n", topic.Name)
	})
	client.OnValue(func(topic *nt4.Topic, timestampUs int64, value protocol.Value) {
		fmt.Printf("%12d  %-40s %v\n", timestampUs, topic.Name, value.Any())
	})

	session := replay.New(client, replay.WithLogger(logger))
	if _, err := session.Subscribe(prefixes, protocol.SubscriptionOptions{Prefix: true}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := session.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return serveHTTP(ctx, metricsAddr, registry, client, logger.With("component", "http"))
	})
	return g.Wait()
}

// serveHTTP runs the metrics/status endpoint until ctx is canceled.
func serveHTTP(ctx context.Context, addr string, registry *prometheus.Registry, client *nt4.Client, logger *slog.Logger) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		serverTime, synced := client.ServerTimeUs()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"state":            client.State().String(),
			"url":              client.URL(),
			"announced_topics": len(client.AnnouncedTopics()),
			"subscriptions":    len(client.Subscriptions()),
			"server_time_us":   serverTime,
			"clock_synced":     synced,
		})
	})

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("http endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
