package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/blockberries/cinderlink"
	cinderotel "github.com/blockberries/cinderlink/otel"
	prommetrics "github.com/blockberries/cinderlink/prometheus"
	"github.com/blockberries/cinderlink/zaplog"
)

const shutdownTimeout = 15 * time.Second

var (
	runLogLevel      string
	runMetricsListen string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the node and block until interrupted",
	RunE:  runNode,
}

func init() {
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "override the configured log level")
	runCmd.Flags().StringVar(&runMetricsListen, "metrics-listen", "", "override the metrics/health listen address")
}

func runNode(cmd *cobra.Command, args []string) error {
	fc, err := cinderlink.LoadConfigFile(cfgFile)
	if err != nil {
		return err
	}
	if runLogLevel != "" {
		fc.Logging.Level = runLogLevel
	}
	if runMetricsListen != "" {
		fc.Metrics.Listen = runMetricsListen
	}

	zl, err := zaplog.Build(fc.Logging.Level, fc.Logging.Format)
	if err != nil {
		return err
	}
	logger := zaplog.New(zl)
	defer func() { _ = logger.Sync() }()

	priv, err := fc.PrivateKey()
	if err != nil {
		return err
	}
	opts, err := fc.Options()
	if err != nil {
		return err
	}

	registry := promclient.NewRegistry()
	opts = append(opts,
		cinderlink.WithLogger(logger.Named("cinderlink")),
		cinderlink.WithMetrics(prommetrics.NewMetricsWithRegisterer(fc.Metrics.Namespace, registry)),
		cinderlink.WithTracer(cinderotel.NewTracer(otel.GetTracerProvider())),
	)

	client, err := cinderlink.New(cinderlink.NewConfig(priv, opts...))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Start(ctx); err != nil {
		_ = client.Stop(context.Background())
		return err
	}
	zl.Info("node started",
		zap.Stringer("peerID", client.PeerID()),
		zap.String("did", client.DID()),
		zap.Any("addrs", client.Addrs()))

	var srv *http.Server
	if fc.Metrics.Listen != "" {
		srv = serveObservability(fc.Metrics.Listen, client, registry, zl)
	}

	go logEvents(client, zl)

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := client.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

func serveObservability(addr string, client *cinderlink.Client, registry *promclient.Registry, zl *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/health", cinderlink.HealthHandler(client))
	mux.Handle("/live", cinderlink.LivenessHandler(client))
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		out, err := client.DumpStateJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(out))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		zl.Info("serving metrics and health", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("observability server failed", zap.Error(err))
		}
	}()
	return srv
}

func logEvents(client *cinderlink.Client, zl *zap.Logger) {
	for evt := range client.Events() {
		zl.Debug("event", zap.String("name", evt.Name), zap.Time("at", evt.Timestamp))
	}
}
