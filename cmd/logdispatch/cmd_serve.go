package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/logdispatch/internal/errx"
	"github.com/jingkaihe/logdispatch/pkg/config"
	"github.com/jingkaihe/logdispatch/pkg/socket"
)

const metricsShutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive events from socket sinks and dispatch them to the configured sinks",
	Long: `Receive events from socket sinks and dispatch them to the configured sinks.

Every connection is read through the deserialization gate: frames naming any
type other than the event types are rejected and the connection is dropped.`,
	Example: `  logdispatch serve --config logdispatch.yaml
  logdispatch serve --listen 0.0.0.0:4560 --metrics-addr :9100`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:4560", "Address for the socket server")
	serveCmd.Flags().String("metrics-addr", "", "Address to expose Prometheus metrics on (disabled when empty)")
	serveCmd.Flags().StringSlice("allow-type", nil, "Extra type names accepted on the wire (can be repeated)")
	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("metrics_addr", serveCmd.Flags().Lookup("metrics-addr"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	allowTypes, _ := cmd.Flags().GetStringSlice("allow-type")

	cfg, err := config.Load(viper.GetViper(), viper.GetString("config"))
	if err != nil {
		return errx.Wrap(ErrLoadConfig, err)
	}
	logger := slog.Default().With("component", "serve")

	dispatcher, err := config.Build(cfg, slog.Default())
	if err != nil {
		return errx.Wrap(ErrBuildDispatcher, err)
	}
	defer dispatcher.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := socket.NewServer(socket.ServerConfig{AllowedTypes: allowTypes}, dispatcher, slog.Default())
	if err := srv.Listen(cfg.Listen); err != nil {
		return errx.Wrap(ErrListen, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx)
	})
	if cfg.MetricsAddr != "" {
		metricsSrv := newMetricsServer(cfg.MetricsAddr)
		g.Go(func() error {
			logger.Info("serving metrics", "address", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errx.Wrap(ErrMetricsServer, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := shutdownContext(metricsShutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down", "queued", dispatcher.QueueLen(), "discarded", dispatcher.Discarded())
	if cerr := dispatcher.Close(); cerr != nil {
		err = errors.Join(err, errx.Wrap(ErrShutdown, cerr))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
