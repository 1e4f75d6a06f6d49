package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/flowcanvas/bus"
	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/config"
	"github.com/petal-labs/flowcanvas/connect"
	canvasotel "github.com/petal-labs/flowcanvas/otel"
	"github.com/petal-labs/flowcanvas/registry"
	"github.com/petal-labs/flowcanvas/server"
	"github.com/petal-labs/flowcanvas/store"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the compiler HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to flowcanvas.yaml")
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringSlice("cors-origin", nil, "Allowed CORS origin (repeatable)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace endpoint (overrides telemetry.otlp_endpoint)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, &cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	tp, shutdownTracing, err := setupTracing(ctx, cfg.Telemetry)
	if err != nil {
		return exitError(exitConfig, "initializing tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("flushing traces failed", "error", err)
		}
	}()

	tracing := canvasotel.NewTracingHandler(tp.Tracer("flowcanvas/compiler"))
	metrics, err := canvasotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("flowcanvas/compiler"))
	if err != nil {
		return exitError(exitConfig, "initializing metrics: %v", err)
	}

	events, closeEvents, err := openEventStore(cfg.Store)
	if err != nil {
		return exitError(exitConfig, "opening compile event store: %v", err)
	}
	defer func() {
		_ = closeEvents()
	}()
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer func() {
		_ = eb.Close()
	}()
	recorder := bus.NewRecorder(events, eb, logger)

	c, err := newCompiler(cfg, compiler.Options{
		Logger: logger,
		EventHandler: compiler.MultiEventHandler(
			tracing.Handle,
			metrics.Handle,
			canvasotel.EnrichHandler(compiler.LogEventHandler(logger), tracing),
			canvasotel.EnrichHandler(recorder.Handle, tracing),
		),
	})
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return exitError(exitConfig, "opening %s store: %v", storeDriver(cfg.Store), err)
	}
	defer func() {
		_ = st.Close()
	}()

	reg := registry.Global()
	srv := server.New(server.Config{
		Store:       st,
		Compiler:    c,
		Validator:   connect.Default(connect.WithRegistry(reg)),
		Registry:    reg,
		EventStore:  events,
		EventBus:    eb,
		CORSOrigins: cfg.Server.CORSOrigins,
		MaxBody:     maxBody,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	// Open event streams end when the bus closes.
	httpServer.RegisterOnShutdown(func() { _ = eb.Close() })

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "flowcanvas listening on %s (store: %s)\n", cfg.Server.Addr, storeDriver(cfg.Store))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// applyServeFlags lets explicit flags win over the config file.
func applyServeFlags(cmd *cobra.Command, cfg *config.File) {
	if addr, _ := cmd.Flags().GetString("addr"); strings.TrimSpace(addr) != "" {
		cfg.Server.Addr = strings.TrimSpace(addr)
	}
	if cmd.Flags().Changed("cors-origin") {
		origins, _ := cmd.Flags().GetStringSlice("cors-origin")
		cfg.Server.CORSOrigins = origins
	}
	if endpoint, _ := cmd.Flags().GetString("otlp-endpoint"); strings.TrimSpace(endpoint) != "" {
		cfg.Telemetry.OTLPEndpoint = strings.TrimSpace(endpoint)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = config.Default().Server.Addr
	}
}

// openEventStore keeps compile events next to the workflows when they live
// in SQLite and in memory otherwise.
func openEventStore(cfg config.StoreConfig) (bus.EventStore, func() error, error) {
	if cfg.Driver != config.StoreSQLite {
		return bus.NewMemEventStore(1000), func() error { return nil }, nil
	}
	s, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{
		DSN:            cfg.SQLitePath,
		RetentionAge:   7 * 24 * time.Hour,
		RetentionCount: 1000,
	})
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func storeDriver(cfg config.StoreConfig) string {
	if cfg.Driver == "" {
		return config.StoreMemory
	}
	return cfg.Driver
}

// setupTracing returns the tracer provider compile spans are recorded on.
// Without an OTLP endpoint the global provider is used and nothing needs
// flushing.
func setupTracing(ctx context.Context, cfg config.TelemetryConfig) (trace.TracerProvider, func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		return otelapi.GetTracerProvider(), func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{}
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "flowcanvas"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otelapi.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}
