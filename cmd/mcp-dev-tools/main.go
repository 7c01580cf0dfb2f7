package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naman-msft/mcp-dev-tools/configs"
	"github.com/naman-msft/mcp-dev-tools/internal/adapter/inbound/mcphttp"
	"github.com/naman-msft/mcp-dev-tools/internal/adapter/inbound/mcpstdio"
	"github.com/naman-msft/mcp-dev-tools/internal/adapter/outbound/invoker"
	"github.com/naman-msft/mcp-dev-tools/internal/adapter/outbound/memrepo"
	"github.com/naman-msft/mcp-dev-tools/internal/adapter/outbound/registry"
	"github.com/naman-msft/mcp-dev-tools/internal/adapter/outbound/shellexec"
	"github.com/naman-msft/mcp-dev-tools/internal/adapter/outbound/sysinfo"
	"github.com/naman-msft/mcp-dev-tools/internal/adapter/outbound/workspacefs"
	"github.com/naman-msft/mcp-dev-tools/internal/auth"
	"github.com/naman-msft/mcp-dev-tools/internal/metrics"
	"github.com/naman-msft/mcp-dev-tools/internal/usecase"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// version is reported as serverInfo.version.
var version = "2.0.0"

const serviceName = "mcp-dev-tools"

// terminateGrace is how long before the shutdown deadline running commands
// are killed. It exceeds the executor's output drain delay.
const terminateGrace = 3 * time.Second

func main() {
	// === Command Line Flags ===
	var transport string
	flag.StringVar(&transport, "transport", "http", "Transport mode: http or stdio")
	flag.Parse()

	if transport != "http" && transport != "stdio" {
		fmt.Fprintf(os.Stderr, "Invalid transport mode %q (want http or stdio)\n", transport)
		os.Exit(2)
	}

	// === Configuration ===
	cfg, err := configs.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// === Logging ===
	logLevel := cfg.ParsedLogLevel()
	var logger *slog.Logger
	if transport == "stdio" {
		// stdout carries the protocol; keep logs off the terminal entirely.
		logFile, err := os.OpenFile("/tmp/mcp-dev-tools.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: logLevel}))
		} else {
			defer logFile.Close()
			logger = slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: logLevel}))
		}
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}
	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", logLevel.String()), slog.String("transport", transport))

	if err := run(cfg, transport, logger); err != nil {
		logger.Error("Server exited with error.", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Server stopped.")
}

func run(cfg *configs.Config, transport string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === OpenTelemetry Initialization ===
	shutdownOtel, err := initOtelProvider(cfg)
	if err != nil {
		return fmt.Errorf("initialize OpenTelemetry: %w", err)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()

	// === Workspace ===
	if err := os.MkdirAll(cfg.WorkspacePath, 0o755); err != nil {
		logger.Warn("Workspace directory is not available.", slog.String("path", cfg.WorkspacePath), slog.Any("error", err))
	}

	// === Dependency Injection ===
	logger.Info("Initializing dependencies...")

	// --- Tool Registry ---
	toolRegistry, err := registry.New(registry.Builtin(), logger)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	// --- Tool Executors ---
	commands := shellexec.New(shellexec.Config{
		Shell:         cfg.CommandShell,
		WorkspaceRoot: cfg.WorkspacePath,
		Timeout:       cfg.CommandTimeout,
		MaxConcurrent: cfg.MaxConcurrentCommands,
	}, logger)
	files := workspacefs.New(workspacefs.Config{Root: cfg.WorkspacePath, Confine: cfg.ConfinePaths}, logger)
	system := sysinfo.New(cfg.WorkspacePath, logger)
	toolInvoker := invoker.NewRouter(commands, files, system, logger)
	logger.Debug("Tool executors initialized.",
		slog.Duration("command_timeout", cfg.CommandTimeout),
		slog.Bool("confine_paths", cfg.ConfinePaths))

	// --- Sessions ---
	sessionTTL := time.Duration(0)
	if cfg.SessionMode == configs.SessionModePerClient {
		sessionTTL = cfg.SessionIdleTimeout
	}
	sessions := memrepo.NewInMemorySessionRepository(sessionTTL, logger)

	// --- Metrics ---
	var recorder usecase.MetricsRecorder
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		m := metrics.New()
		m.TrackSessions(sessions.Count)
		recorder = m
		metricsHandler = m.Handler()
	}

	// === Use Cases ===
	serveUC := usecase.NewServeToolsUseCase(toolRegistry, logger)
	invokeUC := usecase.NewInvokeToolUseCase(toolRegistry, toolInvoker, recorder, logger)
	dispatcher, err := usecase.NewDispatcher(usecase.DispatcherConfig{
		ServerName:    cfg.ServerName,
		ServerVersion: version,
		Mode:          usecase.SessionMode(cfg.SessionMode),
		Sessions:      sessions,
		ServeTools:    serveUC,
		InvokeTool:    invokeUC,
		Metrics:       recorder,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	// === HTTP Server Setup ===
	opts := mcphttp.Options{Metrics: metricsHandler}
	if cfg.AuthEnabled {
		opts.Verifier = auth.NewJWTVerifier([]byte(cfg.AuthJWTSecret))
		logger.Info("Bearer authentication enabled for /mcp.")
	}
	handlers := mcphttp.NewHandlers(dispatcher, opts, logger)
	mux := http.NewServeMux()
	if transport == "http" {
		handlers.RegisterRoutes(mux)
	} else {
		handlers.RegisterProbeRoutes(mux)
		if metricsHandler != nil {
			mux.Handle("GET /metrics", metricsHandler)
		}
	}
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      mux,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server starting.",
			slog.String("address", httpServer.Addr),
			slog.String("session_mode", cfg.SessionMode))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if transport == "stdio" {
		stdioServer, err := mcpstdio.New(ctx, cfg.ServerName, version, serveUC, invokeUC, logger)
		if err != nil {
			return fmt.Errorf("build stdio server: %w", err)
		}
		g.Go(func() error {
			defer stop() // stdin closed: shut everything down
			return stdioServer.Listen(gctx, os.Stdin, os.Stdout)
		})
	}

	// === Server Shutdown ===
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Commands still running shortly before the deadline are killed so
		// their callers get a response and no process group is orphaned.
		killTimer := time.AfterFunc(cfg.ShutdownTimeout-terminateGrace, func() {
			if n := commands.Terminate(); n > 0 {
				logger.Warn("Terminated running commands.", slog.Int("count", n))
			}
		})
		defer killTimer.Stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server graceful shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// initOtelProvider initializes the OpenTelemetry SDK and sets up the OTLP trace exporter.
// It returns a shutdown function to be called on application exit.
func initOtelProvider(cfg *configs.Config) (func(context.Context) error, error) {
	ctx := context.Background()

	if cfg.OtelExporterOtlpEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, OpenTelemetry tracing disabled.")
		return func(context.Context) error { return nil }, nil
	}

	slog.Info("Initializing OTLP exporter.", slog.String("endpoint", cfg.OtelExporterOtlpEndpoint))

	grpcOpts := []grpc.DialOption{}
	if cfg.OtelExporterOtlpInsecure {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection for OTLP exporter.")
	}

	conn, err := grpc.NewClient(cfg.OtelExporterOtlpEndpoint, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to OTLP endpoint: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	slog.Info("OpenTelemetry TracerProvider configured.")

	return func(ctx context.Context) error {
		providerErr := tp.Shutdown(ctx)
		connErr := conn.Close()
		return errors.Join(providerErr, connErr)
	}, nil
}
