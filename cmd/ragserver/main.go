// Command ragserver is the CLI and HTTP composition root for the
// scholarly-paper RAG system, grounded on the teacher's cmd/hector
// kong-based CLI (config path, log level/file/format flags) and its
// signal-driven graceful shutdown.
//
// Usage:
//
//	ragserver serve --config config.yaml
//	ragserver validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kpekel-labs/scholarag/internal/config"
	"github.com/kpekel-labs/scholarag/internal/httpapi"
	"github.com/kpekel-labs/scholarag/internal/metrics"
	"github.com/kpekel-labs/scholarag/internal/obslog"
	"github.com/kpekel-labs/scholarag/pkg/ragroot"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the RAG HTTP server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	ListenAddress string `name:"listen" help:"Override server.listen_address from config."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	cfg, logger, closeLog, err := cli.loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	if c.ListenAddress != "" {
		cfg.Server.ListenAddress = c.ListenAddress
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	root := ragroot.New(cfg, logger)
	defer root.Close()

	if err := root.PrepareStore(ctx); err != nil {
		return fmt.Errorf("prepare vector store: %w", err)
	}

	orchestrator, err := root.IngestionOrchestrator()
	if err != nil {
		return fmt.Errorf("build ingestion orchestrator: %w", err)
	}
	engine, err := root.AnsweringEngine()
	if err != nil {
		return fmt.Errorf("build answering engine: %w", err)
	}
	coordinator, err := root.SessionCoordinator()
	if err != nil {
		return fmt.Errorf("build session coordinator: %w", err)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Orchestrator: orchestrator,
		Engine:       engine,
		Registry:     root.Registry(),
		Coordinator:  coordinator,
		Metrics:      metrics.New(),
		Logger:       logger,
	}, cfg.Server.MetricsPath)

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("ragserver ready", "address", cfg.Server.ListenAddress, "metrics_path", cfg.Server.MetricsPath)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ValidateCmd checks a configuration file without starting the server.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Println("configuration is valid")
	return nil
}

// loadConfigAndLogger loads .env, the config file, and initializes the
// process-wide slog sink before any component is constructed.
func (cli *CLI) loadConfigAndLogger() (config.Config, *slog.Logger, func(), error) {
	noop := func() {}

	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, nil, noop, err
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return config.Config{}, nil, noop, err
	}

	level := cli.LogLevel
	if level == "" {
		level = cfg.Logger.Level
	}
	parsedLevel, err := obslog.ParseLevel(level)
	if err != nil {
		return config.Config{}, nil, noop, fmt.Errorf("invalid log level: %w", err)
	}

	format := cli.LogFormat
	if format == "" {
		format = cfg.Logger.Format
	}

	output := os.Stderr
	cleanup := noop
	logFile := cli.LogFile
	if logFile == "" {
		logFile = cfg.Logger.File
	}
	if logFile != "" {
		f, closeFile, err := obslog.OpenLogFile(logFile)
		if err != nil {
			return config.Config{}, nil, noop, fmt.Errorf("open log file: %w", err)
		}
		output = f
		cleanup = closeFile
	}

	obslog.Init(parsedLevel, output, format)
	return cfg, obslog.GetLogger(), cleanup, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ragserver"),
		kong.Description("Scholarly-paper RAG system"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
