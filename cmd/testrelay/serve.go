package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/testrelay/internal/config"
	"github.com/mattjoyce/testrelay/internal/lock"
	"github.com/mattjoyce/testrelay/internal/log"
	"github.com/mattjoyce/testrelay/internal/mux"
	"github.com/mattjoyce/testrelay/internal/server"
)

func runServe(args []string) int {
	var configPath, listen, pidFile, logLevel, logFormat string
	var port int

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")
	fs.IntVar(&port, "p", 0, "Listen on this port on all interfaces")
	fs.StringVar(&pidFile, "pid-file", "", "Hold an exclusive lock on this PID file")
	addLogFlags(fs, &logLevel, &logFormat)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: testrelay serve [-config path] [-listen addr | -p port]")
		return 1
	}
	if listen != "" && port != 0 {
		fmt.Fprintln(os.Stderr, "-listen and -p are mutually exclusive")
		return 1
	}

	cfg, err := loadConfig(configPath, logLevel, logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	switch {
	case listen != "":
		cfg.Server.Listen = listen
	case port < 0 || port > 65535:
		fmt.Fprintf(os.Stderr, "invalid port %d\n", port)
		return 1
	case port != 0:
		cfg.Server.Listen = fmt.Sprintf(":%d", port)
	}
	if pidFile != "" {
		cfg.Server.PIDFile = pidFile
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	setupLogging(cfg)
	logger := log.WithComponent("main")
	logger.Info("testrelay worker starting", "version", version, "config", cfg.SourcePath)

	if cfg.Server.PIDFile != "" {
		pidLock, err := lock.AcquirePIDLock(cfg.Server.PIDFile)
		if err != nil {
			logger.Error("failed to acquire PID lock (another worker may be running)", "path", cfg.Server.PIDFile, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := newRegistry()
	srv := server.New(server.Config{
		Listen:       cfg.Server.Listen,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, registry, mux.NewConsole(os.Stdout, os.Stderr), log.WithComponent("server"))

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker failed", "error", err)
		return 1
	}

	logger.Info("testrelay worker stopped")
	return 0
}
