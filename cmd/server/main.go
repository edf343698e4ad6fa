package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/andy6609/prattle/internal/admin"
	"github.com/andy6609/prattle/internal/chat"
	"github.com/andy6609/prattle/internal/config"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file with PRATTLE_* settings")
	adminAddr := flag.String("admin-addr", "", "admin/metrics listen address (overrides PRATTLE_ADMIN_ADDR)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <port>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(2)
	}
	if flag.NArg() == 1 {
		port, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid port %q\n", flag.Arg(0))
			os.Exit(2)
		}
		cfg.Port = port
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := chat.NewServer(cfg, logger, chat.NewMetrics(reg))

	var adminSrv *http.Server
	if cfg.AdminAddr != "" {
		adminSrv = admin.NewHTTPServer(cfg.AdminAddr, admin.NewRouter(srv, reg, logger))
		go func() {
			logger.Info("admin listening", "addr", cfg.AdminAddr)
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = srv.Serve(ctx)

	if adminSrv != nil {
		if err := admin.Shutdown(adminSrv, cfg.ShutdownTimeout); err != nil {
			logger.Warn("admin shutdown", "error", err)
		}
	}
	if err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
}
