package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/crisjonblvx/blvx-app-sub000/internal/config"
	"github.com/crisjonblvx/blvx-app-sub000/internal/metrics"
	"github.com/crisjonblvx/blvx-app-sub000/internal/relay"
	"github.com/crisjonblvx/blvx-app-sub000/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// A .env file is a dev convenience; its absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	logger.Info("starting stoopd",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"ws_ping_interval", cfg.WSPingInterval,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"allowed_origins", cfg.AllowedOrigins,
		"commit", commit,
		"build_time", builtAt,
	)

	if len(cfg.AllowedOrigins) == 0 {
		logger.Warn("no allowed origins configured; browser connections from any origin will be accepted")
	}

	m := metrics.New()
	hub := relay.NewHub(logger, m)
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	mux := http.NewServeMux()
	relay.NewServer(hub, relay.ServerConfig{
		AllowedOrigins:       cfg.AllowedOrigins,
		WSIdleTimeout:        cfg.WSIdleTimeout,
		WSPingInterval:       cfg.WSPingInterval,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	}, logger).RegisterRoutes(mux)

	var issuer *turnrest.Issuer
	if cfg.TURNRestSecret != "" {
		issuer, err = turnrest.NewIssuer(turnrest.IssuerConfig{
			SharedSecret: cfg.TURNRestSecret,
			TTL:          cfg.TURNRestTTL,
		})
		if err != nil {
			logger.Error("invalid TURN credential configuration", "err", err)
			os.Exit(2)
		}
		logger.Info("serving ephemeral TURN credentials", "ttl", cfg.TURNRestTTL)
	}
	mux.Handle("GET /ice-config", relay.NewICEConfigHandler(cfg.ICEServers, issuer, logger))

	// Internal counters in Prometheus' text format.
	mux.Handle("GET /metrics", metrics.PrometheusHandler(m))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		stopHub()
		<-hubDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	stopHub()
	<-hubDone

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return commit, buildTime
}
