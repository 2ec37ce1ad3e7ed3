// pibox-server is the orchestration daemon sitting between thin clients
// and a local file-management HTTP backend.
//
// Startup sequence:
//  1. Load configuration (TOML file or defaults).
//  2. Initialise the logger, metrics, Token Authority, and Backend Client.
//  3. Construct Server State and bind the HTTP/WebSocket listener.
//  4. Start the load probe in the background.
//  5. Block until OS signals SIGINT or SIGTERM, then shut down in reverse
//     dependency order.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firasghr/pibox-server/auth"
	"github.com/firasghr/pibox-server/backend"
	"github.com/firasghr/pibox-server/config"
	"github.com/firasghr/pibox-server/gateway"
	"github.com/firasghr/pibox-server/loadprobe"
	"github.com/firasghr/pibox-server/lock"
	"github.com/firasghr/pibox-server/logger"
	"github.com/firasghr/pibox-server/metrics"
	"github.com/firasghr/pibox-server/state"
	"github.com/firasghr/pibox-server/transport"
)

// backendTimeout bounds every individual backend HTTP call.
const backendTimeout = 30 * time.Second

// shutdownTimeout bounds how long graceful shutdown waits for in-flight
// HTTP requests before forcing close. Open WebSocket connections are not
// waited for; they end when the process exits.
const shutdownTimeout = 5 * time.Second

func main() {
	configFile := flag.String("config", "", "Path to TOML config file (optional; uses defaults if omitted)")
	flag.Parse()

	log := logger.New(logger.LevelInfo)
	log.Info("pibox-server starting up")

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Errorf("configuration error: %v", err)
		os.Exit(1)
	}
	if *configFile != "" {
		log.Infof("configuration loaded from %q", *configFile)
	} else {
		log.Info("using default configuration")
	}

	secret, err := resolveSecret(cfg.Server.TokenSecretB64)
	if err != nil {
		log.Errorf("invalid token secret: %v", err)
		os.Exit(1)
	}

	authority, err := auth.New(secret, cfg.AccessTokenTTLDuration(), cfg.RefreshTokenTTLDuration())
	if err != nil {
		log.Errorf("token authority: %v", err)
		os.Exit(1)
	}

	backendClient := backend.New(cfg.Server.BackendURL, cfg.Server.BackendToken, backendTimeout)
	backendClient.SetLogger(log)

	st := state.New(authority, backendClient, cfg.Server.MaxConcurrentTransfers)
	m := metrics.NewMetrics()
	handler := gateway.NewHandler(st, auth.AllowAny, lock.New(), m, log)
	srv := transport.New(st, handler, auth.AllowAny, log)

	httpServer, listener, err := srv.Listen(cfg.Addr())
	if err != nil {
		log.Errorf("bind failed: %v", err)
		os.Exit(1)
	}
	log.Infof("listening on %s", cfg.Addr())

	go func() {
		if err := transport.Serve(httpServer, listener); err != nil {
			log.Errorf("http server error: %v", err)
		}
	}()

	probeCtx, cancelProbe := context.WithCancel(context.Background())
	probe := loadprobe.New(st, log, cfg.LoadReportInterval())
	go probe.Run(probeCtx)
	log.Infof("load probe started, interval=%s", cfg.LoadReportInterval())

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			total, success, failed := m.Snapshot()
			log.Infof("metrics – total: %d | success: %d | failed: %d | rps: %.1f | sessions: %d",
				total, success, failed, m.RequestsPerSecond(), st.SessionCount())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println()
	log.Infof("received signal %s; shutting down", sig)

	cancelProbe()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := transport.Shutdown(shutdownCtx, httpServer, shutdownTimeout); err != nil {
		log.Errorf("shutdown error: %v", err)
	}

	total, success, failed := m.Snapshot()
	log.Infof("final metrics – total: %d | success: %d | failed: %d", total, success, failed)
	log.Info("pibox-server shut down cleanly")
}

// resolveSecret decodes a base64-encoded configured secret, or returns nil
// (letting auth.New generate an ephemeral one) when none is configured.
func resolveSecret(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	secret, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode token_secret_b64: %w", err)
	}
	return secret, nil
}
