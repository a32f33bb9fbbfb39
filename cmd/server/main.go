package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nodenexus/nodenexus/internal/app"
	"github.com/nodenexus/nodenexus/internal/platform/database"
	"github.com/nodenexus/nodenexus/internal/platform/migrations"
	"github.com/nodenexus/nodenexus/internal/secretcrypto"
	"github.com/nodenexus/nodenexus/pkg/config"
	"github.com/nodenexus/nodenexus/pkg/logger"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

func main() {
	addr := flag.String("addr", "", "HTTP/WS listen address (defaults to config or :8080)")
	rpcAddr := flag.String("rpc-addr", "", "raw TCP agent-stream listen address (empty disables it)")
	dbPath := flag.String("db", "", "embedded store path (overrides config/env)")
	configPath := flag.String("config", "", "path to a YAML configuration file")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup")
	apiTokensFlag := flag.String("api-tokens", "", "comma-separated bearer tokens for HTTP/agent auth")
	flag.Parse()

	cfg := config.New()
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := config.LoadFile(trimmed)
		if err != nil {
			log.Fatalf("load config %s: %v", trimmed, err)
		}
		cfg = loaded
	} else if loaded, err := config.Load(); err == nil {
		cfg = loaded
	}

	if trimmed := strings.TrimSpace(*dbPath); trimmed != "" {
		cfg.Database.Path = trimmed
	}
	if tokens := splitTokens(*apiTokensFlag); len(tokens) > 0 {
		cfg.Auth.Tokens = append(cfg.Auth.Tokens, tokens...)
	}

	appLog := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	rootCtx := context.Background()
	db, err := database.Open(rootCtx, cfg.Database.ConnectionString())
	if err != nil {
		appLog.Fatalf("connect to embedded store: %v", err)
	}
	defer db.Close()

	if *runMigrations && cfg.Database.MigrateOnStart {
		if err := migrations.Apply(rootCtx, db); err != nil {
			appLog.Fatalf("apply migrations: %v", err)
		}
	}

	cipher := resolveSecretCipher(appLog)

	application, err := app.New(cfg, db, appLog, cipher)
	if err != nil {
		appLog.Fatalf("initialise application: %v", err)
	}

	ctx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		appLog.Fatalf("start application: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/agent/ws", application.ServeAgentWS)
	mux.Handle("/", application.Handler)

	listenAddr := determineAddr(*addr, cfg)
	httpServer := &http.Server{Addr: listenAddr, Handler: mux}

	go func() {
		appLog.Infof("nodenexus server listening on %s (http/ws)", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatalf("http server: %v", err)
		}
	}()

	var rpcListener net.Listener
	if trimmed := strings.TrimSpace(*rpcAddr); trimmed != "" {
		rpcListener, err = net.Listen("tcp", trimmed)
		if err != nil {
			appLog.Fatalf("listen rpc-addr %s: %v", trimmed, err)
		}
		appLog.Infof("nodenexus server listening on %s (raw agent stream)", trimmed)
		go acceptRPCLoop(ctx, rpcListener, application, appLog)
	}

	<-ctx.Done()
	appLog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if rpcListener != nil {
		_ = rpcListener.Close()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Errorf("http server shutdown: %v", err)
	}
	application.Stop()
}

// acceptRPCLoop runs the raw-TCP agent-stream listener until ctx is
// cancelled or the listener is closed; each accepted connection gets its
// own session.Handle goroutine via application.ServeAgentTCP.
func acceptRPCLoop(ctx context.Context, ln net.Listener, application *app.App, log *logger.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warnf("rpc accept: %v", err)
				return
			}
		}
		go application.ServeAgentTCP(ctx, protocol.NewTCPServerDuplex(conn))
	}
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	host := strings.TrimSpace(cfg.Server.Host)
	port := cfg.Server.Port
	if port != 0 {
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, port)
	}
	return ":8080"
}

func splitTokens(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return trimmed
}

// resolveSecretCipher builds the AES-GCM cipher alert rules' notification
// targets are encrypted under. An unset key disables
// encryption for local/dev runs rather than refusing to start, since the
// embedded store has no equivalent of the teacher's "persistent storage
// requires a key" guard (sqlite here is always file-backed, including in
// throwaway dev setups).
func resolveSecretCipher(log *logger.Logger) secretcrypto.Cipher {
	key := strings.TrimSpace(os.Getenv("NOTIFICATION_ENCRYPTION_KEY"))
	if key == "" {
		log.Warn("NOTIFICATION_ENCRYPTION_KEY not set; storing secrets unencrypted")
		return secretcrypto.NewNoop()
	}

	rawKey, err := decodeSecretKey(key)
	if err != nil {
		log.Fatalf("invalid NOTIFICATION_ENCRYPTION_KEY: %v", err)
	}
	cipher, err := secretcrypto.NewAESCipher(rawKey)
	if err != nil {
		log.Fatalf("initialise secret cipher: %v", err)
	}
	return cipher
}

func decodeSecretKey(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && validKeyLength(decoded) {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil && validKeyLength(decoded) {
		return decoded, nil
	}
	raw := []byte(value)
	if validKeyLength(raw) {
		return raw, nil
	}
	return nil, fmt.Errorf("expected 16, 24, or 32 byte key")
}

func validKeyLength(key []byte) bool {
	switch len(key) {
	case 16, 24, 32:
		return true
	default:
		return false
	}
}
