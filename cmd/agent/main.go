package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nodenexus/nodenexus/internal/agent"
	"github.com/nodenexus/nodenexus/pkg/logger"
)

// agentVersion is stamped into every handshake; overridden at build time
// via -ldflags "-X main.agentVersion=...".
var agentVersion = "dev"

func main() {
	serverAddr := flag.String("server", "", "server address, e.g. ws://host:8080/agent/ws or tcp://host:9090")
	hostID := flag.String("host-id", "", "this host's VPS id as assigned by the server")
	secret := flag.String("secret", "", "this host's pre-shared agent secret")
	secretFile := flag.String("secret-file", "", "path to a file containing the agent secret (overrides -secret)")
	configPath := flag.String("config-path", "/etc/nodenexus-agent/config.json", "local cache of the last effective config")
	logLevel := flag.String("log-level", "info", "log level")
	maxBackoff := flag.Duration("max-backoff", 60*time.Second, "reconnect backoff cap")
	flag.Parse()

	log := logger.New(logger.LoggingConfig{Level: *logLevel, Format: "text", Output: "stdout"})

	if strings.TrimSpace(*serverAddr) == "" {
		log.Fatal("-server is required")
	}
	if strings.TrimSpace(*hostID) == "" {
		log.Fatal("-host-id is required")
	}

	resolvedSecret := strings.TrimSpace(*secret)
	if trimmed := strings.TrimSpace(*secretFile); trimmed != "" {
		raw, err := os.ReadFile(trimmed)
		if err != nil {
			log.Fatalf("read secret file: %v", err)
		}
		resolvedSecret = strings.TrimSpace(string(raw))
	}
	if resolvedSecret == "" {
		log.Fatal("-secret or -secret-file is required")
	}

	client := agent.New(agent.Options{
		ServerAddr: *serverAddr,
		Identity: agent.Identity{
			HostID:  *hostID,
			Secret:  resolvedSecret,
			Version: agentVersion,
		},
		ConfigPath: *configPath,
		MaxBackoff: *maxBackoff,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infof("nodenexus agent %s starting, host %s -> %s", agentVersion, *hostID, *serverAddr)
	if err := client.Run(ctx); err != nil {
		log.Fatalf("agent runtime exited: %v", err)
	}
}
