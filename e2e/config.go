package e2e

import (
	"chat-relay/client"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config points the scenarios at an already running relay.
type Config struct {
	// E2E_CHAT_ADDR is host:port for tcp, a ws:// URL for websocket
	ChatAddr  string `envconfig:"E2E_CHAT_ADDR"`
	Transport string `envconfig:"E2E_TRANSPORT" default:"tcp"`
	GRPCAddr  string `envconfig:"E2E_GRPC_ADDR"`
	// Health components expected SERVING, "" being the health server itself
	Components  []string      `envconfig:"E2E_COMPONENTS" default:",json,line,http,voice"`
	StepTimeout time.Duration `envconfig:"E2E_STEP_TIMEOUT" default:"10s"`
	DebugJSON   bool          `envconfig:"E2E_DEBUG_JSON" default:"false"`
	Colours     bool          `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	switch cfg.Transport {
	case client.TransportTCP, client.TransportWebSocket:
	default:
		return Config{}, fmt.Errorf("E2E_TRANSPORT must be %q or %q, got %q", client.TransportTCP, client.TransportWebSocket, cfg.Transport)
	}
	return cfg, nil
}

// Configured reports whether a relay to test against was given.
func (c Config) Configured() bool {
	return c.ChatAddr != "" && c.GRPCAddr != ""
}

// Client is the chat client configuration for one scenario user.
func (c Config) Client(username string) client.Config {
	return client.Config{
		ServerAddr: c.ChatAddr,
		Transport:  c.Transport,
		Username:   username,
		SessionID:  "e2e-" + username,
	}
}
