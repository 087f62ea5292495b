package internal

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config is the server configuration, read from the environment after an
// optional .env file.
type Config struct {
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`
	Host           string `env:"HOST,default=0.0.0.0"`
	JSONPort       int    `env:"JSON_PORT,default=12345"`
	LinePort       int    `env:"LINE_PORT,default=9090"`
	HTTPPort       int    `env:"HTTP_PORT,default=3000"`
	VoicePort      int    `env:"VOICE_PORT,default=9091"`
	GRPCPort       int    `env:"GRPC_PORT,default=12346"`
	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/history"`
	// Empty disables search
	BlugeFilepath string `env:"BLUGE_FILEPATH"`
	LimitMessages *int   `env:"LIMIT_MESSAGES"`

	ConnectionBufferSize      int    `env:"CONNECTION_BUFFER_SIZE,default=64"`
	MaxMessageSize            int    `env:"MAX_MESSAGE_SIZE,default=65536"`
	PrunePresenceOnDisconnect bool   `env:"PRUNE_PRESENCE_ON_DISCONNECT,default=false"`
	ModerationEnabled         bool   `env:"MODERATION_ENABLED,default=false"`
	CharReplacement           string `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`

	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
}

func (c Config) Address(port int) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Validate rejects values the servers cannot run with.
func (c Config) Validate() error {
	for name, port := range map[string]int{
		"JSON_PORT":  c.JSONPort,
		"LINE_PORT":  c.LinePort,
		"HTTP_PORT":  c.HTTPPort,
		"VOICE_PORT": c.VoicePort,
		"GRPC_PORT":  c.GRPCPort,
	} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if c.ConnectionBufferSize <= 0 {
		return fmt.Errorf("CONNECTION_BUFFER_SIZE must be positive, got %d", c.ConnectionBufferSize)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	}
	if c.LimitMessages != nil && *c.LimitMessages <= 0 {
		return fmt.Errorf("LIMIT_MESSAGES must be positive, got %d", *c.LimitMessages)
	}
	return nil
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"MODERATION_CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
