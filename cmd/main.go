package main

import (
	"chat-relay/contract"
	"chat-relay/infrastructure/gateway"
	grpc2 "chat-relay/infrastructure/grpc"
	"chat-relay/infrastructure/line"
	"chat-relay/infrastructure/tcp"
	"chat-relay/infrastructure/voice"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal arrives.
// Deferred cleanups run before main exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage (BadgerDB + optional Bluge index)
	db, err := badger.Open(buildBadgerOpts(ctx, config, log))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	var index contract.ISearchIndex
	if config.BlugeFilepath != "" {
		writer, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
		if err != nil {
			return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
		}
		searchIndex := repositories.NewSearchIndex(writer, log)
		defer func() {
			log.Info("Closing Bluge...")
			_ = searchIndex.Close()
		}()
		index = searchIndex
	}

	history, err := repositories.NewHistoryRepository(db, log, config.LimitMessages, index)
	if err != nil {
		return exitRuntime, fmt.Errorf("history store failed: %w", err)
	}
	defer func() { _ = history.Close() }()

	// 3. Moderation
	var moderator contract.IModerator
	if config.ModerationEnabled {
		m, err := buildModerator(config, log)
		if err != nil {
			return exitConfig, err
		}
		moderator = m
	}

	// 4. Core
	stats := observability.NewStats()
	registry := runtime.NewRegistry()
	router := runtime.NewRouter(log, registry, history, moderator, stats)
	service := services.NewChatService(log, router, stats, config.PrunePresenceOnDisconnect)

	// 5. Transports, each one supervised
	healthServer := grpc2.NewHealthServer(config.Address(config.GRPCPort), log)
	websocket := ws.NewHandler(ctx, service, log, stats, config.ConnectionBufferSize, config.MaxMessageSize)
	httpGateway := gateway.NewGateway(config.Address(config.HTTPPort), service, log, stats, healthServer, websocket, config.MaxMessageSize)
	if log.Enabled(ctx, slog.LevelDebug) {
		httpGateway.Mount("GET /inspect", internal.NewInspectHandler(history.Walk, func() map[string]any {
			counts := router.Counts()
			return map[string]any{"Sessions": counts.Sessions, "Connected": counts.Connected, "Groups": counts.Groups}
		}))
		log.Info("History inspector available", "url", fmt.Sprintf("http://localhost:%d/inspect", config.HTTPPort))
	}

	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		healthServer,
		tcp.NewServer(config.Address(config.JSONPort), service, log, stats, healthServer, config.ConnectionBufferSize, config.MaxMessageSize),
		line.NewServer(config.Address(config.LinePort), service, log, stats, healthServer, config.ConnectionBufferSize, config.MaxMessageSize),
		httpGateway,
		voice.NewRelay(config.Address(config.VoicePort), log, stats, healthServer),
		workers.NewHeartbeatWorker(log, stats, router, config.HeartbeatInterval),
	)

	log.Info("Starting chat relay",
		"json", config.JSONPort, "line", config.LinePort, "http", config.HTTPPort,
		"voice", config.VoicePort, "grpc", config.GRPCPort,
		"search", index != nil, "moderation", moderator != nil)

	// 6. Wait for Stop
	sup.Run(ctx)
	log.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(ctx context.Context, config internal.Config, log *slog.Logger) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if log.Enabled(ctx, slog.LevelDebug) {
		return options.WithLoggingLevel(badger.DEBUG)
	}
	return options.WithLoggingLevel(badger.WARNING)
}

func buildModerator(config internal.Config, log *slog.Logger) (*moderation.Moderator, error) {
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, err
	}
	loader, dir := moderation.NewEmbeddedLoader()
	censored, err := loader.LoadAll(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load censored words: %w", err)
	}
	log.Info("Moderation enabled", "languages", censored.Languages, "words", len(censored.Words))
	return moderation.NewModerator(censored.Words, charReplacement, log)
}
