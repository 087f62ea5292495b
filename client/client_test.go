package client

import (
	"chat-relay/infrastructure/tcp"
	"chat-relay/infrastructure/ws"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/services"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *services.ChatService {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	history, err := repositories.NewHistoryRepository(db, log, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = history.Close()
		_ = db.Close()
	})
	stats := observability.NewStats()
	return services.NewChatService(log, runtime.NewRouter(log, runtime.NewRegistry(), history, nil, stats), stats, false)
}

func startTCP(t *testing.T) Config {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	server := tcp.NewServer("127.0.0.1:0", newService(t), log, observability.NewStats(), nil, 16, 64*1024)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return server.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	return Config{ServerAddr: server.Addr(), Transport: TransportTCP}
}

func startWebSocket(t *testing.T) Config {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctx, cancel := context.WithCancel(context.Background())
	handler := ws.NewHandler(ctx, newService(t), log, observability.NewStats(), 16, 64*1024)
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		cancel()
		handler.Shutdown()
		server.Close()
	})
	return Config{ServerAddr: "ws" + strings.TrimPrefix(server.URL, "http"), Transport: TransportWebSocket}
}

func dial(t *testing.T, cfg Config, username string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, cfg, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_, err = c.Register(ctx, username, "session-"+username)
	require.NoError(t, err)
	return c
}

func receive(t *testing.T, c *Client) Push {
	t.Helper()
	select {
	case push, ok := <-c.Pushes():
		require.True(t, ok, "push channel closed")
		return push
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no push received")
		return Push{}
	}
}

func TestClient_Conversation(t *testing.T) {
	for name, start := range map[string]func(*testing.T) Config{
		"tcp":       startTCP,
		"websocket": startWebSocket,
	} {
		t.Run(name, func(t *testing.T) {
			req := require.New(t)
			ctx := context.Background()
			cfg := start(t)

			// Given two connected users
			alice := dial(t, cfg, "alice")
			bob := dial(t, cfg, "bob")

			// When alice writes to bob and to a group of both
			response, err := alice.SendPrivate(ctx, "bob", "hello bob")
			req.NoError(err)
			req.True(*response.Delivered)
			_, err = alice.CreateGroup(ctx, "team", "alice", "bob")
			req.NoError(err)
			_, err = alice.SendGroup(ctx, "team", "hello team")
			req.NoError(err)

			// Then bob gets both pushes in order
			private := receive(t, bob)
			req.False(private.IsGroup())
			req.Equal("alice", private.Sender)
			req.Equal("hello bob", private.Message)
			group := receive(t, bob)
			req.True(group.IsGroup())
			req.Equal("team", group.Group)

			// And the history is visible from bob's side
			history, err := bob.PrivateHistory(ctx, "alice")
			req.NoError(err)
			req.Len(history, 1)
			req.Equal("hello bob", history[0].Message)
		})
	}
}

func TestClient_Server_Error(t *testing.T) {
	req := require.New(t)
	cfg := startTCP(t)
	alice := dial(t, cfg, "alice")

	// When a message targets a missing group
	_, err := alice.SendGroup(context.Background(), "nowhere", "hi")

	// Then the server error is surfaced with its code
	var serverErr *ServerError
	req.ErrorAs(err, &serverErr)
	req.Equal("GroupNotFound", serverErr.Code)
}

func TestClient_Closed(t *testing.T) {
	req := require.New(t)
	cfg := startTCP(t)
	alice := dial(t, cfg, "alice")

	// When the client is closed
	req.NoError(alice.Close())

	// Then requests fail and the push channel ends
	_, err := alice.Users(context.Background())
	req.ErrorIs(err, ErrClosed)
	_, ok := <-alice.Pushes()
	req.False(ok)
}
