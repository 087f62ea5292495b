package runtime

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/observability"
	"chat-relay/repositories"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type routerFixture struct {
	router   *Router
	registry *Registry
	store    *mocks.MockIHistoryStore
	stats    *observability.Stats
	ctrl     *gomock.Controller
}

func newRouterFixture(t *testing.T) routerFixture {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIHistoryStore(ctrl)
	registry := NewRegistry()
	stats := observability.NewStats()
	router := NewRouter(logs.GetLoggerFromLevel(slog.LevelDebug), registry, store, nil, stats)
	return routerFixture{router: router, registry: registry, store: store, stats: stats, ctrl: ctrl}
}

// connect registers username and attaches a mocked sink.
func (f routerFixture) connect(t *testing.T, username string) *mocks.MockSink {
	_, err := f.router.Register(uuid.NewString(), username)
	require.NoError(t, err)
	sink := mocks.NewMockSink(f.ctrl)
	f.router.Attach(username, sink)
	return sink
}

func TestRouter_Resolve_Sender(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t)
	aliceSession, bobSession := uuid.NewString(), uuid.NewString()
	_, err := f.router.Register(aliceSession, "alice")
	req.NoError(err)
	_, err = f.router.Register(bobSession, "bob")
	req.NoError(err)

	req.Equal("alice", f.router.ResolveSender(aliceSession, bobSession, "mallory"))
	req.Equal("bob", f.router.ResolveSender("unknown-session", bobSession, "mallory"))
	req.Equal("bob", f.router.ResolveSender("", bobSession, ""))
	req.Equal("mallory", f.router.ResolveSender("", "", " mallory "))
	req.Equal(domain.UnknownSender, f.router.ResolveSender("", "", ""))
}

func TestRouter_Send_Private_To_Live_Recipient(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newRouterFixture(t)
	bobSink := f.connect(t, "bob")

	// Given the store accepts the message
	f.store.EXPECT().Append(ctx, gomock.Any()).Return(nil)
	bobSink.EXPECT().Push(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, n domain.Notification) error {
		req.Equal(domain.KindPrivate, n.Kind)
		req.Equal("alice", n.Sender)
		req.Equal("bob", n.Recipient)
		req.Equal("hi", n.Content)
		return nil
	})

	// When alice writes to bob
	delivery, err := f.router.SendPrivate(ctx, "alice", "bob", "hi")

	// Then it is delivered live and stored
	req.NoError(err)
	req.True(delivery.Live)
	req.NoError(delivery.StoreErr)
	req.Equal(uint64(1), f.stats.GetLatest().PushesDelivered)
}

func TestRouter_Send_Private_To_Offline_Recipient_Is_Stored(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newRouterFixture(t)

	f.store.EXPECT().Append(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, r domain.Record) error {
		req.Equal("ghost", r.Target)
		req.False(r.IsGroup)
		return nil
	})

	delivery, err := f.router.SendPrivate(ctx, "alice", "ghost", "are you there")
	req.NoError(err)
	req.False(delivery.Live)
}

func TestRouter_Send_Private_Store_Failure_Still_Pushes(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newRouterFixture(t)
	bobSink := f.connect(t, "bob")

	f.store.EXPECT().Append(ctx, gomock.Any()).Return(fmt.Errorf("disk full"))
	bobSink.EXPECT().Push(ctx, gomock.Any()).Return(nil)

	delivery, err := f.router.SendPrivate(ctx, "alice", "bob", "hi")
	req.NoError(err)
	req.True(delivery.Live)
	req.ErrorIs(delivery.StoreErr, errors.ErrStoreUnavailable)
	req.Equal(uint64(1), f.stats.GetLatest().StoreFailures)
}

func TestRouter_Send_Private_Push_Failure_Does_Not_Fail(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newRouterFixture(t)
	bobSink := f.connect(t, "bob")

	f.store.EXPECT().Append(ctx, gomock.Any()).Return(nil)
	bobSink.EXPECT().Push(ctx, gomock.Any()).Return(errors.ErrOutboxFull)

	delivery, err := f.router.SendPrivate(ctx, "alice", "bob", "hi")
	req.NoError(err)
	req.False(delivery.Live)
	req.Equal(uint64(1), f.stats.GetLatest().PushesDropped)
}

func TestRouter_Send_Private_Rejects_Bad_Input(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t)

	_, err := f.router.SendPrivate(context.Background(), "alice", " ", "hi")
	req.ErrorIs(err, errors.ErrNameRequired)
	_, err = f.router.SendPrivate(context.Background(), "alice", "bob", "  ")
	req.ErrorIs(err, errors.ErrMalformedRequest)
}

func TestRouter_Send_Group_Not_Found_Does_Not_Append(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t)

	// No Append expectation: any call fails the test
	_, err := f.router.SendGroup(context.Background(), "alice", "nope", "hello")
	req.ErrorIs(err, errors.ErrGroupNotFound)
}

func TestRouter_Send_Group_Skips_Sender_And_Offline_Members(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newRouterFixture(t)
	aliceSink := f.connect(t, "alice")
	bobSink := f.connect(t, "bob")
	carolSink := f.connect(t, "carol")
	_, err := f.router.CreateGroup("team", "alice,bob,carol")
	req.NoError(err)

	// Given carol disconnected after joining
	f.router.Detach("carol", carolSink)

	f.store.EXPECT().Append(ctx, gomock.Any()).Return(nil)
	bobSink.EXPECT().Push(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, n domain.Notification) error {
		req.Equal(domain.KindGroup, n.Kind)
		req.Equal("team", n.Group)
		req.Equal("alice", n.Sender)
		return nil
	})
	aliceSink.EXPECT().Push(gomock.Any(), gomock.Any()).Times(0)
	carolSink.EXPECT().Push(gomock.Any(), gomock.Any()).Times(0)

	// When alice writes to the group
	delivery, err := f.router.SendGroup(ctx, "alice", "team", "standup in 5")

	// Then only bob receives it
	req.NoError(err)
	req.Equal(1, delivery.Delivered)
	req.Equal([]string{"alice", "bob", "carol"}, delivery.Members)
}

func TestRouter_Delete_Group_Survives_History_Failure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newRouterFixture(t)
	f.connect(t, "alice")
	f.connect(t, "bob")
	_, err := f.router.CreateGroup("team", "alice,bob")
	req.NoError(err)

	f.store.EXPECT().DeleteGroup(ctx, "team").Return(errors.ErrStoreUnavailable)

	req.NoError(f.router.DeleteGroup(ctx, "team"))
	req.Empty(f.router.Groups())

	_, err = f.router.SendGroup(ctx, "alice", "team", "still there?")
	req.ErrorIs(err, errors.ErrGroupNotFound)
	req.ErrorIs(f.router.DeleteGroup(ctx, "team"), errors.ErrGroupNotFound)
}

func TestRouter_History_Store_Failure(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newRouterFixture(t)

	f.store.EXPECT().QueryGroup(ctx, "team").Return(nil, fmt.Errorf("closed"))
	_, err := f.router.GroupHistory(ctx, "team")
	req.ErrorIs(err, errors.ErrStoreUnavailable)

	_, err = f.router.PrivateHistory(ctx, "alice", "")
	req.ErrorIs(err, errors.ErrNameRequired)
}

func TestRouter_Search_Validation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newRouterFixture(t)

	_, err := f.router.Search(ctx, domain.SearchQuery{Group: "team"})
	req.ErrorIs(err, errors.ErrMalformedRequest)
	_, err = f.router.Search(ctx, domain.SearchQuery{Text: "x", UserA: "alice"})
	req.ErrorIs(err, errors.ErrNameRequired)

	f.store.EXPECT().Search(ctx, gomock.Any()).Return(nil, errors.ErrStoreUnavailable)
	_, err = f.router.Search(ctx, domain.SearchQuery{Text: "x", Group: "team"})
	req.ErrorIs(err, errors.ErrStoreUnavailable)
}

func TestRouter_Moderation_Applies_Before_Storing(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIHistoryStore(ctrl)
	moderator := mocks.NewMockIModerator(ctrl)
	stats := observability.NewStats()
	router := NewRouter(logs.GetLoggerFromLevel(slog.LevelDebug), NewRegistry(), store, moderator, stats)

	moderator.EXPECT().Moderate("you idiot").Return(domain.Moderated{Content: "you *****", Censored: []string{"idiot"}, Lang: "en"})
	store.EXPECT().Append(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, r domain.Record) error {
		req.Equal("you *****", r.Content)
		return nil
	})

	delivery, err := router.SendPrivate(ctx, "alice", "bob", "you idiot")
	req.NoError(err)
	req.Equal([]string{"idiot"}, delivery.Censored)
	req.Equal(uint64(1), stats.GetLatest().Censored)
}

func TestRouter_Offline_Message_Appears_In_History(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	defer db.Close()
	store, err := repositories.NewHistoryRepository(db, log, nil, nil)
	req.NoError(err)
	defer store.Close()
	router := NewRouter(log, NewRegistry(), store, nil, observability.NewStats())
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	router.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	// Given bob never connected
	_, err = router.SendPrivate(ctx, "alice", "bob", "first")
	req.NoError(err)
	_, err = router.SendPrivate(ctx, "bob", "alice", "second")
	req.NoError(err)
	_, err = router.SendPrivate(ctx, "alice", "bob", "third")
	req.NoError(err)

	// Then the conversation reads back in send order from either side
	records, err := router.PrivateHistory(ctx, "bob", "alice")
	req.NoError(err)
	req.Len(records, 3)
	req.Equal("first", records[0].Content)
	req.Equal("second", records[1].Content)
	req.Equal("third", records[2].Content)
}
