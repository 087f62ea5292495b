package services

import (
	"chat-relay/domain"
	"chat-relay/mocks"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/runtime"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingSink struct {
	mu            sync.Mutex
	notifications []domain.Notification
}

func (s *recordingSink) Push(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *recordingSink) received() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.notifications...)
}

func newService(t *testing.T, prune bool) (*ChatService, *mocks.MockIHistoryStore) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIHistoryStore(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	stats := observability.NewStats()
	router := runtime.NewRouter(log, runtime.NewRegistry(), store, nil, stats)
	return NewChatService(log, router, stats, prune), store
}

func call(t *testing.T, service *ChatService, session *Session, line string) protocol.Response {
	t.Helper()
	return service.HandleJSON(context.Background(), session, []byte(line))
}

func join(t *testing.T, service *ChatService, username string) (*Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	session := service.NewSession(sink)
	response := call(t, service, session, fmt.Sprintf(`{"action":"0","data":{"username":"%s","sessionId":"session-%s"}}`, username, username))
	require.Equal(t, protocol.StatusOK, response.Status, response.Message)
	return session, sink
}

func TestChatService_Register_Then_Refresh(t *testing.T) {
	req := require.New(t)
	service, _ := newService(t, false)
	session := service.NewSession(&recordingSink{})

	response := call(t, service, session, `{"id":"1","action":0,"data":{"username":"alice","sessionId":"s1"}}`)
	req.Equal(protocol.StatusOK, response.Status)
	req.Equal("1", response.ID)
	req.Equal("s1", response.SessionID)
	req.Equal("alice", session.Username())

	response = call(t, service, session, `{"action":0,"data":{"username":"alice","sessionId":"s1"}}`)
	req.Equal(protocol.StatusOK, response.Status)
	req.Contains(response.Message, "refreshed")

	other := service.NewSession(&recordingSink{})
	response = call(t, service, other, `{"action":0,"data":{"username":"alice","sessionId":"s2"}}`)
	req.Equal(protocol.StatusError, response.Status)
	req.Equal("UsernameInUse", response.Code)
}

func TestChatService_Malformed_And_Unknown(t *testing.T) {
	req := require.New(t)
	service, _ := newService(t, false)
	session := service.NewSession(nil)

	response := call(t, service, session, `{"action":`)
	req.Equal("MalformedRequest", response.Code)
	req.Empty(response.ID)

	response = call(t, service, session, `{"id":"x","action":"99"}`)
	req.Equal("UnknownAction", response.Code)
	req.Equal("x", response.ID)

	response = call(t, service, session, `{"action":"1","data":{"recipient":"bob"}}`)
	req.Equal("MalformedRequest", response.Code)
	req.Contains(response.Message, "message")
}

func TestChatService_Private_Message_Uses_Connection_Session(t *testing.T) {
	req := require.New(t)
	service, store := newService(t, false)
	alice, _ := join(t, service, "alice")
	_, bobSink := join(t, service, "bob")

	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r domain.Record) error {
		req.Equal("alice", r.Sender)
		return nil
	})

	// The request carries no sessionId, the connection's registration is used
	response := call(t, service, alice, `{"action":"1","data":{"recipient":"bob","message":"hi bob","sender":"mallory"}}`)
	req.Equal(protocol.StatusOK, response.Status)
	req.True(*response.Delivered)
	req.True(*response.Stored)

	received := bobSink.received()
	req.Len(received, 1)
	req.Equal("alice", received[0].Sender)
	req.Equal("hi bob", received[0].Content)
}

func TestChatService_Private_Message_Store_Failure_Is_Surfaced(t *testing.T) {
	req := require.New(t)
	service, store := newService(t, false)
	session := service.NewSession(nil)

	store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(fmt.Errorf("disk full"))

	response := call(t, service, session, `{"action":"1","data":{"recipient":"bob","message":"hi"}}`)
	req.Equal(protocol.StatusOK, response.Status)
	req.Equal(domain.UnknownSender, response.Username)
	req.False(*response.Delivered)
	req.False(*response.Stored)
	req.Contains(response.Warning, "history store unavailable")
}

func TestChatService_Group_Flow(t *testing.T) {
	req := require.New(t)
	service, store := newService(t, false)
	alice, aliceSink := join(t, service, "alice")
	_, bobSink := join(t, service, "bob")

	// Invalid members are reported with the users available
	response := call(t, service, alice, `{"action":"2","data":{"groupName":"team","users":"alice,ghost"}}`)
	req.Equal("InvalidUsers", response.Code)
	req.Equal([]string{"ghost"}, response.InvalidUsers)
	req.Equal([]string{"alice", "bob"}, response.AvailableUsers)

	response = call(t, service, alice, `{"action":"2","data":{"groupName":"team","users":["bob","alice","bob"]}}`)
	req.Equal(protocol.StatusOK, response.Status)
	req.Equal([]string{"bob", "alice"}, response.Members)

	store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)
	response = call(t, service, alice, `{"action":"3","data":{"groupName":"team","message":"standup"}}`)
	req.Equal(protocol.StatusOK, response.Status)
	req.Equal(1, *response.DeliveredCount)
	req.Len(bobSink.received(), 1)
	req.Empty(aliceSink.received())

	response = call(t, service, alice, `{"action":10}`)
	req.Equal([]protocol.GroupView{{Name: "team", Members: []string{"bob", "alice"}}}, response.Groups)

	store.EXPECT().DeleteGroup(gomock.Any(), "team").Return(nil)
	response = call(t, service, alice, `{"action":"11","data":{"groupName":"team"}}`)
	req.Equal(protocol.StatusOK, response.Status)

	response = call(t, service, alice, `{"action":"3","data":{"groupName":"team","message":"anyone?"}}`)
	req.Equal("GroupNotFound", response.Code)
}

func TestChatService_Join_Requires_A_Name(t *testing.T) {
	req := require.New(t)
	service, _ := newService(t, false)
	alice, _ := join(t, service, "alice")
	anonymous := service.NewSession(nil)
	req.NoError(service.router.OpenGroup("lobby"))

	response := call(t, service, anonymous, `{"action":"4","data":{"groupName":"lobby"}}`)
	req.Equal("NameRequired", response.Code)

	response = call(t, service, alice, `{"action":"4","data":{"groupName":"lobby"}}`)
	req.Equal(protocol.StatusOK, response.Status)
	req.Equal([]string{"alice"}, response.Members)
}

func TestChatService_Private_History_Defaults_To_Session_User(t *testing.T) {
	req := require.New(t)
	service, store := newService(t, false)
	alice, _ := join(t, service, "alice")

	store.EXPECT().QueryPrivate(gomock.Any(), "alice", "bob").Return([]domain.Record{
		domain.NewPrivateRecord("alice", "bob", "hi", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	}, nil)

	response := call(t, service, alice, `{"action":"7","data":{"user":"bob"}}`)
	req.Equal(protocol.StatusOK, response.Status)
	req.Len(response.History, 1)
	req.Equal("hi", response.History[0].Message)

	anonymous := service.NewSession(nil)
	response = call(t, service, anonymous, `{"action":"7","data":{"user":"bob"}}`)
	req.Equal("NameRequired", response.Code)
}

func TestChatService_Close_Keeps_Presence_By_Default(t *testing.T) {
	req := require.New(t)
	service, _ := newService(t, false)
	alice, _ := join(t, service, "alice")

	service.CloseJSON(alice)

	req.Equal([]string{"alice"}, service.router.Users())
	req.Zero(service.router.Counts().Connected)
}

func TestChatService_Close_Prunes_Presence_When_Enabled(t *testing.T) {
	req := require.New(t)
	service, _ := newService(t, true)
	alice, _ := join(t, service, "alice")

	service.CloseJSON(alice)
	req.Empty(service.router.Users())
}

func TestChatService_Close_Prune_Keeps_Newer_Connection(t *testing.T) {
	req := require.New(t)
	service, _ := newService(t, true)
	first, _ := join(t, service, "alice")

	// Same session reconnects before the first connection closes
	second := service.NewSession(&recordingSink{})
	response := call(t, service, second, `{"action":"0","data":{"username":"alice","sessionId":"session-alice"}}`)
	req.Equal(protocol.StatusOK, response.Status)

	service.CloseJSON(first)
	req.Equal([]string{"alice"}, service.router.Users())
}

func TestChatService_Search_Defaults_To_Session_User(t *testing.T) {
	req := require.New(t)
	service, store := newService(t, false)
	alice, _ := join(t, service, "alice")

	// Given a stored conversation between alice and bob
	store.EXPECT().Search(gomock.Any(), domain.SearchQuery{Text: "lunch", UserA: "alice", UserB: "bob"}).Return([]domain.Record{
		domain.NewPrivateRecord("alice", "bob", "lunch?", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	}, nil)

	// When alice searches it without naming herself
	response := call(t, service, alice, `{"action":"12","data":{"text":"lunch","user":"bob"}}`)

	// Then her session identifies the conversation
	req.Equal(protocol.StatusOK, response.Status)
	req.Len(response.History, 1)

	// And an anonymous connection is rejected before reaching the store
	anonymous := service.NewSession(nil)
	response = call(t, service, anonymous, `{"action":"12","data":{"text":"lunch","user":"bob"}}`)
	req.Equal("NameRequired", response.Code)
}
