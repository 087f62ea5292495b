package gateway

import (
	"bytes"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/runtime"
	"chat-relay/services"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	server *httptest.Server
	store  *mocks.MockIHistoryStore
	router *runtime.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIHistoryStore(ctrl)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	stats := observability.NewStats()
	router := runtime.NewRouter(log, runtime.NewRegistry(), store, nil, stats)
	gateway := NewGateway("127.0.0.1:0", services.NewChatService(log, router, stats, false), log, stats, nil, nil, 4096)
	server := httptest.NewServer(gateway.Routes())
	t.Cleanup(server.Close)
	return &fixture{server: server, store: store, router: router}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, protocol.Response) {
	t.Helper()
	request, err := http.NewRequest(method, f.server.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer resp.Body.Close()
	var response protocol.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	return resp.StatusCode, response
}

func (f *fixture) register(t *testing.T, username string) {
	t.Helper()
	status, response := f.do(t, http.MethodPost, "/register", `{"username":"`+username+`","sessionId":"http-`+username+`"}`)
	require.Equal(t, http.StatusOK, status, response.Message)
}

func TestGateway_Register_And_List_Users(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given two users registered over HTTP
	f.register(t, "bob")
	f.register(t, "alice")

	// When the user list is requested
	status, response := f.do(t, http.MethodGet, "/users", "")

	// Then both are listed, sorted
	req.Equal(http.StatusOK, status)
	req.Equal([]string{"alice", "bob"}, response.Users)
}

func TestGateway_Register_Conflict(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.register(t, "alice")

	// When another session claims the same name
	status, response := f.do(t, http.MethodPost, "/register", `{"username":"alice","sessionId":"other"}`)

	// Then the gateway answers 409
	req.Equal(http.StatusConflict, status)
	req.Equal("UsernameInUse", response.Code)
}

func TestGateway_Group_Lifecycle(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.register(t, "alice")
	f.register(t, "bob")
	f.register(t, "carol")

	// Given a group created with an array of members
	status, created := f.do(t, http.MethodPost, "/groups", `{"groupName":"team","users":["alice","bob"]}`)
	req.Equal(http.StatusOK, status, created.Message)
	req.Equal([]string{"alice", "bob"}, created.Members)

	// When carol joins and alice writes to the group
	status, joined := f.do(t, http.MethodPost, "/groups/team/members", `{"sessionId":"http-carol"}`)
	req.Equal(http.StatusOK, status, joined.Message)
	req.Equal([]string{"alice", "bob", "carol"}, joined.Members)

	f.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ any, r domain.Record) error {
		req.Equal("alice", r.Sender)
		req.True(r.IsGroup)
		return nil
	})
	status, sent := f.do(t, http.MethodPost, "/group", `{"groupName":"team","message":"hi","sessionId":"http-alice"}`)

	// Then nobody is live over HTTP and the message is stored
	req.Equal(http.StatusOK, status, sent.Message)
	req.NotNil(sent.DeliveredCount)
	req.Zero(*sent.DeliveredCount)

	// When the group is deleted
	f.store.EXPECT().DeleteGroup(gomock.Any(), "team").Return(nil)
	status, _ = f.do(t, http.MethodDelete, "/groups/team", "")
	req.Equal(http.StatusOK, status)

	// Then it is gone
	f.store.EXPECT().QueryGroup(gomock.Any(), "team").Return(nil, nil)
	status, missing := f.do(t, http.MethodGet, "/group/team", "")
	req.Equal(http.StatusOK, status)
	req.Empty(missing.History)
	status, response := f.do(t, http.MethodDelete, "/groups/team", "")
	req.Equal(http.StatusNotFound, status)
	req.Equal("GroupNotFound", response.Code)
}

func TestGateway_Invalid_Users_Carry_Both_Lists(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.register(t, "alice")
	f.register(t, "bob")

	// When a group names an unknown user
	status, response := f.do(t, http.MethodPost, "/groups", `{"groupName":"team","users":"alice,ghost"}`)

	// Then the response is a 400 listing invalid and available users
	req.Equal(http.StatusBadRequest, status)
	req.Equal("InvalidUsers", response.Code)
	req.Equal([]string{"ghost"}, response.InvalidUsers)
	req.Equal([]string{"alice", "bob"}, response.AvailableUsers)
}

func TestGateway_Private_History(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	// Given a stored conversation
	f.store.EXPECT().QueryPrivate(gomock.Any(), "alice", "bob").Return([]domain.Record{
		domain.NewPrivateRecord("alice", "bob", "hello", at),
	}, nil)

	// When the history is requested from alice's side
	status, response := f.do(t, http.MethodGet, "/private/alice/bob", "")

	// Then the entry is returned
	req.Equal(http.StatusOK, status)
	req.Len(response.History, 1)
	req.Equal("hello", response.History[0].Message)
	req.Equal("alice", response.History[0].Sender)
}

func TestGateway_Store_Unavailable_Is_503(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Given a store that fails
	f.store.EXPECT().Search(gomock.Any(), gomock.Any()).Return(nil, errors.ErrStoreUnavailable)

	// When a search is run
	status, response := f.do(t, http.MethodGet, "/search?text=hello&group=team&limit=5", "")

	// Then the gateway answers 503
	req.Equal(http.StatusServiceUnavailable, status)
	req.Equal("StoreUnavailable", response.Code)
}

func TestGateway_Health_And_Stats(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	stats, err := http.Get(f.server.URL + "/stats")
	req.NoError(err)
	defer stats.Body.Close()
	var snapshot observability.Snapshot
	req.NoError(json.NewDecoder(stats.Body).Decode(&snapshot))
	req.Zero(snapshot.Registrations)
}
