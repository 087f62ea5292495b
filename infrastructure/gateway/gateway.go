package gateway

import (
	"chat-relay/contract"
	"chat-relay/infrastructure/ws"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/services"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	ServerName      = "http"
	shutdownTimeout = 5 * time.Second
)

// Gateway exposes the chat operations as plain HTTP endpoints and mounts the
// WebSocket transport on /ws. Each HTTP call runs in a session without a
// connection handle, so identity comes from sessionId or sender in the body.
type Gateway struct {
	address        string
	service        *services.ChatService
	log            *slog.Logger
	stats          *observability.Stats
	health         contract.IHealthReporter
	ws             *ws.Handler
	maxMessageSize int64
	extra          map[string]http.Handler

	mu       sync.Mutex
	listener net.Listener
}

// NewGateway prepares the gateway. websocket and health may be nil.
func NewGateway(
	address string,
	service *services.ChatService,
	log *slog.Logger,
	stats *observability.Stats,
	health contract.IHealthReporter,
	websocket *ws.Handler,
	maxMessageSize int,
) *Gateway {
	return &Gateway{
		address:        address,
		service:        service,
		log:            log,
		stats:          stats,
		health:         health,
		ws:             websocket,
		maxMessageSize: int64(maxMessageSize),
		extra:          make(map[string]http.Handler),
	}
}

// Mount adds a route served next to the chat endpoints. Call it before Run.
func (g *Gateway) Mount(pattern string, handler http.Handler) {
	g.extra[pattern] = handler
}

func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users", g.query(protocol.ActionListUsers, nil))
	mux.HandleFunc("GET /groups", g.query(protocol.ActionListGroups, nil))
	mux.HandleFunc("POST /groups", g.command(protocol.ActionCreateGroup))
	mux.HandleFunc("DELETE /groups/{name}", g.query(protocol.ActionDeleteGroup, func(r *http.Request) any {
		return protocol.GroupData{GroupName: r.PathValue("name")}
	}))
	mux.HandleFunc("POST /groups/{name}/members", g.join)
	mux.HandleFunc("POST /private", g.command(protocol.ActionSendPrivate))
	mux.HandleFunc("POST /group", g.command(protocol.ActionSendGroup))
	mux.HandleFunc("GET /group/{name}", g.query(protocol.ActionGroupHistory, func(r *http.Request) any {
		return protocol.GroupData{GroupName: r.PathValue("name")}
	}))
	mux.HandleFunc("GET /private/{currentUser}/{user}", g.query(protocol.ActionPrivateHistory, func(r *http.Request) any {
		return protocol.PrivateHistoryData{CurrentUser: r.PathValue("currentUser"), User: r.PathValue("user")}
	}))
	mux.HandleFunc("POST /register", g.command(protocol.ActionRegister))
	mux.HandleFunc("GET /search", g.search)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, g.stats.GetLatest())
	})
	if g.ws != nil {
		mux.Handle("GET /ws", g.ws)
	}
	for pattern, handler := range g.extra {
		mux.Handle(pattern, handler)
	}
	return mux
}

func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.address)
	if err != nil {
		return fmt.Errorf("failed to start %s server: %w", ServerName, err)
	}
	g.mu.Lock()
	g.listener = ln
	g.mu.Unlock()

	server := &http.Server{
		Handler:           g.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()
	g.log.Info("Server started", "server", ServerName, "address", ln.Addr().String())
	if g.health != nil {
		g.health.Serving(ServerName)
		defer g.health.NotServing(ServerName)
	}

	select {
	case err := <-errChan:
		return fmt.Errorf("%s server: %w", ServerName, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		g.log.Warn("HTTP shutdown incomplete", "error", err)
	}
	if g.ws != nil {
		g.ws.Shutdown()
	}
	g.log.Info("Server stopped", "server", ServerName)
	return nil
}

// Addr returns the listening address, empty until Run has started listening.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// command forwards the JSON body as the request payload.
func (g *Gateway) command(action protocol.ActionCode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxMessageSize))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, protocol.Response{Status: protocol.StatusError, Code: "MalformedRequest", Message: err.Error()})
			return
		}
		g.respond(w, r, protocol.Request{ID: r.Header.Get("X-Request-Id"), Action: &action, Data: body})
	}
}

// query builds the payload from the URL. data may be nil for actions without one.
func (g *Gateway) query(action protocol.ActionCode, data func(r *http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		request := protocol.Request{ID: r.Header.Get("X-Request-Id"), Action: &action}
		if data != nil {
			payload, err := json.Marshal(data(r))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse(request.ID, err))
				return
			}
			request.Data = payload
		}
		g.respond(w, r, request)
	}
}

func (g *Gateway) join(w http.ResponseWriter, r *http.Request) {
	var data protocol.JoinGroupData
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxMessageSize))
	if err == nil && len(body) > 0 {
		err = json.Unmarshal(body, &data)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.Response{Status: protocol.StatusError, Code: "MalformedRequest", Message: err.Error()})
		return
	}
	data.GroupName = r.PathValue("name")
	g.query(protocol.ActionJoinGroup, func(*http.Request) any { return data })(w, r)
}

func (g *Gateway) search(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	data := protocol.SearchData{
		Text:        values.Get("text"),
		GroupName:   values.Get("group"),
		User:        values.Get("user"),
		CurrentUser: values.Get("currentUser"),
	}
	if limit := values.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, protocol.Response{Status: protocol.StatusError, Code: "MalformedRequest", Message: "limit must be a number"})
			return
		}
		data.Limit = n
	}
	g.query(protocol.ActionSearch, func(*http.Request) any { return data })(w, r)
}

func (g *Gateway) respond(w http.ResponseWriter, r *http.Request, request protocol.Request) {
	session := g.service.NewSession(nil)
	response := g.service.Handle(r.Context(), session, request)
	writeJSON(w, StatusOf(response), response)
}

// StatusOf maps a protocol response onto its HTTP status.
func StatusOf(response protocol.Response) int {
	if response.Status == protocol.StatusOK {
		return http.StatusOK
	}
	switch response.Code {
	case "NameRequired", "InvalidUsers", "NoValidUsers", "InsufficientMembers", "MalformedRequest", "UnknownAction":
		return http.StatusBadRequest
	case "UsernameInUse", "GroupAlreadyExists":
		return http.StatusConflict
	case "GroupNotFound":
		return http.StatusNotFound
	case "StoreUnavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
