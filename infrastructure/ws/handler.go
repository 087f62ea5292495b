package ws

import (
	"bytes"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/services"
	"chat-relay/sink"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Handler upgrades HTTP requests to WebSocket and speaks the JSON protocol:
// one request per text frame, responses and pushes as text frames.
type Handler struct {
	ctx            context.Context
	service        *services.ChatService
	log            *slog.Logger
	stats          *observability.Stats
	bufferSize     int
	maxMessageSize int

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewHandler binds connections to ctx: they are closed once it is cancelled.
func NewHandler(ctx context.Context, service *services.ChatService, log *slog.Logger, stats *observability.Stats, bufferSize, maxMessageSize int) *Handler {
	return &Handler{
		ctx:            ctx,
		service:        service,
		log:            log,
		stats:          stats,
		bufferSize:     bufferSize,
		maxMessageSize: maxMessageSize,
		conns:          make(map[net.Conn]struct{}),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.log.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if !h.track(conn) {
		_ = conn.Close()
		return
	}
	go h.serve(conn)
}

func (h *Handler) serve(conn net.Conn) {
	defer h.wg.Done()
	defer h.untrack(conn)
	h.stats.ConnectionOpened()
	defer h.stats.ConnectionClosed()

	ctx := h.ctx
	outbox := sink.NewOutbox(h.bufferSize, protocol.EncodePush, h.log)
	session := h.service.NewSession(outbox)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		err := outbox.Drain(ctx, func(frame []byte) error {
			return wsutil.WriteServerText(conn, frame)
		})
		if err != nil {
			outbox.Close()
			_ = conn.Close()
		}
	}()

	control := wsutil.ControlFrameHandler(conn, ws.StateServerSide)
	reader := &wsutil.Reader{
		Source:         conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   int64(h.maxMessageSize),
		OnIntermediate: control,
	}
	for {
		data, err := h.readText(reader, control)
		if err != nil {
			h.log.Debug("WebSocket read ended", "remote", conn.RemoteAddr().String(), "error", err)
			break
		}
		if data == nil {
			continue
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		frame, err := protocol.EncodeResponse(h.service.HandleJSON(ctx, session, data))
		if err != nil {
			h.log.Error("Unable to encode response", "error", err)
			continue
		}
		if err := outbox.Send(ctx, frame); err != nil {
			break
		}
	}

	h.service.CloseJSON(session)
	outbox.Close()
	<-writerDone
	_ = wsutil.WriteServerMessage(conn, ws.OpClose, nil)
}

var errMessageTooLarge = errors.New("websocket message too large")

// readText returns the next text message, or nil for frames that carry none.
// The message size is bounded while reading.
func (h *Handler) readText(reader *wsutil.Reader, control wsutil.FrameHandlerFunc) ([]byte, error) {
	hdr, err := reader.NextFrame()
	if err != nil {
		return nil, err
	}
	if hdr.OpCode.IsControl() {
		return nil, control(hdr, reader)
	}
	if hdr.OpCode != ws.OpText {
		return nil, reader.Discard()
	}
	data, err := io.ReadAll(io.LimitReader(reader, int64(h.maxMessageSize)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > h.maxMessageSize {
		h.log.Warn("WebSocket message too large", "limit", h.maxMessageSize)
		return nil, errMessageTooLarge
	}
	return data, nil
}

// Shutdown closes every open WebSocket and waits for their goroutines.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.conns = nil
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Handler) track(conn net.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns == nil {
		return false
	}
	h.conns[conn] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(conn net.Conn) {
	h.mu.Lock()
	if h.conns != nil {
		delete(h.conns, conn)
	}
	h.mu.Unlock()
	_ = conn.Close()
}
