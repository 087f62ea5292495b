package line

import (
	"chat-relay/contract"
	"chat-relay/infrastructure/tcp"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/services"
	"chat-relay/sink"
	"context"
	"log/slog"
	"net"
	"strings"
)

const ServerName = "line"

// Server speaks the colon-separated text protocol. A connection starts with
// CONECTARSE_AL_SERVIDOR and its user leaves the server when it closes.
type Server struct {
	*tcp.Listener
	service        *services.ChatService
	log            *slog.Logger
	bufferSize     int
	maxMessageSize int
}

func NewServer(
	address string,
	service *services.ChatService,
	log *slog.Logger,
	stats *observability.Stats,
	health contract.IHealthReporter,
	bufferSize, maxMessageSize int,
) *Server {
	s := &Server{
		service:        service,
		log:            log,
		bufferSize:     bufferSize,
		maxMessageSize: maxMessageSize,
	}
	s.Listener = tcp.NewListener(ServerName, address, s.handle, log, stats, health)
	return s
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	outbox := sink.NewOutbox(s.bufferSize, protocol.EncodeLinePush, s.log)
	session := s.service.NewSession(outbox)
	writerDone := tcp.StartWriter(ctx, conn, outbox, s.log)

	scanner := tcp.NewLineScanner(conn, s.maxMessageSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		reply := s.service.HandleLine(ctx, session, line)
		if err := outbox.Send(ctx, reply.Frame); err != nil || reply.Close {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Debug("Connection read ended", "remote", conn.RemoteAddr().String(), "error", err)
	}
	if session.Username() != "" {
		s.log.Info("User disconnected", "user", session.Username())
	}

	s.service.CloseLine(session)
	outbox.Close()
	<-writerDone
}
