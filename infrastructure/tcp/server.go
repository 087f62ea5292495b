package tcp

import (
	"bufio"
	"bytes"
	"chat-relay/contract"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/services"
	"chat-relay/sink"
	"context"
	"log/slog"
	"net"
)

const ServerName = "json"

// Server speaks the JSON protocol, one object per line in both directions.
// Responses and pushes share the connection's outbox.
type Server struct {
	*Listener
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
	s.Listener = NewListener(ServerName, address, s.handle, log, stats, health)
	return s
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	outbox := sink.NewOutbox(s.bufferSize, protocol.EncodePush, s.log)
	session := s.service.NewSession(outbox)
	writerDone := StartWriter(ctx, conn, outbox, s.log)

	scanner := NewLineScanner(conn, s.maxMessageSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		frame, err := protocol.EncodeResponse(s.service.HandleJSON(ctx, session, line))
		if err != nil {
			s.log.Error("Unable to encode response", "error", err)
			continue
		}
		if err := outbox.Send(ctx, frame); err != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Debug("Connection read ended", "remote", conn.RemoteAddr().String(), "error", err)
	}

	s.service.CloseJSON(session)
	outbox.Close()
	<-writerDone
}

// NewLineScanner reads newline-terminated frames of at most maxSize bytes.
func NewLineScanner(conn net.Conn, maxSize int) *bufio.Scanner {
	scanner := bufio.NewScanner(conn)
	initial := 4096
	if maxSize < initial {
		initial = maxSize
	}
	scanner.Buffer(make([]byte, 0, initial), maxSize)
	return scanner
}

// StartWriter runs the single writer of conn. The returned channel closes once
// the outbox is drained. A write failure closes both the outbox and conn so the
// reader stops too.
func StartWriter(ctx context.Context, conn net.Conn, outbox *sink.Outbox, log *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := outbox.Drain(ctx, func(frame []byte) error {
			_, err := conn.Write(append(frame, '\n'))
			return err
		})
		if err != nil {
			log.Debug("Connection write ended", "remote", conn.RemoteAddr().String(), "error", err)
			outbox.Close()
			_ = conn.Close()
		}
	}()
	return done
}
