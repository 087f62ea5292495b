package tcp

import (
	"chat-relay/contract"
	"chat-relay/observability"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// ConnHandler serves one accepted connection until it ends.
// The listener closes the connection once the handler returns.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Listener accepts stream connections and serves each one in its own goroutine.
// Cancelling the context closes the listener and every open connection.
type Listener struct {
	name    string
	address string
	handler ConnHandler
	log     *slog.Logger
	stats   *observability.Stats
	health  contract.IHealthReporter

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewListener prepares a listener. health may be nil.
func NewListener(name, address string, handler ConnHandler, log *slog.Logger, stats *observability.Stats, health contract.IHealthReporter) *Listener {
	return &Listener{
		name:    name,
		address: address,
		handler: handler,
		log:     log,
		stats:   stats,
		health:  health,
	}
}

func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to start %s server: %w", l.name, err)
	}
	// A restarted listener starts with a fresh connection table.
	l.mu.Lock()
	l.listener = ln
	l.conns = make(map[net.Conn]struct{})
	l.mu.Unlock()
	l.log.Info("Server started", "server", l.name, "address", ln.Addr().String())

	if l.health != nil {
		l.health.Serving(l.name)
		defer l.health.NotServing(l.name)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		l.closeConnections()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				l.wg.Wait()
				l.log.Info("Server stopped", "server", l.name)
				return nil
			}
			_ = ln.Close()
			l.closeConnections()
			l.wg.Wait()
			return fmt.Errorf("%s accept: %w", l.name, err)
		}
		if !l.track(conn) {
			_ = conn.Close()
			continue
		}
		l.wg.Add(1)
		go l.serve(ctx, conn)
	}
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer l.untrack(conn)
	l.stats.ConnectionOpened()
	defer l.stats.ConnectionClosed()
	l.log.Debug("Connection accepted", "server", l.name, "remote", conn.RemoteAddr().String())
	l.handler(ctx, conn)
}

// Addr returns the listening address, empty until Run has started listening.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return ""
	}
	return l.listener.Addr().String()
}

func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns == nil {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns != nil {
		delete(l.conns, conn)
	}
	_ = conn.Close()
}

// closeConnections closes every open connection and refuses new ones.
func (l *Listener) closeConnections() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for conn := range l.conns {
		_ = conn.Close()
	}
	l.conns = nil
}
