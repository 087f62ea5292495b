package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// frameConn carries whole JSON frames whatever the transport.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// tcpConn frames with newlines.
type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

func dialTCP(ctx context.Context, address string) (*tcpConn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("could not connect to server at %s: %w", address, err)
	}
	return &tcpConn{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		if line = bytes.TrimSpace(line); len(line) > 0 {
			return line, nil
		}
	}
}

func (c *tcpConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(append(frame, '\n'))
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// wsConn frames with WebSocket text messages.
type wsConn struct {
	conn   net.Conn
	reader io.ReadWriter
	mu     sync.Mutex
}

func dialWebSocket(ctx context.Context, url string) (*wsConn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("could not open websocket %s: %w", url, err)
	}
	var reader io.Reader = conn
	if br != nil {
		reader = io.MultiReader(br, conn)
	}
	return &wsConn{conn: conn, reader: struct {
		io.Reader
		io.Writer
	}{reader, conn}}, nil
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		data, op, err := wsutil.ReadServerData(c.reader)
		if err != nil {
			return nil, err
		}
		if op == ws.OpText && len(data) > 0 {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteClientText(c.conn, frame)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, nil)
	c.mu.Unlock()
	return c.conn.Close()
}
