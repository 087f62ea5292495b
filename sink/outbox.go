package sink

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"sync"
)

// Encoder turns a notification into one transport frame.
type Encoder func(n domain.Notification) ([]byte, error)

// Writer writes one frame to the underlying transport.
type Writer func(frame []byte) error

// Outbox is the single-writer queue of one connection.
// Responses and pushes share the queue so they reach the client in enqueue order,
// and only the goroutine running Drain ever touches the transport.
type Outbox struct {
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	encode    Encoder
	log       *slog.Logger
}

func NewOutbox(bufferSize int, encode Encoder, log *slog.Logger) *Outbox {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Outbox{
		frames: make(chan []byte, bufferSize),
		done:   make(chan struct{}),
		encode: encode,
		log:    log,
	}
}

// Push enqueues a notification without blocking.
// A full queue drops the notification and reports ErrOutboxFull.
func (o *Outbox) Push(_ context.Context, n domain.Notification) error {
	frame, err := o.encode(n)
	if err != nil {
		return err
	}
	select {
	case <-o.done:
		return errors.ErrOutboxClosed
	default:
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		o.log.Warn("Outbox full, dropping push", "kind", n.Kind, "sender", n.Sender)
		return errors.ErrOutboxFull
	}
}

// Send enqueues a response frame, waiting for room in the queue.
func (o *Outbox) Send(ctx context.Context, frame []byte) error {
	select {
	case <-o.done:
		return errors.ErrOutboxClosed
	default:
	}
	select {
	case o.frames <- frame:
		return nil
	case <-o.done:
		return errors.ErrOutboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain writes queued frames until the outbox is closed or a write fails.
// Frames already queued at Close are still flushed.
func (o *Outbox) Drain(ctx context.Context, write Writer) error {
	for {
		select {
		case frame := <-o.frames:
			if err := write(frame); err != nil {
				return err
			}
		case <-o.done:
			return o.flush(write)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Outbox) flush(write Writer) error {
	for {
		select {
		case frame := <-o.frames:
			if err := write(frame); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Close stops accepting frames. It is safe to call more than once.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

func (o *Outbox) Len() int {
	return len(o.frames)
}
