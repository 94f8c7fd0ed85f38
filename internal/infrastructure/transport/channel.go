// Package transport implements ports.DeviceChannel over the USB session
// socket and over websockets.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sidescreen/internal/protocol"
)

var (
	ErrClosed       = errors.New("channel closed")
	ErrWriteTimeout = errors.New("channel write timed out")
)

type Config struct {
	WriteTimeout time.Duration
	InboxSize    int
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout: 2 * time.Second,
		InboxSize:    64,
	}
}

// wire is the framed connection underneath a channel.
type wire interface {
	write(msg protocol.Message, deadline time.Time) error
	read() (protocol.Message, error)
	// interrupt unblocks a write in progress.
	interrupt()
	close() error
}

// channel serializes writes on one wire and buffers inbound messages read by
// its own goroutine.
type channel struct {
	name   string
	wire   wire
	cfg    Config
	logger *zap.SugaredLogger

	inbox    chan protocol.Message
	writeSem chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func newChannel(name string, w wire, cfg Config, logger *zap.SugaredLogger) *channel {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}

	c := &channel{
		name:     name,
		wire:     w,
		cfg:      cfg,
		logger:   logger,
		inbox:    make(chan protocol.Message, cfg.InboxSize),
		writeSem: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Send writes one message. It waits at most the write timeout for a
// concurrent writer, and the write itself is bounded by the same timeout or
// the ctx deadline, whichever is sooner. A failed write closes the channel.
func (c *channel) Send(ctx context.Context, msgType protocol.MessageType, payload []byte) error {
	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.Err()
	case <-timer.C:
		return ErrWriteTimeout
	}
	defer func() { <-c.writeSem }()

	select {
	case <-c.done:
		return c.Err()
	default:
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	stop := context.AfterFunc(ctx, c.wire.interrupt)
	err := c.wire.write(protocol.Message{Type: msgType, Payload: payload}, deadline)
	stop()

	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		err = fmt.Errorf("write %s: %w", msgType, err)
		c.fail(err)
		return err
	}
	return nil
}

func (c *channel) TryReceive() (protocol.Message, bool) {
	select {
	case msg := <-c.inbox:
		return msg, true
	default:
		return protocol.Message{}, false
	}
}

// Receive returns buffered messages before reporting a closed channel.
func (c *channel) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-c.done:
		return protocol.Message{}, c.Err()
	}
}

func (c *channel) Done() <-chan struct{} {
	return c.done
}

// Err is nil while the channel is open, the failure that closed it, or
// ErrClosed after a plain Close.
func (c *channel) Err() error {
	select {
	case <-c.done:
	default:
		return nil
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.wire.close()
		c.logger.Debugw("channel closed", "channel", c.name)
	})
	return err
}

func (c *channel) fail(err error) {
	select {
	case <-c.done:
		return
	default:
	}

	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()

	c.logger.Warnw("channel failed", "channel", c.name, "error", err)
	c.Close()
}

func (c *channel) readLoop() {
	for {
		msg, err := c.wire.read()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.fail(fmt.Errorf("read: %w", err))
			}
			return
		}

		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}
