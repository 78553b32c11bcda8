// Package websocket carries frames between the gateway and browser clients
// over gorilla/websocket connections.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/errors"
)

// ErrSendBufferFull is returned when a connection cannot keep up
var ErrSendBufferFull = errors.New(errors.ErrorTypeTransport, "send_buffer_full", "send buffer is full")

// MessageHandler handles one inbound text or binary message
type MessageHandler func(message []byte)

// Conn is one accepted websocket connection with its read and write pumps
type Conn struct {
	id       string
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	options  ConnOptions
	sendChan chan []byte
	handler  MessageHandler
	closed   sync.Once
	wg       sync.WaitGroup
}

// NewConn wraps an upgraded websocket connection
func NewConn(id string, conn *websocket.Conn, logger *logging.Logger, options ConnOptions) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	if options.SendBuffer <= 0 {
		options.SendBuffer = DefaultConnOptions().SendBuffer
	}

	return &Conn{
		id:       id,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithFields(map[string]any{"conn_id": id}),
		options:  options,
		sendChan: make(chan []byte, options.SendBuffer),
	}
}

// ID returns the connection identifier
func (c *Conn) ID() string {
	return c.id
}

// Context is cancelled when the connection closes
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Send queues a message without blocking
func (c *Conn) Send(message []byte) error {
	if c.ctx.Err() != nil {
		return domain.ErrConnectionClosed
	}

	select {
	case c.sendChan <- message:
		return nil
	case <-c.ctx.Done():
		return domain.ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops both pumps and closes the connection
func (c *Conn) Close() error {
	c.closed.Do(func() {
		c.logger.Debug("closing connection")
		c.cancel()
	})
	return nil
}

// Wait blocks until both pumps have stopped
func (c *Conn) Wait() {
	c.wg.Wait()
}

// Start starts the read and write pumps. handler runs on the read pump.
func (c *Conn) Start(handler MessageHandler) {
	c.handler = handler
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

// readPump pumps messages from the websocket connection
func (c *Conn) readPump() {
	defer c.wg.Done()
	defer func() {
		c.logger.Debug("read pump stopped")
		c.Close()
	}()

	c.conn.SetReadLimit(c.options.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) && c.ctx.Err() == nil {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if c.handler != nil {
			c.handler(message)
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Conn) writePump() {
	defer c.wg.Done()
	defer func() {
		c.conn.Close()
		c.logger.Debug("write pump stopped")
	}()

	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("websocket ping error", "error", err)
				c.Close()
				return
			}
		}
	}
}
