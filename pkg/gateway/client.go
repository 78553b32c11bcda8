package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/errors"
	"github.com/HMasataka/linehub/pkg/transport/protocol"
)

// ClientOptions represents gateway client options
type ClientOptions struct {
	Logger *logging.Logger
	// Token is presented as a bearer credential during the upgrade
	Token string
	// RequestTimeout bounds Request when ctx has no deadline
	RequestTimeout time.Duration
	Dialer         *gorillaws.Dialer
}

// DefaultClientOptions returns default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		RequestTimeout: 10 * time.Second,
		Dialer:         gorillaws.DefaultDialer,
	}
}

// PushHandler receives server pushes of one type
type PushHandler func(ctx context.Context, frame *protocol.Frame)

// Client is an operator connection to the gateway. Requests are matched to
// their acknowledgement by frame id.
type Client struct {
	conn    *gorillaws.Conn
	options ClientOptions
	logger  *logging.Logger

	writeMu sync.Mutex

	handlers   map[string]PushHandler
	handlersMu sync.RWMutex

	pending   map[string]chan protocol.Ack
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to the gateway at rawURL
func Dial(ctx context.Context, rawURL string, options ClientOptions) (*Client, error) {
	if options.Logger == nil {
		options.Logger = logging.Nop()
	}
	if options.Dialer == nil {
		options.Dialer = gorillaws.DefaultDialer
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = DefaultClientOptions().RequestTimeout
	}
	if _, err := url.Parse(rawURL); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, errors.CodeInvalidRequest, "invalid gateway url")
	}

	header := http.Header{}
	if options.Token != "" {
		header.Set("Authorization", "Bearer "+options.Token)
	}

	options.Logger.Debug("connecting to gateway", "url", rawURL)
	conn, _, err := options.Dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "dial_failed", "failed to connect to gateway")
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		options:  options,
		logger:   options.Logger.Component("gateway-client"),
		handlers: make(map[string]PushHandler),
		pending:  make(map[string]chan protocol.Ack),
		ctx:      cctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// OnPush registers the handler for a push type, replacing any previous one.
// Handlers run on the read loop and must not block.
func (c *Client) OnPush(pushType string, handler PushHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[pushType] = handler
}

// Request sends a request and waits for its acknowledgement. A negative
// acknowledgement is returned as an *errors.Error carrying the server's code.
func (c *Client) Request(ctx context.Context, requestType string, data any) (protocol.Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.RequestTimeout)
		defer cancel()
	}

	frame, err := protocol.NewFrame(requestType, data)
	if err != nil {
		return nil, err
	}

	wait := make(chan protocol.Ack, 1)
	c.pendingMu.Lock()
	c.pending[frame.ID] = wait
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, frame.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(frame); err != nil {
		return nil, err
	}

	select {
	case ack := <-wait:
		if !ack.OK {
			return nil, errors.New(errors.ErrorTypeProtocol, ack.Code, ack.Error)
		}
		return protocol.Result(ack.Result), nil
	case <-c.done:
		return nil, domain.ErrConnectionClosed
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, errors.CodeServerError, "request timed out").
			WithDetails(requestType)
	}
}

// Notify sends a request without asking for an acknowledgement. Failures are
// reported by the server as error pushes.
func (c *Client) Notify(requestType string, data any) error {
	frame, err := protocol.NewFrame(requestType, data)
	if err != nil {
		return err
	}
	frame.ID = ""
	return c.write(frame)
}

// Close closes the connection and waits for the read loop to exit
func (c *Client) Close() error {
	c.cancel()
	c.writeMu.Lock()
	_ = c.conn.WriteControl(gorillaws.CloseMessage,
		gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) write(frame *protocol.Frame) error {
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "connection_closed", "write failed")
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseGoingAway) {
				c.logger.Warn("gateway read failed", "error", err)
			}
			return
		}

		frame, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		if frame.Type == protocol.TypeAck {
			c.resolve(frame)
			continue
		}

		c.handlersMu.RLock()
		handler, ok := c.handlers[frame.Type]
		c.handlersMu.RUnlock()
		if ok {
			handler(c.ctx, frame)
		}
	}
}

func (c *Client) resolve(frame *protocol.Frame) {
	var ack protocol.Ack
	if err := json.Unmarshal(frame.Data, &ack); err != nil {
		c.logger.Warn("dropping malformed ack", "reply_to", frame.ReplyTo, "error", err)
		return
	}

	c.pendingMu.Lock()
	wait, ok := c.pending[frame.ReplyTo]
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("ack for unknown request", "reply_to", frame.ReplyTo)
		return
	}
	select {
	case wait <- ack:
	default:
	}
}
