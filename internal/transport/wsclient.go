package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tracelight/crunch/internal/infrastructure/monitoring"
	"github.com/tracelight/crunch/internal/infrastructure/resilience"
	"github.com/tracelight/crunch/internal/shared/types"
)

// Reconnect backoff bounds for the WebSocket client.
const (
	wsBackoffMin = time.Second
	wsBackoffMax = 30 * time.Second
)

// ErrNotConnected is returned by Send when no connection is up.
var ErrNotConnected = errors.New("websocket transport not connected")

// WSClient subscribes to a remote event stream over WebSocket. Each text
// frame carries one JSON LogEvent; undecodable frames are logged and
// skipped. A dropped connection is re-dialed with capped exponential
// backoff behind a circuit breaker.
type WSClient struct {
	url     string
	dialer  *websocket.Dialer
	logger  *zap.Logger
	metrics *monitoring.Metrics
	breaker *resilience.Breaker

	writeMu sync.Mutex
	conn    *websocket.Conn

	handler func(*types.LogEvent)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWSClient creates a client for the given ws:// or wss:// URL.
func NewWSClient(url string, logger *zap.Logger, metrics *monitoring.Metrics) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger,
		metrics: metrics,
		breaker: resilience.New("upstream-ws", resilience.Settings{
			FailureThreshold: 5,
			Cooldown:         wsBackoffMax,
		}),
		done: make(chan struct{}),
	}
}

// Subscribe dials the upstream and starts the read loop. The initial dial
// must succeed; later drops are handled by reconnection.
func (c *WSClient) Subscribe(handler func(*types.LogEvent)) error {
	if c.handler != nil {
		return ErrAlreadySubscribed
	}
	c.handler = handler

	if err := c.dial(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.url, err)
	}

	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// Send writes a keep-alive ack frame to the upstream connection.
func (c *WSClient) Send(ack *types.LogAck) error {
	data, err := sonic.Marshal(ack)
	if err != nil {
		return fmt.Errorf("failed to encode ack: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send ack: %w", err)
	}
	c.metrics.RecordWSMessage("out", types.AckType)
	return nil
}

// Close stops the read loop and drops the connection. Idempotent.
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.writeMu.Unlock()
	})
	c.wg.Wait()
	return nil
}

func (c *WSClient) dial() error {
	return c.breaker.Execute(func() error {
		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			return err
		}

		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()

		c.logger.Info("subscribed to upstream event stream", zap.String("url", c.url))
		return nil
	})
}

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for {
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("upstream read failed, reconnecting", zap.Error(err))
			if !c.reconnect() {
				return
			}
			continue
		}

		var ev types.LogEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("undecodable event frame", zap.Error(err))
			continue
		}
		c.metrics.RecordWSMessage("in", "event")
		c.handler(&ev)
	}
}

// reconnect re-dials with capped exponential backoff until success or Close.
func (c *WSClient) reconnect() bool {
	backoff := wsBackoffMin
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(backoff):
		}

		err := c.dial()
		if err == nil {
			return true
		}
		c.logger.Warn("upstream reconnect failed",
			zap.Error(err), zap.Duration("backoff", backoff))

		backoff *= 2
		if backoff > wsBackoffMax {
			backoff = wsBackoffMax
		}
	}
}
