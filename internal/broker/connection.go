// Package broker owns the physical connection to the MQTT broker:
// connect/disconnect, topic subscription, reconnection scheduling with
// exponential backoff, and status reporting.
package broker

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/aituberlink/core/domain/entities"
)

const (
	// Wall-clock bound on a single handshake before the attempt is abandoned.
	connectTimeout = 10 * time.Second

	// Interval of the poll that reconciles local status with the
	// transport-reported liveness.
	pollInterval = 5 * time.Second

	// Grace period in milliseconds for in-flight work on explicit disconnect.
	disconnectQuiesceMs = 250

	keepAlive = 30 * time.Second

	protocolWait = 5 * time.Second
)

// DefaultTopic is the fixed subscription every connection starts with.
const DefaultTopic = "aituber/speech"

// QoSExactlyOnce is the delivery guarantee of the default subscription.
const QoSExactlyOnce byte = 2

// ErrConfigInvalid blocks a connect attempt; configuration errors are
// surfaced immediately and never retried automatically.
var ErrConfigInvalid = errors.New("connection configuration is invalid")

// StatusHandler observes connection status transitions.
type StatusHandler func(status entities.ConnectionStatus)

// MessageHandler observes raw inbound messages. It must not block; slow
// consumers hand off to their own worker.
type MessageHandler func(topic string, payload []byte)

// ErrorHandler observes classified connection failures.
type ErrorHandler func(cerr ClassifiedError)

// Connection supervises at most one live transport at a time. A connect
// request while already connecting or connected is a no-op, as are
// subscription changes and disconnects in a non-connected state. All shared
// state is owned by the instance; external readers only see snapshots.
type Connection struct {
	logger *zap.Logger

	// newClient is swapped out by tests.
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu       sync.Mutex
	status   entities.ConnectionStatus
	cfg      entities.ConnectionConfig
	client   mqtt.Client
	subs     []entities.Subscription
	attempts int
	lastErr  *ClassifiedError

	// generation invalidates in-flight handshakes, retry timers and pollers
	// that belong to an earlier connect cycle.
	generation uint64

	reconnectTimer *time.Timer
	pollStop       chan struct{}

	statusHandlers  []StatusHandler
	messageHandlers []MessageHandler
	errorHandlers   []ErrorHandler
}

// NewConnection creates a disconnected supervisor. A fresh process always
// starts at disconnected regardless of any persisted state.
func NewConnection(logger *zap.Logger) *Connection {
	return &Connection{
		logger:    logger,
		newClient: mqtt.NewClient,
		status:    entities.StatusDisconnected,
		subs: []entities.Subscription{
			{Topic: DefaultTopic, QoS: QoSExactlyOnce, Active: true},
		},
	}
}

// OnStatusChange registers a handler for status transitions. Handlers are
// expected to be registered before the first connect.
func (c *Connection) OnStatusChange(h StatusHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusHandlers = append(c.statusHandlers, h)
}

// OnMessage registers a handler for inbound messages.
func (c *Connection) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageHandlers = append(c.messageHandlers, h)
}

// OnError registers a handler for classified failures.
func (c *Connection) OnError(h ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandlers = append(c.errorHandlers, h)
}

// Status returns a snapshot of the current connection status.
func (c *Connection) Status() entities.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the most recent classified failure, if any.
func (c *Connection) LastError() *ClassifiedError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return nil
	}
	cerr := *c.lastErr
	return &cerr
}

// Attempts returns the current reconnection attempt counter.
func (c *Connection) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Subscriptions returns a copy of the configured subscription list.
func (c *Connection) Subscriptions() []entities.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]entities.Subscription, len(c.subs))
	copy(out, c.subs)
	return out
}

// SetTopics replaces the subscription list with the default topic plus the
// given extra topics, all at exactly-once quality of service. Only allowed
// while disconnected; otherwise a no-op.
func (c *Connection) SetTopics(extra []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != entities.StatusDisconnected {
		return
	}
	subs := []entities.Subscription{{Topic: DefaultTopic, QoS: QoSExactlyOnce, Active: true}}
	for _, t := range extra {
		t = strings.TrimSpace(t)
		if t == "" || t == DefaultTopic {
			continue
		}
		subs = append(subs, entities.Subscription{Topic: t, QoS: QoSExactlyOnce, Active: true})
	}
	c.subs = subs
}

// Connect starts a connect attempt with the given immutable configuration.
// It validates first; hard issues abort with ErrConfigInvalid and are never
// retried. The handshake itself completes asynchronously. A connect while
// already connecting or connected is a no-op.
func (c *Connection) Connect(cfg entities.ConnectionConfig) error {
	c.mu.Lock()
	if c.status == entities.StatusConnecting || c.status == entities.StatusConnected {
		c.mu.Unlock()
		c.logger.Debug("Connect requested while already active", zap.String("status", string(c.status)))
		return nil
	}

	if result := ValidateConfig(cfg); !result.Valid {
		cerr := ClassifiedError{
			Code:        ErrCodeConfig,
			Message:     strings.Join(result.Issues, "; "),
			Remediation: []string{"Fix the reported configuration issues in the settings screen"},
		}
		c.lastErr = &cerr
		c.status = entities.StatusError
		c.mu.Unlock()
		c.emitStatus(entities.StatusError)
		c.emitError(cerr)
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(result.Issues, "; "))
	}

	c.cfg = cfg
	c.attempts = 0
	c.stopTimersLocked()
	c.generation++
	gen := c.generation
	c.status = entities.StatusConnecting
	c.mu.Unlock()

	c.emitStatus(entities.StatusConnecting)
	go c.attemptConnect(cfg, gen)
	return nil
}

// Disconnect withdraws active subscriptions, stops the poll and any pending
// retry, closes the transport, and awaits completion. Disconnecting while
// not connected or connecting is a no-op.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.status != entities.StatusConnected && c.status != entities.StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.stopTimersLocked()
	c.generation++
	client := c.client
	c.client = nil
	subs := make([]entities.Subscription, len(c.subs))
	copy(subs, c.subs)
	c.status = entities.StatusDisconnected
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		for _, sub := range subs {
			if !sub.Active {
				continue
			}
			if token := client.Unsubscribe(sub.Topic); !token.WaitTimeout(protocolWait) || token.Error() != nil {
				c.logger.Warn("Unsubscribe on disconnect failed",
					zap.String("topic", sub.Topic),
					zap.Error(token.Error()))
			}
		}
		client.Disconnect(disconnectQuiesceMs)
	}

	c.logger.Info("Disconnected from broker")
	c.emitStatus(entities.StatusDisconnected)
}

// Subscribe activates a subscription. When the connection is live the
// protocol exchange happens immediately; otherwise only the configured
// list changes and the topic is issued on the next successful connect.
func (c *Connection) Subscribe(topic string, qos byte) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}

	c.mu.Lock()
	found := false
	for i := range c.subs {
		if c.subs[i].Topic == topic {
			c.subs[i].Active = true
			c.subs[i].QoS = qos
			found = true
			break
		}
	}
	if !found {
		c.subs = append(c.subs, entities.Subscription{Topic: topic, QoS: qos, Active: true})
	}
	client := c.client
	live := c.status == entities.StatusConnected
	c.mu.Unlock()

	if !live || client == nil {
		return
	}
	if token := client.Subscribe(topic, qos, c.routeMessage); !token.WaitTimeout(protocolWait) || token.Error() != nil {
		// Protocol errors are logged but do not tear down the connection.
		c.logger.Error("Subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
	}
}

// Unsubscribe deactivates a subscription. A no-op when the topic is
// unknown or the connection is not live.
func (c *Connection) Unsubscribe(topic string) {
	c.mu.Lock()
	found := false
	for i := range c.subs {
		if c.subs[i].Topic == topic {
			c.subs[i].Active = false
			found = true
			break
		}
	}
	client := c.client
	live := c.status == entities.StatusConnected
	c.mu.Unlock()

	if !found || !live || client == nil {
		return
	}
	if token := client.Unsubscribe(topic); !token.WaitTimeout(protocolWait) || token.Error() != nil {
		c.logger.Error("Unsubscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
	}
}

// attemptConnect performs one handshake. It runs off the caller's
// goroutine so a slow broker cannot block the requester.
func (c *Connection) attemptConnect(cfg entities.ConnectionConfig, gen uint64) {
	opts := c.clientOptions(cfg)
	client := c.newClient(opts)

	token := client.Connect()
	ok := token.WaitTimeout(connectTimeout)

	var err error
	switch {
	case !ok:
		err = fmt.Errorf("broker handshake timeout after %s", connectTimeout)
	case token.Error() != nil:
		err = token.Error()
	}

	c.mu.Lock()
	if c.generation != gen {
		// A disconnect or newer connect superseded this attempt.
		c.mu.Unlock()
		if err == nil {
			client.Disconnect(0)
		}
		return
	}

	if err != nil {
		cerr := ClassifyError(err)
		c.lastErr = &cerr
		c.status = entities.StatusError
		c.mu.Unlock()

		c.logger.Warn("Broker connect failed",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("code", string(cerr.Code)),
			zap.Error(err))
		c.emitStatus(entities.StatusError)
		c.emitError(cerr)
		c.scheduleReconnect(gen)
		return
	}

	c.client = client
	c.status = entities.StatusConnected
	c.attempts = 0
	c.lastErr = nil
	subs := make([]entities.Subscription, len(c.subs))
	copy(subs, c.subs)
	stop := make(chan struct{})
	c.pollStop = stop
	c.mu.Unlock()

	c.logger.Info("Connected to broker",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("client_id", cfg.ClientID))
	c.emitStatus(entities.StatusConnected)

	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		if token := client.Subscribe(sub.Topic, sub.QoS, c.routeMessage); !token.WaitTimeout(protocolWait) || token.Error() != nil {
			c.logger.Error("Subscribe after connect failed",
				zap.String("topic", sub.Topic),
				zap.Error(token.Error()))
		} else {
			c.logger.Info("Subscribed", zap.String("topic", sub.Topic), zap.Uint8("qos", sub.QoS))
		}
	}

	go c.poll(client, gen, stop)
}

// clientOptions translates the immutable config into paho options. The
// supervisor owns reconnection itself, so paho's automatic retry stays off.
func (c *Connection) clientOptions(cfg entities.ConnectionConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.Secure {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		c.routeMessage(nil, msg)
	})

	gen := func() uint64 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.generation
	}()
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.handleConnectionLost(gen, err)
	})
	return opts
}

// brokerURL builds the transport URL: tcp/ssl for raw connections, ws/wss
// with the tunnel path for websocket tunneling.
func brokerURL(cfg entities.ConnectionConfig) string {
	switch cfg.Transport {
	case entities.TransportWebsocket:
		scheme := "ws"
		if cfg.Secure {
			scheme = "wss"
		}
		path := cfg.TunnelPath
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return fmt.Sprintf("%s://%s:%d%s", scheme, cfg.Host, cfg.Port, path)
	default:
		scheme := "tcp"
		if cfg.Secure {
			scheme = "ssl"
		}
		return fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
	}
}

// routeMessage fans one inbound message out to the registered handlers.
// Receipt never changes connection state.
func (c *Connection) routeMessage(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	handlers := make([]MessageHandler, len(c.messageHandlers))
	copy(handlers, c.messageHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg.Topic(), msg.Payload())
	}
}

// handleConnectionLost treats a transport-reported close identically to an
// error for retry purposes.
func (c *Connection) handleConnectionLost(gen uint64, err error) {
	c.mu.Lock()
	if c.generation != gen || c.status != entities.StatusConnected {
		c.mu.Unlock()
		return
	}
	if err == nil {
		err = errors.New("connection lost")
	}
	cerr := ClassifyError(err)
	c.lastErr = &cerr
	c.status = entities.StatusDisconnected
	c.client = nil
	c.stopPollLocked()
	c.mu.Unlock()

	c.logger.Warn("Broker connection lost", zap.Error(err))
	c.emitStatus(entities.StatusDisconnected)
	c.emitError(cerr)
	c.scheduleReconnect(gen)
}

// poll reconciles local status with transport liveness, catching closes the
// lost handler never reported.
func (c *Connection) poll(client mqtt.Client, gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := c.generation != gen
			connected := c.status == entities.StatusConnected
			c.mu.Unlock()
			if stale {
				return
			}
			if connected && !client.IsConnectionOpen() {
				c.handleConnectionLost(gen, errors.New("transport reports closed connection"))
				return
			}
		}
	}
}

// scheduleReconnect arms the backoff timer for the next attempt. The
// attempt counter increments on every scheduled retry and resets only on a
// successful connect.
func (c *Connection) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		return
	}
	if !c.cfg.Reconnect.Enabled {
		return
	}
	if c.cfg.Reconnect.MaxAttempts > 0 && c.attempts >= c.cfg.Reconnect.MaxAttempts {
		c.logger.Warn("Reconnect attempts exhausted", zap.Int("attempts", c.attempts))
		return
	}

	c.attempts++
	delay := retryDelay(c.cfg.Reconnect, c.attempts)
	cfg := c.cfg
	c.logger.Info("Scheduling reconnect",
		zap.Int("attempt", c.attempts),
		zap.Duration("delay", delay))

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.generation != gen ||
			(c.status != entities.StatusError && c.status != entities.StatusDisconnected) {
			c.mu.Unlock()
			return
		}
		c.status = entities.StatusConnecting
		c.mu.Unlock()

		c.emitStatus(entities.StatusConnecting)
		c.attemptConnect(cfg, gen)
	})
}

// retryDelay computes min(initial * 2^(attempt-1), max).
func retryDelay(p entities.ReconnectPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := uint(attempt - 1)
	if shift > 30 {
		shift = 30
	}
	delayMs := p.InitialDelayMs << shift
	if delayMs > p.MaxDelayMs || delayMs <= 0 {
		delayMs = p.MaxDelayMs
	}
	return time.Duration(delayMs) * time.Millisecond
}

// stopTimersLocked cancels the retry timer and the poller. Callers hold mu.
func (c *Connection) stopTimersLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopPollLocked()
}

func (c *Connection) stopPollLocked() {
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
}

func (c *Connection) emitStatus(status entities.ConnectionStatus) {
	c.mu.Lock()
	handlers := make([]StatusHandler, len(c.statusHandlers))
	copy(handlers, c.statusHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(status)
	}
}

func (c *Connection) emitError(cerr ClassifiedError) {
	c.mu.Lock()
	handlers := make([]ErrorHandler, len(c.errorHandlers))
	copy(handlers, c.errorHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(cerr)
	}
}
