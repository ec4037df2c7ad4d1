package broker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/aituberlink/core/domain/entities"
)

type stubToken struct {
	err error
}

func (t *stubToken) Wait() bool                     { return true }
func (t *stubToken) WaitTimeout(time.Duration) bool { return true }
func (t *stubToken) Error() error                   { return t.err }
func (t *stubToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeClient satisfies mqtt.Client for supervisor tests without a broker.
type fakeClient struct {
	mu           sync.Mutex
	connectErr   error
	connected    bool
	subscribed   []string
	unsubscribed []string
	handler      mqtt.MessageHandler
}

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return &stubToken{err: f.connectErr}
	}
	f.connected = true
	return &stubToken{}
}

func (f *fakeClient) Disconnect(quiesce uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeClient) Subscribe(topic string, qos byte, h mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	f.handler = h
	return &stubToken{}
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, h mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		f.Subscribe(topic, qos, h)
	}
	return &stubToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return &stubToken{}
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return &stubToken{}
}

func (f *fakeClient) AddRoute(topic string, h mqtt.MessageHandler) {}

func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (f *fakeClient) subscribedTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.subscribed))
	copy(out, f.subscribed)
	return out
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 2 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []entities.ConnectionStatus
}

func (r *statusRecorder) record(s entities.ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) snapshot() []entities.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entities.ConnectionStatus, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func newTestConnection(fc *fakeClient) (*Connection, *atomic.Int32) {
	conn := NewConnection(zap.NewNop())
	var factoryCalls atomic.Int32
	conn.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		factoryCalls.Add(1)
		return fc
	}
	return conn, &factoryCalls
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestRetryDelaySequence(t *testing.T) {
	policy := entities.ReconnectPolicy{
		Enabled:        true,
		InitialDelayMs: 1000,
		MaxDelayMs:     30000,
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}

	for i, w := range want {
		if got := retryDelay(policy, i+1); got != w {
			t.Errorf("retryDelay(attempt %d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestConnectSuccess(t *testing.T) {
	fc := &fakeClient{}
	conn, factoryCalls := newTestConnection(fc)

	recorder := &statusRecorder{}
	conn.OnStatusChange(recorder.record)

	if err := conn.Connect(validConfig()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return conn.Status() == entities.StatusConnected
	})

	topics := fc.subscribedTopics()
	if len(topics) != 1 || topics[0] != DefaultTopic {
		t.Errorf("Expected default subscription %q, got %v", DefaultTopic, topics)
	}
	if conn.Attempts() != 0 {
		t.Errorf("Expected attempt counter reset on connect, got %d", conn.Attempts())
	}

	statuses := recorder.snapshot()
	if len(statuses) < 2 || statuses[0] != entities.StatusConnecting || statuses[1] != entities.StatusConnected {
		t.Errorf("Expected connecting then connected, got %v", statuses)
	}

	// A second connect while connected is a no-op.
	if err := conn.Connect(validConfig()); err != nil {
		t.Fatalf("Duplicate connect returned error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if factoryCalls.Load() != 1 {
		t.Errorf("Expected one transport, got %d", factoryCalls.Load())
	}

	conn.Disconnect()
	if conn.Status() != entities.StatusDisconnected {
		t.Errorf("Expected disconnected, got %s", conn.Status())
	}
	if fc.IsConnected() {
		t.Error("Expected transport closed after disconnect")
	}
}

func TestConnectInvalidConfig(t *testing.T) {
	conn, factoryCalls := newTestConnection(&fakeClient{})

	cfg := validConfig()
	cfg.Host = ""

	err := conn.Connect(cfg)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("Expected ErrConfigInvalid, got %v", err)
	}
	if conn.Status() != entities.StatusError {
		t.Errorf("Expected error status, got %s", conn.Status())
	}
	if cerr := conn.LastError(); cerr == nil || cerr.Code != ErrCodeConfig {
		t.Errorf("Expected configuration classification, got %+v", cerr)
	}

	// Configuration errors are never retried.
	time.Sleep(50 * time.Millisecond)
	if factoryCalls.Load() != 0 {
		t.Errorf("Expected no transport for invalid config, got %d", factoryCalls.Load())
	}
	if conn.Attempts() != 0 {
		t.Errorf("Expected no scheduled retries, got %d attempts", conn.Attempts())
	}
}

func TestConnectFailureSchedulesBoundedRetries(t *testing.T) {
	fc := &fakeClient{connectErr: errors.New("connection refused")}
	conn, factoryCalls := newTestConnection(fc)

	cfg := validConfig()
	cfg.Reconnect = entities.ReconnectPolicy{
		Enabled:        true,
		InitialDelayMs: 1,
		MaxDelayMs:     4,
		MaxAttempts:    2,
	}

	if err := conn.Connect(cfg); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	// Initial attempt plus two retries, then the counter is exhausted.
	waitFor(t, time.Second, func() bool {
		return conn.Attempts() == 2 && conn.Status() == entities.StatusError
	})
	time.Sleep(50 * time.Millisecond)

	if factoryCalls.Load() != 3 {
		t.Errorf("Expected 3 transport builds (1 + 2 retries), got %d", factoryCalls.Load())
	}
	if cerr := conn.LastError(); cerr == nil || cerr.Code != ErrCodeRefused {
		t.Errorf("Expected refused classification, got %+v", cerr)
	}
}

func TestReconnectDisabled(t *testing.T) {
	fc := &fakeClient{connectErr: errors.New("connection refused")}
	conn, factoryCalls := newTestConnection(fc)

	cfg := validConfig()
	cfg.Reconnect.Enabled = false

	if err := conn.Connect(cfg); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return conn.Status() == entities.StatusError
	})
	time.Sleep(50 * time.Millisecond)

	if factoryCalls.Load() != 1 {
		t.Errorf("Expected a single attempt with reconnect disabled, got %d", factoryCalls.Load())
	}
}

func TestOperationsInWrongStateAreNoOps(t *testing.T) {
	conn, _ := newTestConnection(&fakeClient{})

	recorder := &statusRecorder{}
	conn.OnStatusChange(recorder.record)

	// None of these may emit a transition or fail while disconnected.
	conn.Disconnect()
	conn.Unsubscribe(DefaultTopic)
	conn.Subscribe("aituber/extra", 1)

	if got := recorder.snapshot(); len(got) != 0 {
		t.Errorf("Expected no status transitions, got %v", got)
	}

	subs := conn.Subscriptions()
	if len(subs) != 2 {
		t.Fatalf("Expected configured subscriptions to change offline, got %v", subs)
	}
	if subs[1].Topic != "aituber/extra" || !subs[1].Active {
		t.Errorf("Expected aituber/extra active in configured list, got %+v", subs[1])
	}
}

func TestConnectionLostTriggersReconnect(t *testing.T) {
	fc := &fakeClient{}
	conn, factoryCalls := newTestConnection(fc)

	cfg := validConfig()
	cfg.Reconnect = entities.ReconnectPolicy{
		Enabled:        true,
		InitialDelayMs: 1,
		MaxDelayMs:     4,
	}

	if err := conn.Connect(cfg); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return conn.Status() == entities.StatusConnected
	})

	conn.handleConnectionLost(1, errors.New("EOF"))

	// The implicit close behaves like an error: a retry is scheduled and
	// eventually reconnects.
	waitFor(t, time.Second, func() bool {
		return conn.Status() == entities.StatusConnected && factoryCalls.Load() == 2
	})
	if conn.Attempts() != 0 {
		t.Errorf("Expected attempt counter reset after reconnect, got %d", conn.Attempts())
	}
}

func TestMessageRouting(t *testing.T) {
	fc := &fakeClient{}
	conn, _ := newTestConnection(fc)

	var mu sync.Mutex
	var gotTopic string
	var gotPayload []byte
	conn.OnMessage(func(topic string, payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		gotTopic = topic
		gotPayload = payload
	})

	if err := conn.Connect(validConfig()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return conn.Status() == entities.StatusConnected
	})

	conn.routeMessage(nil, &fakeMessage{topic: DefaultTopic, payload: []byte(`{"text":"hi"}`)})

	mu.Lock()
	defer mu.Unlock()
	if gotTopic != DefaultTopic {
		t.Errorf("Expected topic %q, got %q", DefaultTopic, gotTopic)
	}
	if string(gotPayload) != `{"text":"hi"}` {
		t.Errorf("Unexpected payload %q", gotPayload)
	}
}
