package crown

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// doneToken is an already completed mqtt.Token.
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// pendingToken is an mqtt.Token that never completes.
type pendingToken struct{}

func (pendingToken) Wait() bool                     { return false }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (pendingToken) Error() error                   { return nil }

// MockMessage is a publication captured by MockClient.
type MockMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MockClient is an in-memory mqtt.Client that records publications and
// keeps the last retained payload per topic, the way a broker would.
type MockClient struct {
	mu         sync.RWMutex
	connected  bool
	publishErr error
	stalled    bool
	published  []MockMessage
	retained   map[string][]byte
}

func NewMockClient() *MockClient {
	return &MockClient{retained: make(map[string][]byte)}
}

func (c *MockClient) SetConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}

// SetPublishError makes every later Publish fail with err.
func (c *MockClient) SetPublishError(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}

// SetStalled makes every later Publish return a token that is never
// acknowledged.
func (c *MockClient) SetStalled(stalled bool) {
	c.mu.Lock()
	c.stalled = stalled
	c.mu.Unlock()
}

// Published returns a copy of every captured message in publish order.
func (c *MockClient) Published() []MockMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]MockMessage(nil), c.published...)
}

// Topics lists the topics of the captured messages in publish order.
func (c *MockClient) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, len(c.published))
	for i, m := range c.published {
		topics[i] = m.Topic
	}
	return topics
}

// Retained returns the last retained payload on topic.
func (c *MockClient) Retained(topic string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.retained[topic]
	return p, ok
}

func (c *MockClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *MockClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *MockClient) Connect() mqtt.Token {
	c.SetConnected(true)
	return doneToken{}
}

func (c *MockClient) Disconnect(uint) { c.SetConnected(false) }

func (c *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.connected:
		return doneToken{err: mqtt.ErrNotConnected}
	case c.publishErr != nil:
		return doneToken{err: c.publishErr}
	case c.stalled:
		return pendingToken{}
	}

	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	}
	c.published = append(c.published, MockMessage{Topic: topic, Payload: data, QoS: qos, Retain: retained})
	if retained {
		c.retained[topic] = data
	}
	return doneToken{}
}

func (c *MockClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token { return doneToken{} }

func (c *MockClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}

func (c *MockClient) Unsubscribe(...string) mqtt.Token { return doneToken{} }

func (c *MockClient) AddRoute(string, mqtt.MessageHandler) {}

func (c *MockClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }
