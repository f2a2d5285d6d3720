package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	DefaultBrokerURL = "ws://broker.hivemq.com:8000/mqtt"
	DefaultTopic     = "hivemq/test"

	disconnectQuiesceMs = 250
	subscribeRefused    = 0x80
)

// ChannelConfig holds everything the channel needs to reach the broker. It is
// passed in explicitly so tests can point the channel at a fake broker.
type ChannelConfig struct {
	URL            string        `yaml:"url" json:"url"`             // e.g. ws://host:8000/mqtt
	ClientID       string        `yaml:"client_id" json:"clientId"`  // empty = random
	Topic          string        `yaml:"topic" json:"topic"`
	QoS            byte          `yaml:"qos" json:"qos"`
	KeepAlive      time.Duration `yaml:"keep_alive" json:"keepAlive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connectTimeout"`
}

// ClientFactory builds the underlying MQTT client. Production code uses
// mqtt.NewClient.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Channel relays sensor messages from one broker topic to a Sink.
//
// The channel never reconnects on its own: a transport error is reported as
// ConnectionError and the connection is forced closed. A fresh channel (or a
// mode toggle in the core) is needed to try again.
type Channel struct {
	cfg       ChannelConfig
	sink      Sink
	log       *zap.Logger
	newClient ClientFactory

	mu     sync.Mutex
	client mqtt.Client
	closed bool
}

// NewChannel creates an MQTT channel. A nil factory uses mqtt.NewClient.
func NewChannel(cfg ChannelConfig, sink Sink, log *zap.Logger, factory ClientFactory) *Channel {
	if cfg.URL == "" {
		cfg.URL = DefaultBrokerURL
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = RandomClientID()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	if factory == nil {
		factory = mqtt.NewClient
	}
	return &Channel{
		cfg:       cfg,
		sink:      sink,
		log:       log.With(zap.String("broker", cfg.URL), zap.String("topic", cfg.Topic)),
		newClient: factory,
	}
}

// RandomClientID returns an identifier in the style the mobile app used.
func RandomClientID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("mobileClient_%x", time.Now().UnixNano())
	}
	return "mobileClient_" + hex.EncodeToString(b)
}

func (c *Channel) Name() string { return "MQTT " + c.cfg.URL }

func (c *Channel) Start() error { return c.Open() }
func (c *Channel) Stop() error  { return c.Close() }

// Open starts connecting in the background. If a client already exists the
// call is a no-op, so repeated activation never opens a second connection.
func (c *Channel) Open() error {
	c.mu.Lock()
	if c.client != nil || c.closed {
		c.mu.Unlock()
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.URL)
	opts.SetClientID(c.cfg.ClientID)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	client := c.newClient(opts)
	c.client = client
	c.mu.Unlock()

	// Connecting goes out before Connect so onConnect can never precede it.
	c.log.Info("connecting", zap.String("client_id", c.cfg.ClientID))
	c.sink.Status(Connecting)

	token := client.Connect()
	go c.awaitConnect(client, token)
	return nil
}

func (c *Channel) awaitConnect(client mqtt.Client, token mqtt.Token) {
	<-token.Done()
	err := token.Error()
	if err == nil {
		return
	}
	if !c.current(client) {
		return
	}
	c.log.Error("connection error", zap.Error(err))
	c.sink.Status(ConnectionError)
	c.sink.Drop(fmt.Errorf("%w: %v", ErrConnectFailed, err))
	// Force the client down; no in-place retry.
	client.Disconnect(0)
	c.sink.Status(Disconnected)
}

// onConnect runs on paho's goroutine once the broker accepted the session.
func (c *Channel) onConnect(client mqtt.Client) {
	if !c.current(client) {
		return
	}
	c.log.Info("connected, subscribing")
	c.sink.Status(Connected)

	token := client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.onMessage)
	go c.awaitSubscribe(client, token)
}

func (c *Channel) awaitSubscribe(client mqtt.Client, token mqtt.Token) {
	<-token.Done()
	err := token.Error()
	if err == nil {
		if st, ok := token.(*mqtt.SubscribeToken); ok {
			if q, found := st.Result()[c.cfg.Topic]; found && q == subscribeRefused {
				err = fmt.Errorf("broker refused topic %q", c.cfg.Topic)
			}
		}
	}
	if err == nil {
		c.log.Info("subscribed")
		return
	}
	if !c.current(client) {
		return
	}
	// The connection stays up; only the subscription failed.
	c.log.Error("subscribe failed", zap.Error(err))
	c.sink.Status(SubscriptionFailed)
	c.sink.Drop(fmt.Errorf("%w: %v", ErrSubscriptionFailed, err))
}

func (c *Channel) onConnectionLost(client mqtt.Client, err error) {
	if !c.current(client) {
		return
	}
	// A transport error on a live session: report it, then the close that
	// follows. paho has already torn the connection down.
	c.log.Error("connection lost", zap.Error(err))
	c.sink.Status(ConnectionError)
	c.sink.Drop(fmt.Errorf("%w: %v", ErrUnexpectedClose, err))
	c.sink.Status(Disconnected)
}

func (c *Channel) onMessage(client mqtt.Client, msg mqtt.Message) {
	if !c.current(client) {
		return
	}
	m, err := Decode(msg.Payload())
	if err != nil {
		c.log.Warn("dropping message", zap.String("msg_topic", msg.Topic()), zap.Error(err))
		c.sink.Drop(err)
		return
	}
	c.log.Debug("message",
		zap.String("msg_topic", msg.Topic()),
		zap.Float64("distancia", m.Distance),
		zap.Float64("ppm", m.Concentration))
	c.sink.Telemetry(m)
}

// current reports whether client is still this channel's live client. Paho
// callbacks may still be in flight after Close.
func (c *Channel) current(client mqtt.Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && client == c.client
}

// Close unsubscribes, disconnects and reports Disconnected. It is safe to call
// on every exit path and more than once; once it returns, paho callbacks for
// the old client are ignored.
func (c *Channel) Close() error {
	c.mu.Lock()
	client := c.client
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	if wasClosed || client == nil {
		return nil
	}

	c.log.Info("disconnecting")
	if client.IsConnectionOpen() {
		if t := client.Unsubscribe(c.cfg.Topic); t != nil {
			t.WaitTimeout(disconnectQuiesceMs * time.Millisecond)
		}
	}
	client.Disconnect(disconnectQuiesceMs)
	c.sink.Status(Disconnected)
	return nil
}

// IsConnected returns whether the underlying client has a live session.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && !c.closed && c.client.IsConnected()
}
