package waste

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
)

// RefreshHandler is called when a refresh command arrives on the command topic.
type RefreshHandler func()

// MQTTClient manages the broker connection used to publish events and to
// receive refresh commands on {prefix}/cmd/refresh.
type MQTTClient struct {
	client         mqtt.Client
	prefix         string
	log            logr.Logger
	refreshHandler RefreshHandler
	isConnected    bool
	mu             sync.RWMutex
}

// NewMQTTClient creates a client for the configured broker and starts
// connecting in the background until ctx is done. It returns nil, nil when
// no broker is configured.
func NewMQTTClient(ctx context.Context, cfg MQTTConfig, log logr.Logger) (*MQTTClient, error) {
	if cfg.Broker == "" {
		log.Info("MQTT disabled: no broker configured")
		return nil, nil
	}
	if cfg.PublishPrefix == "" {
		return nil, fmt.Errorf("MQTT enabled but publish prefix is empty")
	}

	c := &MQTTClient{
		prefix: cfg.PublishPrefix,
		log:    log.WithName("mqtt"),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "recicla"
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)

	go c.connectWithRetry(ctx)

	return c, nil
}

// newMQTTClientWithMock wraps a provided mqtt.Client; used by tests.
func newMQTTClientWithMock(client mqtt.Client, prefix string) *MQTTClient {
	return &MQTTClient{
		client: client,
		prefix: prefix,
		log:    logr.Discard(),
	}
}

// connectWithRetry connects with exponential backoff until success or ctx is done.
func (c *MQTTClient) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.log.Info("connecting to broker")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.log.Info("connected to broker")
				c.setConnected(true)
				return
			}
			c.log.Error(token.Error(), "connection failed")
		} else {
			c.log.Info("connection timeout")
		}

		c.log.Info("retrying connection", "delay", retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay = min(retryDelay*2, maxRetryDelay)
	}
}

// RefreshTopic is the topic on which refresh commands are received.
func (c *MQTTClient) RefreshTopic() string {
	return c.prefix + "/cmd/refresh"
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.RefreshTopic()
	token := client.Subscribe(topic, 0, c.handleRefresh)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.log.Error(token.Error(), "subscribe failed", "topic", topic)
		return
	}
	c.log.Info("subscribed", "topic", topic)
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	c.log.Error(err, "connection interrupted, auto-reconnect will retry")
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.log.Info("reconnecting")
}

func (c *MQTTClient) handleRefresh(client mqtt.Client, msg mqtt.Message) {
	c.log.Info("refresh command received", "topic", msg.Topic(), "bytes", len(msg.Payload()))
	if h := c.getRefreshHandler(); h != nil {
		h()
	}
}

// SetRefreshHandler registers the callback for refresh commands.
func (c *MQTTClient) SetRefreshHandler(handler RefreshHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshHandler = handler
}

func (c *MQTTClient) getRefreshHandler() RefreshHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshHandler
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.log.Info("disconnecting from broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}
