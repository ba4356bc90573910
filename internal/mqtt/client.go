package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Availability payloads published retained on the status topic
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Client owns the broker connection and the backend's availability flag.
// Subscriber and Publisher work on the native client it exposes.
type Client struct {
	client mqtt.Client
	config ClientConfig
	logger *slog.Logger
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// StatusTopic receives a retained "online" on connect and "offline" on
	// close; the broker publishes "offline" as our will if we vanish.
	StatusTopic    string
	ConnectTimeout time.Duration

	// OnConnect runs after every (re)connect, e.g. to restore subscriptions
	OnConnect func()
}

// NewClient creates a new MQTT client connection
func NewClient(config ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "mqtt"))

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		logger.Debug("unhandled message", slog.String("topic", msg.Topic()))
	})
	if config.StatusTopic != "" {
		opts.SetWill(config.StatusTopic, StatusOffline, 1, true)
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("connection established", slog.String("broker", config.Broker))
		if config.StatusTopic != "" {
			// Not waited on: blocking inside a paho handler stalls the client
			c.Publish(config.StatusTopic, 1, true, StatusOnline)
		}
		if config.OnConnect != nil {
			config.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", slog.Any("error", err))
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts.SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timed out after %s", config.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return &Client{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// GetNativeClient returns the underlying paho client for Subscriber and Publisher
func (c *Client) GetNativeClient() mqtt.Client {
	return c.client
}

// IsConnected backs the broker entry of the health endpoint
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close marks the backend offline and disconnects. A clean disconnect
// suppresses the will, so the offline flag is published explicitly.
func (c *Client) Close() {
	if c.config.StatusTopic != "" && c.client.IsConnected() {
		token := c.client.Publish(c.config.StatusTopic, 1, true, StatusOffline)
		if !token.WaitTimeout(time.Second) || token.Error() != nil {
			c.logger.Warn("failed to publish offline status", slog.Any("error", token.Error()))
		}
	}
	c.client.Disconnect(250)
	c.logger.Info("disconnected")
}
