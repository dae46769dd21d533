package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	MQTT "github.com/eclipse/paho.mqtt.golang"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
	publishWait   = time.Second
)

// ErrNotConnected is returned by Publish while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt: not connected")

// Options configure a Client.
type Options struct {
	Broker   string // tcp://[user[:pw]@]host:port
	ClientID string
	// StatusTopic receives a retained "online" on connect and "offline" as
	// last will. Empty disables it.
	StatusTopic string
	Logger      *log.Logger
}

// Client publishes transfer events to an MQTT broker.
type Client struct {
	pahoClient  pahoClient
	brokerURL   string
	clientID    string
	statusTopic string
	user, pw    string
	logger      *log.Logger
}

// NewClient prepares a client; Connect starts the connection.
func NewClient(o Options) (*Client, error) {
	if o.Broker == "" {
		return nil, errors.New("mqtt: empty broker url")
	}
	logger := o.Logger
	if logger == nil {
		logger = log.Default()
	}
	url, user, pw, err := splitCredentials(o.Broker)
	if err != nil {
		return nil, err
	}
	c := &Client{
		brokerURL:   url,
		clientID:    o.ClientID,
		statusTopic: o.StatusTopic,
		user:        user,
		pw:          pw,
		logger:      logger.WithPrefix("mqtt"),
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(c.brokerURL)
	opts.SetClientID(c.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetCleanSession(true)
	if c.user != "" {
		opts.SetUsername(c.user)
	}
	if c.pw != "" {
		opts.SetPassword(c.pw)
	}
	if c.statusTopic != "" {
		opts.SetWill(c.statusTopic, statusOffline, 0, true)
	}
	opts.SetConnectionLostHandler(c.connectionLostHandler)
	opts.SetOnConnectHandler(c.onConnectHandler)

	c.pahoClient = MQTT.NewClient(opts)
	return c, nil
}

// splitCredentials removes user and password from a broker URL of the form
// scheme://user:pw@host:port.
func splitCredentials(broker string) (url, user, pw string, err error) {
	scheme := "tcp://"
	rest := broker
	if i := strings.Index(broker, "://"); i != -1 {
		scheme, rest = broker[:i+3], broker[i+3:]
	}
	userPassword, host, found := strings.Cut(rest, "@")
	if !found {
		return scheme + rest, "", "", nil
	}
	if host == "" {
		return "", "", "", fmt.Errorf("mqtt: invalid broker url %q", broker)
	}
	user, pw, _ = strings.Cut(userPassword, ":")
	return scheme + host, user, pw, nil
}

// Connect starts the connection in the background. Paho keeps retrying until
// Disconnect.
func (c *Client) Connect() {
	if c.user != "" {
		c.logger.Info("connecting", "broker", c.brokerURL, "user", c.user)
	} else {
		c.logger.Info("connecting", "broker", c.brokerURL)
	}
	go func() {
		if token := c.pahoClient.Connect(); token.Wait() && token.Error() != nil {
			c.logger.Warn("initial connection attempt failed, retrying", "err", token.Error())
		}
	}()
}

func (c *Client) onConnectHandler(MQTT.Client) {
	c.logger.Info("connection established", "broker", c.brokerURL)
	if c.statusTopic != "" {
		c.PublishRetained(c.statusTopic, statusOnline)
	}
}

func (c *Client) connectionLostHandler(_ MQTT.Client, err error) {
	c.logger.Warn("connection lost, reconnecting", "err", err)
}

// Publish sends a non-retained QoS 0 message. Delivery errors are logged
// asynchronously.
func (c *Client) Publish(topic, payload string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.publish(topic, payload, false)
	return nil
}

// PublishRetained sends a retained QoS 0 message.
func (c *Client) PublishRetained(topic, payload string) {
	c.publish(topic, payload, true)
}

func (c *Client) publish(topic, payload string, retained bool) {
	c.logger.Debug("publish", "topic", topic, "retained", retained, "payload", payload)
	token := c.pahoClient.Publish(topic, 0, retained, payload)
	go func(t MQTT.Token) {
		if t.WaitTimeout(publishWait) && t.Error() != nil {
			c.logger.Error("publish failed", "topic", topic, "err", t.Error())
		}
	}(token)
}

// Disconnect marks the client offline and closes the connection.
func (c *Client) Disconnect() {
	if !c.IsConnected() {
		return
	}
	if c.statusTopic != "" {
		t := c.pahoClient.Publish(c.statusTopic, 0, true, statusOffline)
		t.WaitTimeout(publishWait)
	}
	c.pahoClient.Disconnect(500)
	c.logger.Info("disconnected")
}

// IsConnected checks connection status.
func (c *Client) IsConnected() bool {
	return c.pahoClient != nil && c.pahoClient.IsConnected()
}
