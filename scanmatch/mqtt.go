package scanmatch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MapHandler is called for every map payload received on a robot's map
// topic. m is nil when decoding failed.
type MapHandler func(robotID string, m *ValetudoMap, err error)

// ScanHandler is called for every scan request received on a robot's scan
// topic. req is nil when decoding failed.
type ScanHandler func(robotID string, req *ScanRequest, err error)

// MQTTClient subscribes to the map and scan topics of every configured robot
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	onMap       MapHandler
	onScan      ScanHandler
	logger      *zap.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu          sync.RWMutex
	isConnected bool
}

// envOr returns the environment variable if set, otherwise value
func envOr(key, value string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return value
}

// MQTTBroker returns the broker URL, MQTT_BROKER taking precedence over the
// config. An empty result means MQTT is disabled.
func MQTTBroker(cfg *Config) string {
	broker := ""
	if cfg != nil {
		broker = cfg.MQTT.Broker
	}
	return envOr("MQTT_BROKER", broker)
}

// NewMQTTClient builds a paho client from the configuration. It returns
// nil, nil when no broker is configured. The connection is opened by Run.
func NewMQTTClient(cfg *Config, onMap MapHandler, onScan ScanHandler, logger *zap.Logger) (*MQTTClient, error) {
	broker := MQTTBroker(cfg)
	if broker == "" {
		orNop(logger).Info("MQTT disabled: no broker configured")
		return nil, nil
	}
	if len(cfg.Robots) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no robots configured")
	}

	c := NewMQTTClientWith(nil, cfg, onMap, onScan, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(envOr("MQTT_CLIENT_ID", cfg.MQTT.ClientID))
	if username := envOr("MQTT_USERNAME", cfg.MQTT.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", cfg.MQTT.Password))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.logger.Info("MQTT reconnecting")
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// NewMQTTClientWith wraps an existing mqtt.Client. The caller is responsible
// for calling OnConnect once the client is connected, NewMQTTClient wires it
// as the paho connect handler.
func NewMQTTClientWith(client mqtt.Client, cfg *Config, onMap MapHandler, onScan ScanHandler, logger *zap.Logger) *MQTTClient {
	return &MQTTClient{
		client:      client,
		config:      cfg,
		onMap:       onMap,
		onScan:      onScan,
		logger:      orNop(logger).With(zap.String("component", "mqtt")),
		baseBackoff: time.Second,
		maxBackoff:  60 * time.Second,
	}
}

// Run connects with exponential backoff and blocks until ctx is done, then
// disconnects.
func (c *MQTTClient) Run(ctx context.Context) error {
	if err := c.connectWithRetry(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.Disconnect()
	return nil
}

func (c *MQTTClient) connectWithRetry(ctx context.Context) error {
	delay := c.baseBackoff
	for {
		c.logger.Info("connecting to MQTT broker")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.logger.Info("connected to MQTT broker")
				c.setConnected(true)
				return nil
			}
			c.logger.Warn("MQTT connection failed", zap.Error(token.Error()), zap.Duration("retry_in", delay))
		} else {
			c.logger.Warn("MQTT connection timeout", zap.Duration("retry_in", delay))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, c.maxBackoff)
	}
}

// OnConnect subscribes to every robot's map and scan topic
func (c *MQTTClient) OnConnect(client mqtt.Client) {
	c.onConnect(client)
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	for _, rc := range c.config.Robots {
		c.subscribe(client, rc.MapTopic, rc.ID, c.mapMessageHandler(rc.ID))
		c.subscribe(client, rc.ScanTopic, rc.ID, c.scanMessageHandler(rc.ID))
	}
}

func (c *MQTTClient) subscribe(client mqtt.Client, topic, robotID string, h mqtt.MessageHandler) {
	if topic == "" {
		return
	}
	token := client.Subscribe(topic, 0, h)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.logger.Error("subscribe failed", zap.String("topic", topic), zap.String("robot", robotID), zap.Error(token.Error()))
		return
	}
	c.logger.Info("subscribed", zap.String("topic", topic), zap.String("robot", robotID))
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection lost, auto-reconnect will retry", zap.Error(err))
	c.setConnected(false)
}

func (c *MQTTClient) mapMessageHandler(robotID string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		c.logger.Debug("map payload received",
			zap.String("robot", robotID), zap.String("topic", msg.Topic()), zap.Int("bytes", len(payload)))

		m, err := DecodeMapData(payload)
		if err != nil {
			c.logger.Warn("decoding map failed", zap.String("robot", robotID), zap.Error(err))
		}
		if c.onMap != nil {
			c.onMap(robotID, m, err)
		}
	}
}

func (c *MQTTClient) scanMessageHandler(robotID string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		req, err := ParseScanRequest(msg.Payload())
		if err == nil {
			switch req.RobotID {
			case "":
				req.RobotID = robotID
			case robotID:
			default:
				err = fmt.Errorf("%w: scan for %s received on %s topic", ErrInvalidScan, req.RobotID, robotID)
				req = nil
			}
		} else {
			req = nil
		}
		if err != nil {
			c.logger.Warn("decoding scan failed", zap.String("robot", robotID), zap.Error(err))
		}
		if c.onScan != nil {
			c.onScan(robotID, req, err)
		}
	}
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

// Disconnect closes the connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}

// Client returns the underlying client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}
