package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"callguard/pkg/metrics"
)

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL            string
	ExchangeName   string
	ExchangeType   string
	Durable        bool
	PublishTimeout time.Duration
}

// AMQPClient handles AMQP connections and message publishing
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.ExchangeType == "" {
		config.ExchangeType = amqp.ExchangeTopic
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	config.Durable = true

	return &AMQPClient{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes a connection to the AMQP server and declares the exchange
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if c.config.URL == "" || c.config.ExchangeName == "" {
		return fmt.Errorf("AMQP URL or exchange not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}
	connChan := make(chan dialResult, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- dialResult{conn, err}:
		}
	}()

	var result dialResult
	select {
	case result = <-connChan:
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}
	if result.err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", result.err)
	}
	conn := result.conn

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		c.config.ExchangeName,
		c.config.ExchangeType,
		c.config.Durable, // Durable
		false,            // Auto-delete
		false,            // Internal
		false,            // No-wait
		nil,              // Arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP exchange: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	metrics.SetAMQPConnectionStatus(true)

	c.logger.WithFields(logrus.Fields{
		"exchange": c.config.ExchangeName,
		"type":     c.config.ExchangeType,
	}).Info("Connected to AMQP server")

	// Create a new stop channel (in case this is a reconnect)
	c.stopChan = make(chan struct{})
	go c.monitorConnection(conn, c.stopChan)

	return nil
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	metrics.SetAMQPConnectionStatus(false)
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// Publish sends payload as a persistent JSON message to the exchange
func (c *AMQPClient) Publish(ctx context.Context, routingKey string, payload interface{}) (err error) {
	// Recover from any panics to prevent AMQP issues from crashing the server
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"routing_key": routingKey,
				"recover":     r,
			}).Error("Recovered from panic in AMQP Publish")
			err = fmt.Errorf("AMQP publish panicked: %v", r)
		}
		status := "success"
		if err != nil {
			status = "failed"
		}
		metrics.RecordAMQPPublish(routingKey, status)
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	c.connMutex.RLock()
	connected, channel := c.connected, c.channel
	c.connMutex.RUnlock()

	if !connected || channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.PublishTimeout)
	defer cancel()

	publishChan := make(chan error, 1)
	go func() {
		publishChan <- channel.Publish(
			c.config.ExchangeName, // Exchange
			routingKey,            // Routing key
			false,                 // Mandatory
			false,                 // Immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
	}()

	select {
	case err := <-publishChan:
		if err != nil {
			return fmt.Errorf("failed to publish to AMQP: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("publishing to AMQP timed out: %w", ctx.Err())
	}

	c.logger.WithField("routing_key", routingKey).Debug("Published message to AMQP")
	return nil
}

// monitorConnection watches the connection and reconnects with backoff when it closes
func (c *AMQPClient) monitorConnection(conn *amqp.Connection, stop chan struct{}) {
	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-stop:
		return
	case closeErr := <-closeChan:
		c.connMutex.Lock()
		c.connected = false
		c.connMutex.Unlock()
		metrics.SetAMQPConnectionStatus(false)

		c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

		for attempt := 1; attempt <= 10; attempt++ {
			select {
			case <-stop:
				return
			default:
			}

			c.logger.WithField("attempt", attempt).Info("Reconnecting to AMQP server")
			if err := c.Connect(); err == nil {
				c.logger.Info("Successfully reconnected to AMQP server")
				return
			} else {
				c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")
			}

			// Exponential backoff with max delay of 30 seconds
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			time.Sleep(backoff)
		}
	}
}
