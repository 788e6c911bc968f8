// Package messaging is the broker glue for asynchronous dispatch: the
// API surface publishes dispatch tasks, the worker consumes them.
package messaging

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DispatchQueue carries requests to run the delivery queue.
const DispatchQueue = "certrail.dispatch"

// Config holds connection parameters for the RabbitMQ client.
type Config struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HeartbeatTimeout  time.Duration
}

type Client struct {
	config Config
	conn   *amqp.Connection
	ch     *amqp.Channel
	mu     sync.RWMutex

	notifyConnClose chan *amqp.Error
	isReconnecting  bool
	isClosed        bool
}

func NewClient(config Config) (*Client, error) {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.MaxReconnectDelay == 0 {
		config.MaxReconnectDelay = 60 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 10 * time.Second
	}

	client := &Client{config: config}
	if err := client.connect(); err != nil {
		return nil, err
	}
	go client.handleReconnect()
	return client, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	log.Printf("Connecting to RabbitMQ at %s", maskURL(c.config.URL))
	conn, err := amqp.DialConfig(c.config.URL, amqp.Config{
		Heartbeat: c.config.HeartbeatTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.ch = ch
	c.notifyConnClose = make(chan *amqp.Error)
	c.conn.NotifyClose(c.notifyConnClose)
	c.isReconnecting = false
	return nil
}

func (c *Client) handleReconnect() {
	c.mu.RLock()
	if c.isClosed {
		c.mu.RUnlock()
		return
	}
	notifyClose := c.notifyConnClose
	c.mu.RUnlock()

	if err := <-notifyClose; err != nil {
		log.Printf("RabbitMQ connection closed: %v, reconnecting", err)
		c.reconnect()
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.isReconnecting = true
	c.mu.Unlock()

	backoff := c.config.ReconnectDelay
	for {
		c.mu.RLock()
		closed := c.isClosed
		c.mu.RUnlock()
		if closed {
			return
		}

		if err := c.connect(); err == nil {
			go c.handleReconnect()
			return
		}

		time.Sleep(backoff)
		backoff *= 2
		if backoff > c.config.MaxReconnectDelay {
			backoff = c.config.MaxReconnectDelay
		}
	}
}

// DeclareQueue declares a durable queue.
func (c *Client) DeclareQueue(name string) (amqp.Queue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ch == nil {
		return amqp.Queue{}, fmt.Errorf("channel is not initialized")
	}
	return c.ch.QueueDeclare(name, true, false, false, false, nil)
}

// Publish sends a JSON body to the named queue.
func (c *Client) Publish(ctx context.Context, queueName string, body []byte) error {
	c.mu.RLock()
	if c.isReconnecting || c.ch == nil {
		c.mu.RUnlock()
		return fmt.Errorf("connection is not available")
	}
	ch := c.ch
	c.mu.RUnlock()

	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// ConsumeWithContext delivers queue messages to handler until ctx ends.
// Handler errors nack-and-requeue the message.
func (c *Client) ConsumeWithContext(ctx context.Context, queueName string, handler func(body []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.mu.RLock()
		if c.isReconnecting || c.ch == nil {
			c.mu.RUnlock()
			time.Sleep(time.Second)
			continue
		}
		ch := c.ch
		c.mu.RUnlock()

		msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
		if err != nil {
			log.Printf("failed to register consumer: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}

		open := true
		for open {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-msgs:
				if !ok {
					// Channel closed, likely connection lost.
					log.Printf("consumer channel closed for %s, waiting for reconnection", queueName)
					time.Sleep(c.config.ReconnectDelay)
					open = false
					continue
				}
				if err := handler(d.Body); err != nil {
					log.Printf("error handling message: %v", err)
					d.Nack(false, true)
				} else {
					d.Ack(false)
				}
			}
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isClosed = true
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && !c.isReconnecting
}

func maskURL(url string) string {
	if parts := strings.Split(url, "@"); len(parts) > 1 {
		if prefixParts := strings.Split(parts[0], "://"); len(prefixParts) == 2 {
			return prefixParts[0] + "://***:***@" + parts[1]
		}
	}
	return url
}
