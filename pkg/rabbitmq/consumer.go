/**
 * @description
 * Settlement status consumer. The settlement collaborator publishes one event
 * per transfer on the platform event exchange once it confirms or fails the
 * on-chain movement; this consumer subscribes to those two routing keys and
 * feeds the payloads to the app-layer handler that rewrites transfer statuses.
 *
 * The delivery loop runs on its own goroutine. Close cancels the server-side
 * consumer first so the loop drains and exits before the channel is torn down.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SettlementEventsExchange is the durable topic exchange the settlement
// collaborator publishes transfer status events on.
const SettlementEventsExchange = "yieldhive.events"

// Routing keys for per-transfer settlement outcomes.
const (
	SettlementConfirmedKey = "settlement.status.confirmed"
	SettlementFailedKey    = "settlement.status.failed"
)

const settlementConsumerTag = "automation-service.settlement-status"

// SettlementHandler processes one settlement status payload. Returning true
// acknowledges the delivery; returning false re-queues it for another attempt.
type SettlementHandler func(body []byte) bool

// SettlementConsumer owns the AMQP connection and channel for the settlement
// status subscription.
type SettlementConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	done    chan struct{}
	started bool
}

// NewSettlementConsumer dials RabbitMQ and opens a channel. Subscribe must be
// called before any deliveries flow.
func NewSettlementConsumer(amqpURL string) (*SettlementConsumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &SettlementConsumer{
		conn:    conn,
		channel: channel,
		done:    make(chan struct{}),
	}, nil
}

// Subscribe declares the settlement exchange and the service's queue, binds
// the confirmed and failed routing keys, and starts the delivery loop.
func (c *SettlementConsumer) Subscribe(queueName string, handler SettlementHandler) error {
	if handler == nil {
		return fmt.Errorf("settlement handler is required")
	}
	if c.started {
		return fmt.Errorf("settlement consumer already subscribed")
	}

	if err := c.channel.ExchangeDeclare(SettlementEventsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", SettlementEventsExchange, err)
	}

	queue, err := c.channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	for _, key := range []string{SettlementConfirmedKey, SettlementFailedKey} {
		if err := c.channel.QueueBind(queue.Name, key, SettlementEventsExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", key, SettlementEventsExchange, err)
		}
	}

	// One status update is a single-row rewrite; a small prefetch keeps
	// re-queued transients from starving fresh deliveries.
	if err := c.channel.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := c.channel.Consume(queue.Name, settlementConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", queue.Name, err)
	}

	c.started = true
	go c.deliveryLoop(deliveries, handler)
	return nil
}

func (c *SettlementConsumer) deliveryLoop(deliveries <-chan amqp.Delivery, handler SettlementHandler) {
	defer close(c.done)
	for delivery := range deliveries {
		switch delivery.RoutingKey {
		case SettlementConfirmedKey, SettlementFailedKey:
			if handler(delivery.Body) {
				delivery.Ack(false)
			} else {
				log.Printf("level=warn component=settlement_consumer routing_key=%s msg=\"handler declined; re-queuing\"", delivery.RoutingKey)
				delivery.Nack(false, true)
			}
		default:
			// A stray binding or a fat-fingered publish; drop it rather
			// than let it cycle forever.
			log.Printf("level=warn component=settlement_consumer routing_key=%s msg=\"unexpected routing key; dropping\"", delivery.RoutingKey)
			delivery.Ack(false)
		}
	}
}

// Close cancels the subscription, waits for the delivery loop to drain, and
// tears down the channel and connection.
func (c *SettlementConsumer) Close() {
	if c.channel != nil {
		if c.started {
			if err := c.channel.Cancel(settlementConsumerTag, false); err != nil {
				log.Printf("level=warn component=settlement_consumer msg=\"consumer cancel failed\" err=%v", err)
			}
		}
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if c.started {
		<-c.done
	}
}
