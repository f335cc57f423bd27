package rabbitmq

import (
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingAcknowledger struct {
	mu     sync.Mutex
	acks   []uint64
	nacks  []uint64
	queued []bool
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, tag)
	a.queued = append(a.queued, requeue)
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func runDeliveries(t *testing.T, deliveries []amqp.Delivery, handler SettlementHandler) {
	t.Helper()
	consumer := &SettlementConsumer{done: make(chan struct{})}
	feed := make(chan amqp.Delivery, len(deliveries))
	for _, d := range deliveries {
		feed <- d
	}
	close(feed)

	go consumer.deliveryLoop(feed, handler)
	select {
	case <-consumer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery loop did not drain")
	}
}

func TestDeliveryLoopAcksHandledSettlementEvents(t *testing.T) {
	ack := &recordingAcknowledger{}
	var seen [][]byte
	runDeliveries(t, []amqp.Delivery{
		{Acknowledger: ack, DeliveryTag: 1, RoutingKey: SettlementConfirmedKey, Body: []byte(`{"status":"confirmed"}`)},
		{Acknowledger: ack, DeliveryTag: 2, RoutingKey: SettlementFailedKey, Body: []byte(`{"status":"failed"}`)},
	}, func(body []byte) bool {
		seen = append(seen, body)
		return true
	})

	if len(seen) != 2 {
		t.Fatalf("expected handler to see 2 deliveries, saw %d", len(seen))
	}
	if len(ack.acks) != 2 || len(ack.nacks) != 0 {
		t.Fatalf("expected both deliveries acked, got acks=%v nacks=%v", ack.acks, ack.nacks)
	}
}

func TestDeliveryLoopRequeuesDeclinedDeliveries(t *testing.T) {
	ack := &recordingAcknowledger{}
	runDeliveries(t, []amqp.Delivery{
		{Acknowledger: ack, DeliveryTag: 7, RoutingKey: SettlementConfirmedKey, Body: []byte(`{}`)},
	}, func(body []byte) bool {
		return false
	})

	if len(ack.nacks) != 1 || len(ack.acks) != 0 {
		t.Fatalf("expected a single nack, got acks=%v nacks=%v", ack.acks, ack.nacks)
	}
	if !ack.queued[0] {
		t.Fatal("declined delivery should be re-queued")
	}
}

func TestDeliveryLoopDropsUnknownRoutingKeys(t *testing.T) {
	ack := &recordingAcknowledger{}
	handled := false
	runDeliveries(t, []amqp.Delivery{
		{Acknowledger: ack, DeliveryTag: 3, RoutingKey: "settlement.status.unknown", Body: []byte(`{}`)},
	}, func(body []byte) bool {
		handled = true
		return true
	})

	if handled {
		t.Fatal("handler must not run for unknown routing keys")
	}
	if len(ack.acks) != 1 || len(ack.nacks) != 0 {
		t.Fatalf("unknown routing key should be acked and dropped, got acks=%v nacks=%v", ack.acks, ack.nacks)
	}
}
