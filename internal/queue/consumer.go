package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const lifecycleQueueName = "booking.lifecycle"

// Sink receives decoded lifecycle events.  Implemented by the
// coordinator (confirmations) and routed through it for cancellations,
// which force a full resync because a cancellation can free any number
// of seats at once.
type Sink interface {
	ShowID() string
	ApplyBookingConfirmed(showID string, seatIDs []string, userID string)
	ForceResync(reason string)
}

// Notifier lets the consumer tell sibling viewing contexts about a
// cancellation so they resync too.  May be nil.
type Notifier interface {
	AnnounceCancel(showID string)
}

// Consumer drains booking.lifecycle and applies each event to the
// sink.  It reconnects forever with doubling backoff and never gives
// up; a missed event is always recoverable by the next resync.
type Consumer struct {
	url      string
	sink     Sink
	notifier Notifier
	quit     chan struct{}
}

// NewConsumer builds a Consumer for the given broker URL.  notifier
// may be nil.
func NewConsumer(url string, sink Sink, notifier Notifier) *Consumer {
	return &Consumer{url: url, sink: sink, notifier: notifier, quit: make(chan struct{})}
}

// Start launches the consume loop in the background.
func (c *Consumer) Start() { go c.run() }

// Close stops the consume loop.  Safe to call once.
func (c *Consumer) Close() { close(c.quit) }

func (c *Consumer) run() {
	backoff := time.Second
	for {
		select {
		case <-c.quit:
			return
		default:
		}

		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Printf("lifecycle-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-c.quit:
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(conn)
		_ = conn.Close()
		select {
		case <-c.quit:
			return
		default:
		}
		log.Printf("lifecycle-consumer: consume loop ended: %v; reconnecting", err)
		select {
		case <-time.After(2 * time.Second):
		case <-c.quit:
			return
		}
	}
}

func (c *Consumer) consumeLoop(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("lifecycle-consumer: set QoS failed: %v", err)
	}

	_, err = ch.QueueDeclare(lifecycleQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(lifecycleQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-c.quit:
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(d.Body); err != nil {
				log.Printf("lifecycle-consumer: handle message failed: %v", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(body []byte) error {
	var ev BookingLifecycleEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.ShowID == "" || ev.ShowID != c.sink.ShowID() {
		return nil // not our show
	}

	switch ev.Event {
	case EventBookingConfirmed:
		c.sink.ApplyBookingConfirmed(ev.ShowID, ev.SeatIDs, ev.UserID)
	case EventBookingCancelled:
		// A cancellation frees an unknown set of seats; resync rather
		// than guess.
		c.sink.ForceResync("booking " + ev.BookingID + " cancelled")
		if c.notifier != nil {
			c.notifier.AnnounceCancel(ev.ShowID)
		}
	default:
		return fmt.Errorf("unknown event kind %q", ev.Event)
	}
	return nil
}
