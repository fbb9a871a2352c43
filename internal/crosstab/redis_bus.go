package crosstab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-sync/internal/model"
)

// tabChannel is the shared broadcast channel.  Messages carry their
// show and origin IDs, so one channel serves every context; the
// synchronizer filters.
const tabChannel = "seatsync:tabs"

// RedisBus is the primary Bus: plain Redis pub/sub.  Delivery is
// at-most-once, which is fine here because cross-context messages are
// advisory; the authoritative snapshot corrects any miss.
type RedisBus struct {
	rdb *redis.Client
	ps  *redis.PubSub
	out chan model.TabMessage
}

// NewRedisBus subscribes to the broadcast channel.  When the subscribe
// fails (some proxies restrict pub/sub commands), callers should fall
// back to NewStoreBus on the same client.
func NewRedisBus(ctx context.Context, rdb *redis.Client) (*RedisBus, error) {
	ps := rdb.Subscribe(ctx, tabChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe tab channel: %w", err)
	}
	b := &RedisBus{rdb: rdb, ps: ps, out: make(chan model.TabMessage, 32)}
	go b.pump()
	return b, nil
}

func (b *RedisBus) pump() {
	defer close(b.out)
	for msg := range b.ps.Channel() {
		var tm model.TabMessage
		if err := json.Unmarshal([]byte(msg.Payload), &tm); err != nil {
			log.Printf("crosstab: bad tab message: %v", err)
			continue
		}
		select {
		case b.out <- tm:
		default:
			log.Printf("crosstab: tab buffer full, dropping %s %s", tm.Action, tm.SeatID)
		}
	}
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, msg model.TabMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, tabChannel, body).Err()
}

// Messages implements Bus.
func (b *RedisBus) Messages() <-chan model.TabMessage { return b.out }

// Close implements Bus.
func (b *RedisBus) Close() error { return b.ps.Close() }
