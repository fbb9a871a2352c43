package crosstab

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-sync/internal/model"
)

const (
	storeBusKey    = "seatsync:tabs:queue"
	storeBusTTL    = 30 * time.Second
	storeBusMaxLen = 128
)

// StoreBus is the shared-storage fallback Bus, used when pub/sub
// cannot be established.  Writers append messages to one well-known
// list and clear it once it grows past a cap; readers poll for entries
// past their last-seen index.  The scheme is deliberately lossy under
// bursts (a clear can outrun a slow reader) because every miss is
// bounded by the next authoritative resync.
type StoreBus struct {
	rdb      *redis.Client
	interval time.Duration
	out      chan model.TabMessage
	quit     chan struct{}
}

// NewStoreBus starts a polling bus on the shared queue.  interval
// controls staleness; one second is the usual choice.
func NewStoreBus(rdb *redis.Client, interval time.Duration) *StoreBus {
	if interval <= 0 {
		interval = time.Second
	}
	b := &StoreBus{
		rdb:      rdb,
		interval: interval,
		out:      make(chan model.TabMessage, 32),
		quit:     make(chan struct{}),
	}
	go b.poll()
	return b
}

// Publish implements Bus: write, then clear once the queue is long
// enough that every live reader has had a polling interval to catch up.
func (b *StoreBus) Publish(ctx context.Context, msg model.TabMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	pipe.RPush(ctx, storeBusKey, body)
	pipe.Expire(ctx, storeBusKey, storeBusTTL)
	llen := pipe.LLen(ctx, storeBusKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if llen.Val() > storeBusMaxLen {
		return b.rdb.Del(ctx, storeBusKey).Err()
	}
	return nil
}

func (b *StoreBus) poll() {
	defer close(b.out)
	t := time.NewTicker(b.interval)
	defer t.Stop()
	var next int64 // index of the first unread entry
	for {
		select {
		case <-b.quit:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		n, err := b.rdb.LLen(ctx, storeBusKey).Result()
		if err != nil {
			cancel()
			continue
		}
		if n < next {
			// The queue was cleared since our last read.
			next = 0
		}
		if n == next {
			cancel()
			continue
		}
		entries, err := b.rdb.LRange(ctx, storeBusKey, next, n-1).Result()
		cancel()
		if err != nil {
			continue
		}
		next = n
		for _, raw := range entries {
			var tm model.TabMessage
			if err := json.Unmarshal([]byte(raw), &tm); err != nil {
				log.Printf("crosstab: bad queued tab message: %v", err)
				continue
			}
			select {
			case b.out <- tm:
			default:
				log.Printf("crosstab: tab buffer full, dropping %s %s", tm.Action, tm.SeatID)
			}
		}
	}
}

// Messages implements Bus.
func (b *StoreBus) Messages() <-chan model.TabMessage { return b.out }

// Close implements Bus.
func (b *StoreBus) Close() error {
	select {
	case <-b.quit:
	default:
		close(b.quit)
	}
	return nil
}
