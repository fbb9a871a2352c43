package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-sync/internal/model"
)

// RedisStore keeps each session record in one hash keyed by
// (show, user), one field per seat.  A store is bound to one user at
// construction; one engine process acts for exactly one user, and the
// binding guarantees no call can ever touch another user's record.
// The hash expires a while after the furthest hold expiry so
// abandoned records clean themselves up.
type RedisStore struct {
	rdb    *redis.Client
	userID string
}

// NewRedisStore wraps an existing client for the given user.
func NewRedisStore(rdb *redis.Client, userID string) *RedisStore {
	return &RedisStore{rdb: rdb, userID: userID}
}

func redisRecordKey(showID, userID string) string {
	return fmt.Sprintf("seatsync:session:%s:%s", showID, userID)
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, hold model.Hold) error {
	body, err := json.Marshal(hold)
	if err != nil {
		return fmt.Errorf("%w: encode hold: %v", ErrStorage, err)
	}
	key := redisRecordKey(hold.ShowID, hold.UserID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, hold.SeatID, body)
	ttl := time.Until(hold.ExpiresAt) + time.Hour
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: save %s: %v", ErrStorage, hold.SeatID, err)
	}
	return nil
}

// Remove implements Store.  The bound user makes the delete exact;
// other users' records live under different keys and are never
// touched.
func (s *RedisStore) Remove(ctx context.Context, showID, seatID string) error {
	key := redisRecordKey(showID, s.userID)
	if err := s.rdb.HDel(ctx, key, seatID).Err(); err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrStorage, seatID, err)
	}
	return nil
}

// List implements Store, lazily purging expired holds from the hash
// before returning.  A request for a different user than the bound
// one yields nothing rather than someone else's holds.
func (s *RedisStore) List(ctx context.Context, showID, userID string) ([]model.Hold, error) {
	if userID != s.userID {
		return nil, nil
	}
	key := redisRecordKey(showID, userID)
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrStorage, showID, err)
	}
	now := time.Now().UTC()
	out := make([]model.Hold, 0, len(fields))
	var expired []string
	for seat, raw := range fields {
		var h model.Hold
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			expired = append(expired, seat)
			continue
		}
		if h.Expired(now) {
			expired = append(expired, seat)
			continue
		}
		out = append(out, h)
	}
	if len(expired) > 0 {
		_ = s.rdb.HDel(ctx, key, expired...).Err()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out, nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, showID, userID string) error {
	if userID != s.userID {
		return nil
	}
	if err := s.rdb.Del(ctx, redisRecordKey(showID, userID)).Err(); err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrStorage, showID, err)
	}
	return nil
}
