package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

const (
	keyPrefix     = "stock:"
	channelPrefix = "prices."
	usersKey      = "watchlist:users"
	snapshotTTL   = 1 * time.Hour
)

// Compile-time checks
var (
	_ UserStore  = (*RedisStore)(nil)
	_ TickMirror = (*RedisStore)(nil)
)

// RedisStore keeps users in a single hash (field = email, value = JSON record)
// and can mirror ticks as a latest-value key plus a pubsub message.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) LoadUsers(ctx context.Context) ([]models.UserRecord, error) {
	fields, err := r.client.HGetAll(ctx, usersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", usersKey, err)
	}

	records := make([]models.UserRecord, 0, len(fields))
	for email, payload := range fields {
		var rec models.UserRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", email, err)
		}
		rec.Email = email
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Email < records[j].Email })
	return records, nil
}

// SaveUsers replaces the hash in one MULTI/EXEC so readers see either the old
// or the new state.
func (r *RedisStore) SaveUsers(ctx context.Context, records []models.UserRecord) error {
	values := make([]interface{}, 0, 2*len(records))
	for _, rec := range records {
		if rec.Subscriptions == nil {
			rec.Subscriptions = []string{}
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode user %s: %w", rec.Email, err)
		}
		values = append(values, rec.Email, payload)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, usersKey)
		if len(values) > 0 {
			pipe.HSet(ctx, usersKey, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

// PublishTick stores the latest tick under stock:<SYM> and publishes it on
// prices.<SYM> in a single pipeline.
func (r *RedisStore) PublishTick(ctx context.Context, update models.StockUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, keyPrefix+update.Symbol, payload, snapshotTTL) // TTL prevents stale tickers lingering
	pipe.Publish(ctx, channelPrefix+update.Symbol, payload)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
