package journal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dontdude/walq/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisJournal implements domain.Journal on a Redis Stream.
// Durability follows the server's persistence settings (appendonly + appendfsync).
type RedisJournal struct {
	client *redis.Client
	stream string
}

// Ensure RedisJournal satisfies the interface
var _ domain.Journal = (*RedisJournal)(nil)

// OpenRedis connects to addr and verifies the connection with a ping.
func OpenRedis(ctx context.Context, addr, stream string) (*RedisJournal, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisJournal(rdb, stream), nil
}

// NewRedisJournal wraps an existing client.
func NewRedisJournal(client *redis.Client, stream string) *RedisJournal {
	return &RedisJournal{client: client, stream: stream}
}

// Append adds rec to the stream using XADD.
func (r *RedisJournal) Append(ctx context.Context, rec domain.Record) error {
	if _, err := EncodeLine(rec); err != nil {
		return err
	}
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"op":      string(rec.Op),
			"id":      strconv.FormatUint(rec.ID, 10),
			"payload": rec.Payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis journal append failed: %w", err)
	}
	return nil
}

// Replay reads the whole stream with XRANGE.
func (r *RedisJournal) Replay(ctx context.Context, fn func(domain.Record) error) error {
	msgs, err := r.client.XRange(ctx, r.stream, "-", "+").Result()
	if err != nil {
		return fmt.Errorf("redis journal replay failed: %w", err)
	}
	for _, msg := range msgs {
		rec, err := redisRecord(msg)
		if err != nil {
			return fmt.Errorf("redis journal entry %s: %w", msg.ID, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func redisRecord(msg redis.XMessage) (domain.Record, error) {
	op, _ := msg.Values["op"].(string)
	idText, _ := msg.Values["id"].(string)
	payload, _ := msg.Values["payload"].(string)

	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: bad id %q", ErrMalformedRecord, idText)
	}
	switch domain.Op(op) {
	case domain.OpAdd:
		if payload == "" {
			return domain.Record{}, fmt.Errorf("%w: ADD without payload", ErrMalformedRecord)
		}
		return domain.Record{Op: domain.OpAdd, ID: id, Payload: payload}, nil
	case domain.OpDone:
		return domain.Record{Op: domain.OpDone, ID: id}, nil
	default:
		return domain.Record{}, fmt.Errorf("%w: unknown op %q", ErrMalformedRecord, op)
	}
}

func (r *RedisJournal) Close() error {
	return r.client.Close()
}
