package cache

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetJobStatus(ctx context.Context, jobID int64, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID int64) (string, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// Revoker records job revocations and fans them out to running workers.
type Revoker interface {
	Revoke(ctx context.Context, jobID int64, ttl time.Duration, notify bool) error
	IsRevoked(ctx context.Context, jobID int64) (bool, error)
	SubscribeRevocations(ctx context.Context) (<-chan int64, func() error, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetJobStatus(ctx context.Context, jobID int64, status string, ttl time.Duration) error {
	return c.client.Set(ctx, JobStatusKey(jobID), status, ttl).Err()
}

func (c *RedisCache) GetJobStatus(ctx context.Context, jobID int64) (string, bool, error) {
	val, err := c.client.Get(ctx, JobStatusKey(jobID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Revoke marks jobID as revoked for ttl. The marker covers tasks still sitting
// in the queue. With notify set, subscribed workers are also told to abort the
// job if it is already executing.
func (c *RedisCache) Revoke(ctx context.Context, jobID int64, ttl time.Duration, notify bool) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, RevokedKey(jobID), "1", ttl)
	if notify {
		pipe.Publish(ctx, RevokeChannel, strconv.FormatInt(jobID, 10))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) IsRevoked(ctx context.Context, jobID int64) (bool, error) {
	n, err := c.client.Exists(ctx, RevokedKey(jobID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SubscribeRevocations returns a channel of revoked job ids. The subscription
// is active when it returns. Call the returned close func to stop it; the
// channel is closed afterwards.
func (c *RedisCache) SubscribeRevocations(ctx context.Context) (<-chan int64, func() error, error) {
	ps := c.client.Subscribe(ctx, RevokeChannel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, err
	}

	out := make(chan int64, 16)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			id, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				slog.Warn("ignoring malformed revocation", "payload", msg.Payload)
				continue
			}
			select {
			case out <- id:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, ps.Close, nil
}

var (
	_ Cache   = (*RedisCache)(nil)
	_ Revoker = (*RedisCache)(nil)
)
