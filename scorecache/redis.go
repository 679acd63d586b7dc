package scorecache

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/greynewell/intentd/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// KeyPrefix namespaces entries in a shared Redis.
const KeyPrefix = "intentd:scores:"

// RedisOptions configures a Redis cache.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	TTL         time.Duration
	DialTimeout time.Duration
}

// Redis stores score sets as JSON strings with an expiry, so replicas of
// the gateway share one cache.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates the client. No connection is made until first use.
func NewRedis(opts RedisOptions) *Redis {
	dial := opts.DialTimeout
	if dial <= 0 {
		dial = time.Second
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:         opts.Addr,
			Password:     opts.Password,
			DB:           opts.DB,
			DialTimeout:  dial,
			ReadTimeout:  dial,
			WriteTimeout: dial,
		}),
		ttl: ttlOrDefault(opts.TTL),
	}
}

// Ping checks the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(errors.CodeUnavailable, err, "redis ping")
	}
	return nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (map[string]float64, bool, error) {
	data, err := r.client.Get(ctx, KeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.CodeUnavailable, err, "redis get")
	}
	var scores map[string]float64
	if err := json.Unmarshal(data, &scores); err != nil {
		return nil, false, errors.Wrap(errors.CodeProtocol, err, "decode cached scores")
	}
	if scores == nil {
		scores = map[string]float64{}
	}
	return scores, true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, scores map[string]float64) error {
	data, err := json.Marshal(scores)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "encode scores")
	}
	if err := r.client.Set(ctx, KeyPrefix+key, data, r.ttl).Err(); err != nil {
		return errors.Wrap(errors.CodeUnavailable, err, "redis set")
	}
	return nil
}

// Close implements Cache.
func (r *Redis) Close() error {
	return r.client.Close()
}
