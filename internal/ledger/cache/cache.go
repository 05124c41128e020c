// Package cache puts a redis read-through cache in front of Registry.Lookup.
//
// Only present records are cached. Records never change once issued, so a
// cached entry cannot go stale; absence and trust state are always read from
// the ledger.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"certledger.org/internal/fingerprint"
	"certledger.org/internal/ledger"
	"certledger.org/internal/obs"
)

const keyPrefix = "certledger:record:"

// kv is the subset of *redis.Client the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Registry wraps a ledger.Registry; every method but Lookup passes straight through.
type Registry struct {
	ledger.Registry
	client kv
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewClient dials redis at addr.
func NewClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
}

// New wraps reg. A zero ttl keeps entries until evicted.
func New(reg ledger.Registry, client kv, ttl time.Duration, log logrus.FieldLogger) *Registry {
	if log == nil {
		log = obs.Logger()
	}
	return &Registry{Registry: reg, client: client, ttl: ttl, log: log}
}

func (r *Registry) Lookup(ctx context.Context, hash fingerprint.Fingerprint) (ledger.Record, bool, error) {
	key := keyPrefix + hash.Hex()

	data, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rec ledger.Record
		if jerr := json.Unmarshal(data, &rec); jerr == nil && rec.Hash == hash {
			return rec, true, nil
		}
		r.log.WithField("key", key).Warn("discarding malformed cache entry")
	case errors.Is(err, redis.Nil):
	default:
		r.log.WithError(err).Warn("lookup cache read failed")
	}

	rec, ok, err := r.Registry.Lookup(ctx, hash)
	if err != nil || !ok {
		return rec, ok, err
	}
	if data, err := json.Marshal(rec); err == nil {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.log.WithError(err).Warn("lookup cache write failed")
		}
	}
	return rec, true, nil
}

// Ping reports whether redis is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
