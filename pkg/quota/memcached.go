package quota

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"
)

// memcacheClient is the slice of *memcache.Client the store relies on.
type memcacheClient interface {
	Increment(key string, delta uint64) (uint64, error)
	Add(item *memcache.Item) error
}

// memcachedStore implements Store on Memcached, whose server-side
// Increment is atomic. Records carry a TTL of two window lengths so
// stale windows age out on the server; this subsystem never deletes
// them itself.
type memcachedStore struct {
	client memcacheClient
	period Period
}

// NewMemcachedStore creates a Store from a list of Memcached servers.
func NewMemcachedStore(period Period, timeout time.Duration, servers ...string) Store {
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &memcachedStore{client: client, period: period}
}

func (s *memcachedStore) Increment(_ context.Context, key, window string) (uint64, error) {
	k := recordKey(key, window)

	count, err := s.client.Increment(k, 1)
	if err == nil {
		return count, nil
	}
	if err != memcache.ErrCacheMiss {
		return 0, errors.Wrap(err, "quota increment failed")
	}

	// First request of the window. Add is atomic: exactly one concurrent
	// creator wins, the rest fall through to Increment.
	err = s.client.Add(&memcache.Item{
		Key:        k,
		Value:      []byte("1"),
		Expiration: int32(2 * s.period.Length() / time.Second),
	})
	switch err {
	case nil:
		return 1, nil
	case memcache.ErrNotStored:
		count, err := s.client.Increment(k, 1)
		if err != nil {
			return 0, errors.Wrap(err, "quota increment after create race failed")
		}
		return count, nil
	default:
		return 0, errors.Wrap(err, "quota record create failed")
	}
}

// recordKey embeds the window identifier so a new window naturally
// starts from a fresh record, and hashes the client key to keep raw
// identities and IPs out of the cache key space (memcached keys are also
// capped at 250 bytes).
func recordKey(key, window string) string {
	return fmt.Sprintf("quota:%s:%x", window, sha256.Sum256([]byte(key)))
}
