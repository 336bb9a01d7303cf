package quota

import (
	"context"
)

// Store counts requests per client per window. Increment must be atomic
// per key under concurrent callers: two racing increments yield two
// distinct counts, never a lost update. Implementations either rely on a
// native atomic increment (memcached) or serialize per store (memory).
type Store interface {
	// Increment adds one to the counter for key inside window and
	// returns the new count, creating the counter at 1 when no record
	// for this window exists yet.
	Increment(ctx context.Context, key, window string) (uint64, error)
}
