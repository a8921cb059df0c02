package driven

import (
	"context"
	"time"
)

// DistributedLock guards a whole stage run for one document so two processes
// never drive the same document at once. Names look like
// "speccheck:document:<document_id>".
type DistributedLock interface {
	// Acquire takes the named lock for ttl. It returns false, without an
	// error, when another process holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release gives up a lock held by this process. Releasing a lock that
	// expired or was never held is not an error.
	Release(ctx context.Context, name string) error

	// Extend pushes the expiry of a held lock ttl into the future. The policy
	// builder calls it every ttl/2 while a run is in flight.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	Ping(ctx context.Context) error
}
