package trafficlog

import "context"

// Driver persists a batch of traffic log entries. Implementations must be
// safe to call from the sink's single background worker only; no
// concurrent WriteBatch calls are ever made.
type Driver interface {
	WriteBatch(ctx context.Context, entries []Entry) error
	Close() error
}
