// Package storage persists realm configuration: the default lease time and
// the queues of each realm with their lease times. Job and tag contents are
// never written anywhere.
//
// Four backends share the same Load/Save/Delete/List shape: YAML files
// (the default), Postgres, Redis and an in-memory map.
package storage

import "context"

// Pinger is implemented by stores that talk to a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Healthcheck returns a readiness probe for store. A store with nothing
// remote to reach is always ready.
func Healthcheck(store any) func(context.Context) error {
	p, ok := store.(Pinger)
	if !ok {
		return func(context.Context) error { return nil }
	}
	return p.Ping
}
