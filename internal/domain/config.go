package domain

import (
	"fmt"
	"strings"
	"time"
)

// RealmConfig is the durable part of a realm. Jobs and tags are never part
// of it; a restart brings a realm back with its queues and lease times only.
type RealmConfig struct {
	DefaultLeaseTime int           `yaml:"default_lease_time" json:"default_lease_time"`
	Queues           []QueueConfig `yaml:"queues" json:"queues"`
}

type QueueConfig struct {
	ID        string `yaml:"id" json:"id"`
	LeaseTime int    `yaml:"lease_time" json:"lease_time"`
}

// Seconds renders a lease duration the way it is persisted and sent over the wire.
func Seconds(d time.Duration) int {
	return int(d / time.Second)
}

func LeaseDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// ValidateRealmID rejects ids that cannot name a realm. Realm ids end up in
// URL path segments and file names, so separators and dot segments are out.
func ValidateRealmID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty realm id", ErrBadRequest)
	case id == "." || id == "..":
		return fmt.Errorf("%w: invalid realm id %q", ErrBadRequest, id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: realm id %q contains a path separator", ErrBadRequest, id)
	}
	return nil
}
