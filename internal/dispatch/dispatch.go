// Package dispatch pulls jobs across several realms in one global priority
// order.
package dispatch

import (
	"context"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/SirClappington/restq/internal/domain"
	"github.com/SirClappington/restq/internal/realm"
)

// Source resolves realms by id and lists the realms currently known.
// *realm.Registry implements it.
type Source interface {
	Get(ctx context.Context, id string) (*realm.Realm, error)
	Current() []*realm.Realm
}

type Dispatcher struct {
	src Source
	log *zap.Logger
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func New(src Source, opts ...Option) *Dispatcher {
	d := &Dispatcher{src: src, log: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Pull leases up to count jobs from realmIDs, or from every known realm when
// none are named. Queue ids are ranked across all target realms together, so
// a job in queue "0" of one realm is handed out before a job in queue "1" of
// another. Realms sharing a queue id are visited in realm id order.
//
// Each realm is locked only for its own part of the pull; the result is not
// a snapshot across realms.
func (d *Dispatcher) Pull(ctx context.Context, count int, realmIDs ...string) ([]domain.Dispatch, error) {
	out := []domain.Dispatch{}
	if count <= 0 {
		return out, nil
	}

	targets, err := d.targets(ctx, realmIDs)
	if err != nil {
		return nil, err
	}

	queueIDs := make(map[string]struct{})
	for _, rlm := range targets {
		for _, id := range rlm.QueueIDs() {
			queueIDs[id] = struct{}{}
		}
	}

	// Per realm: job id -> position in out. A realm rescans its lower queues
	// on every call, so a job sitting in several queues comes back again;
	// its entry is replaced rather than counted twice.
	pos := make(map[string]map[string]int, len(targets))
	held := make(map[string]map[string]struct{}, len(targets))
	for _, rlm := range targets {
		pos[rlm.ID()] = make(map[string]int)
		held[rlm.ID()] = make(map[string]struct{})
	}

	for _, queueID := range slices.Sorted(maps.Keys(queueIDs)) {
		for _, rlm := range targets {
			id := rlm.ID()
			for _, l := range rlm.PullWithin(count-len(out), queueID, held[id]) {
				d := domain.Dispatch{
					Realm:   id,
					JobID:   l.JobID,
					QueueID: l.QueueID,
					Data:    l.Data,
				}
				if i, ok := pos[id][l.JobID]; ok {
					out[i] = d
					continue
				}
				pos[id][l.JobID] = len(out)
				held[id][l.JobID] = struct{}{}
				out = append(out, d)
			}
			if len(out) >= count {
				d.log.Debug("dispatched", zap.Int("jobs", len(out)), zap.Int("realms", len(targets)))
				return out, nil
			}
		}
	}
	d.log.Debug("dispatched", zap.Int("jobs", len(out)), zap.Int("realms", len(targets)))
	return out, nil
}

func (d *Dispatcher) targets(ctx context.Context, realmIDs []string) ([]*realm.Realm, error) {
	if len(realmIDs) == 0 {
		return d.src.Current(), nil
	}
	ids := slices.Compact(slices.Sorted(slices.Values(realmIDs)))
	out := make([]*realm.Realm, 0, len(ids))
	for _, id := range ids {
		rlm, err := d.src.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rlm)
	}
	return out, nil
}
