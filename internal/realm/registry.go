package realm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/SirClappington/restq/internal/domain"
	"github.com/SirClappington/restq/internal/storage"
)

// Registry creates, caches and deletes realms, bridging them to the store
// that holds their configuration.
type Registry struct {
	mu     sync.RWMutex
	store  ConfigStore
	realms map[string]*Realm
	group  singleflight.Group

	// deletes counts Delete calls; a load that sees it change rebuilds.
	deletes uint64

	defaultLease    time.Duration
	loadConcurrency int
	realmOpts       []Option
	log             *zap.Logger
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(g *Registry) {
		if l != nil {
			g.log = l
		}
	}
}

// WithRealmDefaultLeaseTime is the default lease time of realms that have
// no persisted configuration.
func WithRealmDefaultLeaseTime(d time.Duration) RegistryOption {
	return func(g *Registry) { g.defaultLease = d }
}

// WithLoadConcurrency bounds how many realms Attach loads at once.
func WithLoadConcurrency(n int) RegistryOption {
	return func(g *Registry) {
		if n > 0 {
			g.loadConcurrency = n
		}
	}
}

// WithRealmOptions are applied to every realm the registry constructs.
func WithRealmOptions(opts ...Option) RegistryOption {
	return func(g *Registry) { g.realmOpts = append(g.realmOpts, opts...) }
}

func NewRegistry(store ConfigStore, opts ...RegistryOption) *Registry {
	g := &Registry{
		store:           store,
		realms:          make(map[string]*Realm),
		defaultLease:    DefaultLeaseTime,
		loadConcurrency: 8,
		log:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Store returns the store the registry is currently attached to.
func (g *Registry) Store() ConfigStore {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store
}

// Get returns the cached realm or constructs and caches it. Concurrent
// first lookups of the same id share one construction.
func (g *Registry) Get(ctx context.Context, id string) (*Realm, error) {
	if rlm, ok := g.Lookup(id); ok {
		return rlm, nil
	}
	if err := domain.ValidateRealmID(id); err != nil {
		return nil, err
	}

	v, err, _ := g.group.Do(id, func() (any, error) {
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if rlm, ok := g.Lookup(id); ok {
				return rlm, nil
			}
			g.mu.RLock()
			store, deletes := g.store, g.deletes
			g.mu.RUnlock()

			rlm, err := g.newRealm(ctx, id, store)
			if err != nil {
				return nil, err
			}

			g.mu.Lock()
			switch {
			case g.store != store:
				g.mu.Unlock()
				// Attached to another store while loading; this realm belongs
				// to the old one.
				return nil, fmt.Errorf("realm %q: store changed during load", id)
			case g.deletes != deletes:
				// A Delete ran while loading, so what was loaded may be gone
				// from the store. Load again from what the store holds now.
				g.mu.Unlock()
				continue
			}
			g.realms[id] = rlm
			g.mu.Unlock()
			return rlm, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(*Realm), nil
}

// Lookup returns the cached realm without constructing it.
func (g *Registry) Lookup(id string) (*Realm, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rlm, ok := g.realms[id]
	return rlm, ok
}

// Delete forgets the realm and removes its persisted configuration. Jobs
// and tags held by the realm are discarded.
func (g *Registry) Delete(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rlm, cached := g.realms[id]
	delete(g.realms, id)
	g.deletes++
	if cached {
		rlm.retire()
	}

	err := g.store.Delete(ctx, id)
	if errors.Is(err, domain.ErrNotFound) && cached {
		err = nil
	}
	if err != nil {
		return err
	}
	g.log.Info("realm deleted", zap.String("realm", id))
	return nil
}

// Current returns the cached realms ordered by id.
func (g *Registry) Current() []*Realm {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Realm, 0, len(g.realms))
	for _, id := range slices.Sorted(maps.Keys(g.realms)) {
		out = append(out, g.realms[id])
	}
	return out
}

func (g *Registry) Status() map[string]domain.RealmStatus {
	out := make(map[string]domain.RealmStatus)
	for _, rlm := range g.Current() {
		out[rlm.ID()] = rlm.Status()
	}
	return out
}

// Attach switches the registry to store, drops every cached realm and loads
// each realm the store knows about.
func (g *Registry) Attach(ctx context.Context, store ConfigStore) error {
	ids, err := store.List(ctx)
	if err != nil {
		return err
	}

	loaded := make([]*Realm, len(ids))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.loadConcurrency)
	for i, id := range ids {
		if err := domain.ValidateRealmID(id); err != nil {
			g.log.Warn("skipping stored realm", zap.String("realm", id), zap.Error(err))
			continue
		}
		eg.Go(func() error {
			rlm, err := g.newRealm(egCtx, id, store)
			if err != nil {
				return err
			}
			loaded[i] = rlm
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	realms := make(map[string]*Realm, len(loaded))
	for _, rlm := range loaded {
		if rlm == nil {
			continue
		}
		realms[rlm.ID()] = rlm
	}

	g.mu.Lock()
	g.store = store
	g.realms = realms
	g.mu.Unlock()

	g.log.Info("realms attached", zap.Int("realms", len(realms)))
	return nil
}

// SetConfigRoot attaches the registry to a file store rooted at path.
func (g *Registry) SetConfigRoot(ctx context.Context, path string) error {
	store, err := storage.NewFileStore(path)
	if err != nil {
		return err
	}
	return g.Attach(ctx, store)
}

func (g *Registry) newRealm(ctx context.Context, id string, store ConfigStore) (*Realm, error) {
	opts := make([]Option, 0, len(g.realmOpts)+2)
	opts = append(opts, WithDefaultLeaseTime(g.defaultLease), WithLogger(g.log))
	opts = append(opts, g.realmOpts...)
	return New(ctx, id, store, opts...)
}
