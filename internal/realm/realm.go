package realm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/restq/internal/domain"
	"github.com/SirClappington/restq/internal/queue"
)

// ConfigStore persists the queue and lease configuration of realms.
type ConfigStore interface {
	Load(ctx context.Context, realmID string) (domain.RealmConfig, bool, error)
	Save(ctx context.Context, realmID string, cfg domain.RealmConfig) error
	Delete(ctx context.Context, realmID string) error
	List(ctx context.Context) ([]string, error)
}

type job struct {
	data   []byte
	tags   map[string]struct{}
	queues map[string]struct{}
}

// Realm is one namespace of jobs, queues and tags. Every exported method
// holds the realm mutex for its whole duration.
type Realm struct {
	id    string
	store ConfigStore
	now   func() time.Time
	log   *zap.Logger

	mu           sync.Mutex
	retired      bool
	defaultLease time.Duration
	queues       map[string]*queue.Queue
	tags         map[string]map[string]struct{}
	jobs         map[string]*job
}

type Option func(*Realm)

// WithClock replaces time.Now as the source of checkout times.
func WithClock(now func() time.Time) Option {
	return func(r *Realm) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Realm) {
		if l != nil {
			r.log = l
		}
	}
}

// WithDefaultLeaseTime sets the lease time used when the store holds no
// configuration for the realm yet.
func WithDefaultLeaseTime(d time.Duration) Option {
	return func(r *Realm) { r.defaultLease = d }
}

// DefaultLeaseTime applies to realms created without WithDefaultLeaseTime.
const DefaultLeaseTime = 10 * time.Minute

// New loads the realm's persisted configuration from store. A realm seen
// for the first time has its defaults written straight away, so it is
// known after a restart even if nothing else is ever configured.
func New(ctx context.Context, id string, store ConfigStore, opts ...Option) (*Realm, error) {
	if err := domain.ValidateRealmID(id); err != nil {
		return nil, err
	}
	r := &Realm{
		id:           id,
		store:        store,
		now:          time.Now,
		log:          zap.NewNop(),
		defaultLease: DefaultLeaseTime,
		queues:       make(map[string]*queue.Queue),
		tags:         make(map[string]map[string]struct{}),
		jobs:         make(map[string]*job),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(zap.String("realm", id))

	cfg, ok, err := store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load realm %q: %w", id, err)
	}
	if !ok {
		if err := store.Save(ctx, id, r.configLocked()); err != nil {
			return nil, fmt.Errorf("init realm %q: %w", id, err)
		}
		return r, nil
	}

	r.defaultLease = domain.LeaseDuration(cfg.DefaultLeaseTime)
	for _, qc := range cfg.Queues {
		r.queues[qc.ID] = queue.New(qc.ID, domain.LeaseDuration(qc.LeaseTime))
	}
	r.log.Debug("realm loaded", zap.Int("queues", len(cfg.Queues)))
	return r, nil
}

func (r *Realm) ID() string { return r.id }

// Add stores jobID in queueID. A known job must be re-added with identical
// data; its queue memberships and tags are unioned with the new ones and an
// active checkout in queueID is left alone.
func (r *Realm) Add(ctx context.Context, jobID, queueID string, data []byte, tags []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.liveLocked(); err != nil {
		return err
	}
	j, known := r.jobs[jobID]
	if known && !bytes.Equal(j.data, data) {
		return fmt.Errorf("add of existing job %q with different data: %w", jobID, domain.ErrDataConflict)
	}

	q, err := r.ensureQueueLocked(ctx, queueID)
	if err != nil {
		return err
	}

	if !known {
		j = &job{
			data:   bytes.Clone(data),
			tags:   make(map[string]struct{}),
			queues: make(map[string]struct{}),
		}
		r.jobs[jobID] = j
	}
	j.queues[queueID] = struct{}{}
	q.Push(jobID)

	for _, tagID := range tags {
		j.tags[tagID] = struct{}{}
		tag, ok := r.tags[tagID]
		if !ok {
			tag = make(map[string]struct{})
			r.tags[tagID] = tag
		}
		tag[jobID] = struct{}{}
	}
	return nil
}

func (r *Realm) RemoveJob(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return fmt.Errorf("job %q: %w", jobID, domain.ErrNotFound)
	}
	r.removeJobLocked(jobID)
	return nil
}

// RemoveTaggedJobs removes every job carrying tagID.
func (r *Realm) RemoveTaggedJobs(tagID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag, ok := r.tags[tagID]
	if !ok {
		return fmt.Errorf("tag %q: %w", tagID, domain.ErrNotFound)
	}
	for _, jobID := range slices.Sorted(maps.Keys(tag)) {
		r.removeJobLocked(jobID)
	}
	return nil
}

// MoveJob moves jobID from fromQ to toQ. A job whose checkout in fromQ is
// still active cannot be moved.
func (r *Realm) MoveJob(ctx context.Context, jobID, fromQ, toQ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.liveLocked(); err != nil {
		return err
	}
	j, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %q: %w", jobID, domain.ErrNotFound)
	}
	from, ok := r.queues[fromQ]
	if !ok {
		return fmt.Errorf("queue %q: %w", fromQ, domain.ErrNotFound)
	}
	if !from.Contains(jobID) {
		return fmt.Errorf("job %q is not in queue %q: %w", jobID, fromQ, domain.ErrInvalidTransition)
	}
	if from.Leased(jobID, r.now()) {
		return fmt.Errorf("job %q is checked out of queue %q: %w", jobID, fromQ, domain.ErrInvalidTransition)
	}

	_, inTarget := j.queues[toQ]
	inTarget = inTarget && toQ != fromQ
	var to *queue.Queue
	if !inTarget {
		// Create the target before touching fromQ so a failed config write
		// leaves the job where it was.
		var err error
		if to, err = r.ensureQueueLocked(ctx, toQ); err != nil {
			return err
		}
	}

	from.Remove(jobID)
	delete(j.queues, fromQ)
	if inTarget {
		return nil
	}
	j.queues[toQ] = struct{}{}
	to.Push(jobID)
	return nil
}

func (r *Realm) Job(jobID string) (domain.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return domain.JobStatus{}, fmt.Errorf("job %q: %w", jobID, domain.ErrNotFound)
	}
	return r.jobStatusLocked(jobID, r.now()), nil
}

func (r *Realm) TaggedJobs(tagID string) (map[string]domain.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag, ok := r.tags[tagID]
	if !ok {
		return nil, fmt.Errorf("tag %q: %w", tagID, domain.ErrNotFound)
	}
	now := r.now()
	out := make(map[string]domain.JobStatus, len(tag))
	for jobID := range tag {
		out[jobID] = r.jobStatusLocked(jobID, now)
	}
	return out, nil
}

func (r *Realm) TagStatus(tagID string) (domain.TagStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag, ok := r.tags[tagID]
	if !ok {
		return domain.TagStatus{}, fmt.Errorf("tag %q: %w", tagID, domain.ErrNotFound)
	}
	return domain.TagStatus{Count: len(tag)}, nil
}

// Pull leases up to count distinct jobs, draining queues in ascending id
// order. A job met again in a later queue is leased there too and its entry
// is replaced in place, so it reports the last queue and counts once.
func (r *Realm) Pull(count int) []domain.Lease {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pullLocked(count, "", false, nil)
}

// PullWithin is Pull restricted to queues whose id is <= maxQueue. Jobs in
// held are already part of the caller's result: they are leased and
// reported when met but do not count toward count.
func (r *Realm) PullWithin(count int, maxQueue string, held map[string]struct{}) []domain.Lease {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pullLocked(count, maxQueue, true, held)
}

func (r *Realm) pullLocked(count int, maxQueue string, bounded bool, held map[string]struct{}) []domain.Lease {
	var out []domain.Lease
	if count <= 0 {
		return out
	}
	now := r.now()
	pos := make(map[string]int)
	fresh := 0
	for _, queueID := range slices.Sorted(maps.Keys(r.queues)) {
		if bounded && queueID > maxQueue {
			break
		}
		for jobID := range r.queues[queueID].Lease(now) {
			l := domain.Lease{
				JobID:   jobID,
				QueueID: queueID,
				Data:    json.RawMessage(bytes.Clone(r.jobs[jobID].data)),
			}
			if i, ok := pos[jobID]; ok {
				out[i] = l
				continue
			}
			pos[jobID] = len(out)
			out = append(out, l)
			if _, ok := held[jobID]; ok {
				continue
			}
			if fresh++; fresh >= count {
				return out
			}
		}
	}
	return out
}

// ClearQueue empties queueID. Jobs left without any queue are removed.
func (r *Realm) ClearQueue(queueID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[queueID]
	if !ok {
		return fmt.Errorf("queue %q: %w", queueID, domain.ErrNotFound)
	}
	for _, jobID := range q.Clear() {
		j, ok := r.jobs[jobID]
		if !ok {
			continue
		}
		delete(j.queues, queueID)
		if len(j.queues) == 0 {
			r.removeJobLocked(jobID)
		}
	}
	return nil
}

func (r *Realm) Status() domain.RealmStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	queues := make(map[string]int, len(r.queues))
	for id, q := range r.queues {
		queues[id] = q.Len()
	}
	return domain.RealmStatus{
		TotalJobs: len(r.jobs),
		TotalTags: len(r.tags),
		Queues:    queues,
	}
}

// QueueIDs returns the realm's queue ids in priority order.
func (r *Realm) QueueIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.queues))
}

func (r *Realm) Config() domain.RealmConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configLocked()
}

// SetQueueLeaseTime sets the lease time of queueID, creating the queue if
// it does not exist yet.
func (r *Realm) SetQueueLeaseTime(ctx context.Context, queueID string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative lease time %s", domain.ErrBadRequest, d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.liveLocked(); err != nil {
		return err
	}
	cfg := r.configLocked()
	found := false
	for i := range cfg.Queues {
		if cfg.Queues[i].ID == queueID {
			cfg.Queues[i].LeaseTime = domain.Seconds(d)
			found = true
		}
	}
	if !found {
		cfg.Queues = insertQueueConfig(cfg.Queues, domain.QueueConfig{ID: queueID, LeaseTime: domain.Seconds(d)})
	}
	if err := r.store.Save(ctx, r.id, cfg); err != nil {
		return fmt.Errorf("set lease time of queue %q: %w", queueID, err)
	}

	if q, ok := r.queues[queueID]; ok {
		q.SetLeaseTime(d)
	} else {
		r.queues[queueID] = queue.New(queueID, d)
	}
	return nil
}

// SetDefaultLeaseTime sets the lease time given to queues created from now on.
func (r *Realm) SetDefaultLeaseTime(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative lease time %s", domain.ErrBadRequest, d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.liveLocked(); err != nil {
		return err
	}
	cfg := r.configLocked()
	cfg.DefaultLeaseTime = domain.Seconds(d)
	if err := r.store.Save(ctx, r.id, cfg); err != nil {
		return fmt.Errorf("set default lease time: %w", err)
	}
	r.defaultLease = d
	return nil
}

// ensureQueueLocked returns queueID, creating it with the default lease time
// if needed. The new configuration is persisted before the queue exists in
// memory; a failed write leaves the realm untouched.
func (r *Realm) ensureQueueLocked(ctx context.Context, queueID string) (*queue.Queue, error) {
	if q, ok := r.queues[queueID]; ok {
		return q, nil
	}
	cfg := r.configLocked()
	cfg.Queues = insertQueueConfig(cfg.Queues, domain.QueueConfig{ID: queueID, LeaseTime: domain.Seconds(r.defaultLease)})
	if err := r.store.Save(ctx, r.id, cfg); err != nil {
		return nil, fmt.Errorf("create queue %q: %w", queueID, err)
	}
	q := queue.New(queueID, r.defaultLease)
	r.queues[queueID] = q
	r.log.Debug("queue created", zap.String("queue", queueID), zap.Duration("lease_time", r.defaultLease))
	return q, nil
}

// retire empties the realm and makes every later change fail with
// ErrNotFound. Handles kept after the registry deleted the realm can then no
// longer write its configuration back to the store.
func (r *Realm) retire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired = true
	r.queues = make(map[string]*queue.Queue)
	r.tags = make(map[string]map[string]struct{})
	r.jobs = make(map[string]*job)
}

func (r *Realm) liveLocked() error {
	if r.retired {
		return fmt.Errorf("realm %q was deleted: %w", r.id, domain.ErrNotFound)
	}
	return nil
}

func (r *Realm) removeJobLocked(jobID string) {
	j, ok := r.jobs[jobID]
	if !ok {
		return
	}
	for _, queueID := range slices.Collect(maps.Keys(j.queues)) {
		if q, ok := r.queues[queueID]; ok {
			q.Remove(jobID)
		}
	}
	for _, tagID := range slices.Collect(maps.Keys(j.tags)) {
		tag, ok := r.tags[tagID]
		if !ok {
			continue
		}
		delete(tag, jobID)
		if len(tag) == 0 {
			delete(r.tags, tagID)
		}
	}
	delete(r.jobs, jobID)
}

func (r *Realm) jobStatusLocked(jobID string, now time.Time) domain.JobStatus {
	j := r.jobs[jobID]
	st := domain.JobStatus{
		Tags:   slices.Sorted(maps.Keys(j.tags)),
		Data:   json.RawMessage(bytes.Clone(j.data)),
		Queues: make([]domain.QueueCheckout, 0, len(j.queues)),
	}
	for _, queueID := range slices.Sorted(maps.Keys(j.queues)) {
		checkout, _ := r.queues[queueID].CheckoutTime(jobID)
		st.Queues = append(st.Queues, domain.QueueCheckout{
			QueueID: queueID,
			Elapsed: domain.Elapsed(checkout, now),
		})
	}
	return st
}

func (r *Realm) configLocked() domain.RealmConfig {
	cfg := domain.RealmConfig{
		DefaultLeaseTime: domain.Seconds(r.defaultLease),
		Queues:           make([]domain.QueueConfig, 0, len(r.queues)),
	}
	for _, id := range slices.Sorted(maps.Keys(r.queues)) {
		cfg.Queues = append(cfg.Queues, domain.QueueConfig{
			ID:        id,
			LeaseTime: domain.Seconds(r.queues[id].LeaseTime()),
		})
	}
	return cfg
}

func insertQueueConfig(queues []domain.QueueConfig, qc domain.QueueConfig) []domain.QueueConfig {
	i, _ := slices.BinarySearchFunc(queues, qc.ID, func(q domain.QueueConfig, id string) int {
		return strings.Compare(q.ID, id)
	})
	return slices.Insert(queues, i, qc)
}
