// Package queue implements the per-realm priority queue: an insertion
// ordered set of job ids, each carrying the time it was last checked out.
//
// Checking a job out never changes its position. A leased job keeps its
// slot and is skipped by scans until its lease expires, at which point the
// next scan hands it out again from the same place.
package queue

import (
	"container/list"
	"iter"
	"time"
)

type entry struct {
	jobID    string
	checkout time.Time
}

// Queue is not safe for concurrent use; the owning realm serialises access.
type Queue struct {
	id    string
	lease time.Duration
	order *list.List
	index map[string]*list.Element
}

func New(id string, lease time.Duration) *Queue {
	return &Queue{
		id:    id,
		lease: lease,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

func (q *Queue) ID() string { return q.id }

func (q *Queue) LeaseTime() time.Duration { return q.lease }

func (q *Queue) SetLeaseTime(d time.Duration) { q.lease = d }

func (q *Queue) Len() int { return len(q.index) }

func (q *Queue) Contains(jobID string) bool {
	_, ok := q.index[jobID]
	return ok
}

// Push appends jobID with a zero checkout time. A job already in the queue
// keeps its slot and checkout time; Push reports whether it was added.
func (q *Queue) Push(jobID string) bool {
	if _, ok := q.index[jobID]; ok {
		return false
	}
	q.index[jobID] = q.order.PushBack(&entry{jobID: jobID})
	return true
}

func (q *Queue) Remove(jobID string) bool {
	el, ok := q.index[jobID]
	if !ok {
		return false
	}
	q.order.Remove(el)
	delete(q.index, jobID)
	return true
}

// CheckoutTime returns the last checkout of jobID; the zero time means it
// was never handed out.
func (q *Queue) CheckoutTime(jobID string) (time.Time, bool) {
	el, ok := q.index[jobID]
	if !ok {
		return time.Time{}, false
	}
	return el.Value.(*entry).checkout, true
}

// Leased reports whether jobID holds an unexpired checkout at now.
func (q *Queue) Leased(jobID string, now time.Time) bool {
	t, ok := q.CheckoutTime(jobID)
	if !ok || t.IsZero() {
		return false
	}
	return now.Sub(t) < q.lease
}

// Clear empties the queue and returns the ids it held, in queue order.
func (q *Queue) Clear() []string {
	ids := q.JobIDs()
	q.order.Init()
	q.index = make(map[string]*list.Element)
	return ids
}

func (q *Queue) JobIDs() []string {
	ids := make([]string, 0, len(q.index))
	for el := q.order.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*entry).jobID)
	}
	return ids
}

// Checkout scans the queue once in insertion order and leases up to limit
// eligible jobs, stamping them with now.
func (q *Queue) Checkout(now time.Time, limit int) []string {
	if limit <= 0 {
		return nil
	}
	var out []string
	for jobID := range q.Lease(now) {
		out = append(out, jobID)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Lease yields the eligible jobs in insertion order. A job is eligible when
// it was never checked out or its last checkout is older than the lease
// time. Each job is stamped with now as it is yielded; jobs past the point
// where the caller stops are left alone.
func (q *Queue) Lease(now time.Time) iter.Seq[string] {
	return func(yield func(string) bool) {
		for el := q.order.Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry)
			if !e.checkout.IsZero() && now.Sub(e.checkout) <= q.lease {
				continue
			}
			e.checkout = now
			if !yield(e.jobID) {
				return
			}
		}
	}
}
