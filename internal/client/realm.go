package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/SirClappington/restq/internal/api"
	"github.com/SirClappington/restq/internal/domain"
)

// Realm addresses one realm on the server. Realms are created on first use.
type Realm struct {
	c  *Client
	id string
}

func (r *Realm) ID() string { return r.id }

func (r *Realm) path(elem ...string) string {
	p := url.PathEscape(r.id)
	for _, e := range elem {
		p += "/" + url.PathEscape(e)
	}
	return p
}

// Add puts jobID into queueID. data is encoded as JSON; nil means no data.
func (r *Realm) Add(ctx context.Context, jobID, queueID string, data any, tags ...string) error {
	req := api.AddJobRequest{QueueID: api.QueueID(queueID), Tags: tags}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("client: encode job data: %w", err)
		}
		req.Data = raw
	}
	return r.c.do(ctx, http.MethodPut, r.path("job", jobID), nil, req, nil)
}

func (r *Realm) Remove(ctx context.Context, jobID string) error {
	return r.c.do(ctx, http.MethodDelete, r.path("job", jobID), nil, nil, nil)
}

func (r *Realm) Job(ctx context.Context, jobID string) (domain.JobStatus, error) {
	var out domain.JobStatus
	err := r.c.do(ctx, http.MethodGet, r.path("job", jobID), nil, nil, &out)
	return out, err
}

// Pull leases up to count jobs, keyed by job id.
func (r *Realm) Pull(ctx context.Context, count int) (map[string]api.PulledJob, error) {
	var out map[string]api.PulledJob
	q := url.Values{"count": {strconv.Itoa(count)}}
	err := r.c.do(ctx, http.MethodGet, r.path("job"), q, nil, &out)
	return out, err
}

func (r *Realm) MoveJob(ctx context.Context, jobID, fromQ, toQ string) error {
	return r.c.do(ctx, http.MethodGet, r.path("job", jobID, "from_q", fromQ, "to_q", toQ), nil, nil, nil)
}

func (r *Realm) Status(ctx context.Context) (domain.RealmStatus, error) {
	var out domain.RealmStatus
	err := r.c.do(ctx, http.MethodGet, r.path("status"), nil, nil, &out)
	return out, err
}

func (r *Realm) ClearQueue(ctx context.Context, queueID string) error {
	return r.c.do(ctx, http.MethodGet, r.path("queues", queueID, "clear"), nil, nil, nil)
}

func (r *Realm) TaggedJobs(ctx context.Context, tagID string) (map[string]domain.JobStatus, error) {
	var out map[string]domain.JobStatus
	err := r.c.do(ctx, http.MethodGet, r.path("tag", tagID), nil, nil, &out)
	return out, err
}

func (r *Realm) TagStatus(ctx context.Context, tagID string) (domain.TagStatus, error) {
	var out domain.TagStatus
	err := r.c.do(ctx, http.MethodGet, r.path("tag", tagID, "status"), nil, nil, &out)
	return out, err
}

// RemoveTag removes every job tagged with tagID.
func (r *Realm) RemoveTag(ctx context.Context, tagID string) error {
	return r.c.do(ctx, http.MethodDelete, r.path("tag", tagID), nil, nil, nil)
}

// SetDefaultLeaseTime takes seconds.
func (r *Realm) SetDefaultLeaseTime(ctx context.Context, seconds int) error {
	return r.c.do(ctx, http.MethodPost, r.path("config"), nil, api.ConfigRequest{DefaultLeaseTime: &seconds}, nil)
}

func (r *Realm) SetQueueLeaseTime(ctx context.Context, queueID string, seconds int) error {
	req := api.ConfigRequest{QueueLeaseTime: &api.QueueLease{QueueID: api.QueueID(queueID), Seconds: seconds}}
	return r.c.do(ctx, http.MethodPost, r.path("config"), nil, req, nil)
}

// Delete drops the realm on the server along with its jobs and configuration.
func (r *Realm) Delete(ctx context.Context) error {
	return r.c.do(ctx, http.MethodDelete, r.path()+"/", nil, nil, nil)
}
