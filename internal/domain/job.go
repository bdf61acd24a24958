package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Lease is one job handed out by a realm pull. Data is the job payload as
// stored on add; nil when the job was added without one.
type Lease struct {
	JobID   string
	QueueID string
	Data    json.RawMessage
}

// Dispatch is a Lease annotated with the realm it was pulled from.
type Dispatch struct {
	Realm   string          `json:"realm"`
	JobID   string          `json:"job_id"`
	QueueID string          `json:"queue_id"`
	Data    json.RawMessage `json:"data"`
}

// QueueCheckout reports one queue membership of a job: the queue id and the
// seconds elapsed since the job was last checked out there, or zero if it
// never was. It travels on the wire as a two element array.
type QueueCheckout struct {
	QueueID string
	Elapsed float64
}

func (c QueueCheckout) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{c.QueueID, c.Elapsed})
}

func (c *QueueCheckout) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("queue checkout: want 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &c.QueueID); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &c.Elapsed)
}

type JobStatus struct {
	Tags   []string        `json:"tags"`
	Data   json.RawMessage `json:"data"`
	Queues []QueueCheckout `json:"queues"`
}

type TagStatus struct {
	Count int `json:"count"`
}

type RealmStatus struct {
	TotalJobs int            `json:"total_jobs"`
	TotalTags int            `json:"total_tags"`
	Queues    map[string]int `json:"queues"`
}

// Elapsed converts a checkout time into the seconds reported by JobStatus.
func Elapsed(checkout, now time.Time) float64 {
	if checkout.IsZero() {
		return 0
	}
	return now.Sub(checkout).Seconds()
}
