package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/SirClappington/restq/internal/domain"
)

// QueueID is a queue id as accepted on the wire: a JSON string, or a JSON
// number taken by its literal text. It is always written back as a string.
type QueueID string

func (q *QueueID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*q = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = QueueID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("queue id must be a string or a number: %w", err)
	}
	*q = QueueID(n.String())
	return nil
}

// QueueLease sets the lease time of one queue. On the wire it is the pair
// [queue_id, seconds].
type QueueLease struct {
	QueueID QueueID
	Seconds int
}

func (l QueueLease) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{string(l.QueueID), l.Seconds})
}

func (l *QueueLease) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("queue_lease_time: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("queue_lease_time: want [queue_id, seconds], got %d elements", len(pair))
	}
	if err := l.QueueID.UnmarshalJSON(pair[0]); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[1], &l.Seconds); err != nil {
		return fmt.Errorf("queue_lease_time: seconds must be an integer: %w", err)
	}
	return nil
}

type AddJobRequest struct {
	QueueID QueueID         `json:"queue_id"`
	Data    json.RawMessage `json:"data,omitempty"`
	Tags    []string        `json:"tags,omitempty"`
}

type ConfigRequest struct {
	DefaultLeaseTime *int        `json:"default_lease_time,omitempty"`
	QueueLeaseTime   *QueueLease `json:"queue_lease_time,omitempty"`
}

type BulkJob struct {
	Realm   string          `json:"realm"`
	JobID   string          `json:"job_id"`
	QueueID QueueID         `json:"queue_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Tags    []string        `json:"tags,omitempty"`
}

type BulkRequest struct {
	Jobs []BulkJob `json:"jobs"`
}

type BulkError struct {
	Realm string `json:"realm"`
	JobID string `json:"job_id"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

type BulkResult struct {
	OK     int         `json:"ok"`
	Errors []BulkError `json:"errors"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// PulledJob is one entry of a realm pull response, keyed by job id and
// written as [queue_id, data].
type PulledJob struct {
	QueueID string
	Data    json.RawMessage
}

func (p PulledJob) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.QueueID, p.Data})
}

func (p *PulledJob) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("pulled job: want 2 elements, got %d", len(pair))
	}
	var q QueueID
	if err := q.UnmarshalJSON(pair[0]); err != nil {
		return err
	}
	p.QueueID = string(q)
	p.Data = normalizeData(pair[1])
	return nil
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInvalidTransition = "invalid_transition"
	CodeBadRequest        = "bad_request"
	CodeTooLarge          = "too_large"
	CodeInternal          = "internal"
)

// ErrorCode classifies err the way it is reported to clients.
func ErrorCode(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrDataConflict):
		return CodeConflict
	case errors.Is(err, domain.ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.As(err, &tooLarge):
		return CodeTooLarge
	case errors.Is(err, domain.ErrBadRequest):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// normalizeData rewrites a job payload in canonical form: insignificant
// space dropped and object keys sorted, so that re-adding a job with the
// same value in another layout is not a conflict. An absent or null payload
// is nil.
func normalizeData(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return raw
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}
