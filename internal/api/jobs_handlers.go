package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SirClappington/restq/internal/domain"
)

// pullAcross leases jobs from several realms at once, in global queue order.
func (s *Server) pullAcross(w http.ResponseWriter, r *http.Request) {
	count, err := countParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.disp.Pull(r.Context(), count, r.URL.Query()["realm"]...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveDispatches(out)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) bulkAdd(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, func(ctx context.Context, j BulkJob) error {
		if j.QueueID == "" {
			return fmt.Errorf("%w: queue_id is required", domain.ErrBadRequest)
		}
		rlm, err := s.reg.Get(ctx, j.Realm)
		if err != nil {
			return err
		}
		return rlm.Add(ctx, j.JobID, string(j.QueueID), normalizeData(j.Data), j.Tags)
	})
}

func (s *Server) bulkRemove(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, func(ctx context.Context, j BulkJob) error {
		rlm, err := s.reg.Get(ctx, j.Realm)
		if err != nil {
			return err
		}
		return rlm.RemoveJob(j.JobID)
	})
}

// bulk applies op to every job of the request body and reports failures
// per job. Only a malformed body fails the request as a whole.
func (s *Server) bulk(w http.ResponseWriter, r *http.Request, op func(context.Context, BulkJob) error) {
	var req BulkRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res := BulkResult{Errors: []BulkError{}}
	for _, j := range req.Jobs {
		var err error
		if j.JobID == "" {
			err = fmt.Errorf("%w: job_id is required", domain.ErrBadRequest)
		} else {
			err = op(r.Context(), j)
		}
		if err != nil {
			res.Errors = append(res.Errors, BulkError{
				Realm: j.Realm,
				JobID: j.JobID,
				Error: err.Error(),
				Code:  ErrorCode(err),
			})
			continue
		}
		res.OK++
	}
	writeJSON(w, http.StatusOK, res)
}
