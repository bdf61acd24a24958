package api

import (
	"fmt"
	"net/http"

	"github.com/SirClappington/restq/internal/domain"
	"github.com/SirClappington/restq/internal/realm"
)

// realm resolves the {realm} URL parameter, creating the realm on first use.
func (s *Server) realm(r *http.Request) (*realm.Realm, error) {
	return s.reg.Get(r.Context(), param(r, "realm"))
}

func (s *Server) registryStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Status())
}

func (s *Server) deleteRealm(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Delete(r.Context(), param(r, "realm")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) realmStatus(w http.ResponseWriter, r *http.Request) {
	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rlm.Status())
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.QueueLeaseTime != nil && req.QueueLeaseTime.QueueID == "" {
		s.writeError(w, r, fmt.Errorf("%w: queue_lease_time requires a queue id", domain.ErrBadRequest))
		return
	}

	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DefaultLeaseTime != nil {
		if err := rlm.SetDefaultLeaseTime(r.Context(), domain.LeaseDuration(*req.DefaultLeaseTime)); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if ql := req.QueueLeaseTime; ql != nil {
		if err := rlm.SetQueueLeaseTime(r.Context(), string(ql.QueueID), domain.LeaseDuration(ql.Seconds)); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) addJob(w http.ResponseWriter, r *http.Request) {
	var req AddJobRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.QueueID == "" {
		s.writeError(w, r, fmt.Errorf("%w: queue_id is required", domain.ErrBadRequest))
		return
	}
	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = rlm.Add(r.Context(), param(r, "job"), string(req.QueueID), normalizeData(req.Data), req.Tags)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := rlm.Job(param(r, "job"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := rlm.RemoveJob(param(r, "job")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) moveJob(w http.ResponseWriter, r *http.Request) {
	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = rlm.MoveJob(r.Context(), param(r, "job"), param(r, "from"), param(r, "to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) pull(w http.ResponseWriter, r *http.Request) {
	count, err := countParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	leases := rlm.Pull(count)
	if s.metrics != nil {
		s.metrics.ObserveLeases(rlm.ID(), leases)
	}
	out := make(map[string]PulledJob, len(leases))
	for _, l := range leases {
		out[l.JobID] = PulledJob{QueueID: l.QueueID, Data: l.Data}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) taggedJobs(w http.ResponseWriter, r *http.Request) {
	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobs, err := rlm.TaggedJobs(param(r, "tag"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) removeTaggedJobs(w http.ResponseWriter, r *http.Request) {
	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := rlm.RemoveTaggedJobs(param(r, "tag")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) tagStatus(w http.ResponseWriter, r *http.Request) {
	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := rlm.TagStatus(param(r, "tag"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	rlm, err := s.realm(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := rlm.ClearQueue(param(r, "queue")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
