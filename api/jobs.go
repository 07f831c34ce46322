package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nci/satgate/jobs"
)

type submitResponse struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
}

// serveSubmitJob queues a job of jobType. The type in the path wins over
// any type in the body.
func (s *Server) serveSubmitJob(jobType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jobs.JobRequest
		if err := decodeBody(r, &req); err != nil {
			fail(w, s.Logger, r, err)
			return
		}
		req.Type = jobType

		jobID, err := s.Jobs.Submit(r.Context(), req)
		if err != nil {
			fail(w, s.Logger, r, err)
			return
		}
		w.Header().Set("Location", "/jobs/"+jobID)
		writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID, Status: jobs.StatusPending})
	}
}

func (s *Server) serveJobStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Jobs.Status(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		fail(w, s.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) serveCancelJob(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Jobs.Cancel(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		fail(w, s.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
