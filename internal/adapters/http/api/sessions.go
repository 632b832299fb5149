package api

import (
	"net/http"
	"strconv"

	service "github.com/okian/etude/internal/app"
	"github.com/okian/etude/internal/domain/model"
)

// handlePractice handles POST /pieces/{id}/sessions. The body is multipart
// with an "audio" file and the practiceForm fields. With ?async=true the
// recording is queued and the job is returned with 202; an Idempotency-Key
// header then maps a retry to the first job.
func (s *Server) handlePractice(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}
	form := practiceForm{
		Instrument: r.FormValue("instrument"),
		User:       r.FormValue("user"),
		Dynamics:   r.FormValue("dynamics"),

		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if err := s.validate.Struct(form); err != nil {
		s.writeError(w, r, err)
		return
	}
	_, audio, err := s.readFile(r, "audio")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inst, err := model.ParseInstrument(form.Instrument)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req := service.PracticeRequest{
		PieceID:    r.PathValue("id"),
		UserID:     form.User,
		Instrument: inst,
		Dynamics:   form.dynamics(),
		Audio:      audio,
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		req.IdempotencyKey = form.IdempotencyKey
		job, err := s.deps.SubmitPractice(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Location", "/jobs/"+job.ID)
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	res, err := s.deps.Practice(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+res.Session.ID)
	writeJSON(w, http.StatusCreated, res)
}

// handleListSessions handles GET /pieces/{id}/sessions?user=&limit=.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sessions, err := s.deps.Sessions(r.Context(), r.PathValue("id"), r.URL.Query().Get("user"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
