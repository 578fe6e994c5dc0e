package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/course-checks/internal/quiz"
	"github.com/p-n-ai/course-checks/internal/session"
)

const maxBodyBytes = 4 << 10

var errBadRequest = errors.New("malformed request")

type optionRequest struct {
	Option *int `json:"option"`
}

type examRequest struct {
	Count int `json:"count"`
}

type errorResponse struct {
	Error   string        `json:"error"`
	Code    string        `json:"code"`
	Session *session.View `json:"session,omitempty"`
}

func (s *Server) handleStartSection(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.StartSection(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleStartExam(w http.ResponseWriter, r *http.Request) {
	var req examRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, err, nil)
		return
	}
	if req.Count < 0 {
		writeError(w, fmt.Errorf("%w: count must not be negative", errBadRequest), nil)
		return
	}
	v, err := s.engine.StartExam(r.Context(), r.PathValue("id"), req.Count)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.View(r.Context(), r.PathValue("sid"))
	respond(w, v, err)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.End(r.Context(), r.PathValue("sid")); err != nil {
		writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectCheck(w http.ResponseWriter, r *http.Request) {
	opt, err := decodeOption(r)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	v, err := s.engine.SelectCheck(r.Context(), r.PathValue("sid"), r.PathValue("checkID"), opt)
	respond(w, v, err)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	opt, err := decodeOption(r)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	v, err := s.engine.Answer(r.Context(), r.PathValue("sid"), opt)
	respond(w, v, err)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Advance(r.Context(), r.PathValue("sid"))
	respond(w, v, err)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Restart(r.Context(), r.PathValue("sid"))
	respond(w, v, err)
}

func respond(w http.ResponseWriter, v session.View, err error) {
	if err != nil {
		writeError(w, err, &v)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// decodeBody reads a JSON body into dst. An empty body is accepted when
// optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func decodeOption(r *http.Request) (int, error) {
	var req optionRequest
	if err := decodeBody(r, &req, false); err != nil {
		return 0, err
	}
	if req.Option == nil {
		return 0, fmt.Errorf("%w: option is required", errBadRequest)
	}
	return *req.Option, nil
}

// errorStatus maps engine and widget errors to an HTTP status and a stable
// error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrSectionNotFound):
		return http.StatusNotFound, "section_not_found"
	case errors.Is(err, session.ErrBankNotFound):
		return http.StatusNotFound, "bank_not_found"
	case errors.Is(err, session.ErrCheckNotFound):
		return http.StatusNotFound, "check_not_found"
	case errors.Is(err, quiz.ErrOptionOutOfRange):
		return http.StatusUnprocessableEntity, "option_out_of_range"
	case errors.Is(err, quiz.ErrAlreadyRevealed):
		return http.StatusConflict, "already_revealed"
	case errors.Is(err, quiz.ErrAlreadyAnswered):
		return http.StatusConflict, "already_answered"
	case errors.Is(err, quiz.ErrNotAnswered):
		return http.StatusConflict, "not_answered"
	case errors.Is(err, quiz.ErrCompleted):
		return http.StatusConflict, "completed"
	case errors.Is(err, session.ErrTimeUp):
		return http.StatusConflict, "time_up"
	case errors.Is(err, session.ErrNoChecks):
		return http.StatusConflict, "no_checks"
	case errors.Is(err, session.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError reports err. Rejected interactions carry the unchanged session
// view so clients can re-render.
func writeError(w http.ResponseWriter, err error, v *session.View) {
	status, code := errorStatus(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		resp.Error = "internal error"
	}
	if v != nil && v.SessionID != "" && (status == http.StatusConflict || status == http.StatusUnprocessableEntity) {
		resp.Session = v
	}
	writeJSON(w, status, resp)
}
