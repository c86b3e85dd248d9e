package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/krantius/raftcore/kv"
	"github.com/krantius/raftcore/raft"
)

const (
	writeTimeout = 5 * time.Second
	maxValueSize = 1 << 20
)

type errorResponse struct {
	Error  string        `json:"error"`
	Leader raft.ServerID `json:"leader,omitempty"`
}

// Router serves the HTTP API under /api.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	sr := r.PathPrefix("/api").Subrouter()
	sr.Path("/status").Methods("GET").HandlerFunc(s.StatusHandler)
	sr.Path("/kv/{key}").Methods("GET").HandlerFunc(s.GetHandler)
	sr.Path("/kv/{key}").Methods("PUT").HandlerFunc(s.PutHandler)
	sr.Path("/kv/{key}").Methods("DELETE").HandlerFunc(s.DeleteHandler)
	return r
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) GetHandler(w http.ResponseWriter, r *http.Request) {
	val, ok := s.Get(mux.Vars(r)["key"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "key not found"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(val)
}

func (s *Server) PutHandler(w http.ResponseWriter, r *http.Request) {
	val, err := io.ReadAll(io.LimitReader(r.Body, maxValueSize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.write(w, r, kv.NewCommand(kv.Set, mux.Vars(r)["key"], val))
}

func (s *Server) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, kv.NewCommand(kv.Delete, mux.Vars(r)["key"], nil))
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, cmd kv.Command) {
	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()

	if err := s.Write(ctx, cmd); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var nle *raft.NotLeaderError
	switch {
	case errors.As(err, &nle):
		writeJSON(w, http.StatusMisdirectedRequest, errorResponse{Error: err.Error(), Leader: nle.Leader})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	case errors.Is(err, ErrStopped), errors.Is(err, ErrRestored):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.logger.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
