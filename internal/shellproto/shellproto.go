// Package shellproto serves the unix-socket HTTP surface the out-of-scope
// desktop shell polls for job state (id, name and status; no byte-level
// progress). It is intentionally
// thin: the shell owns its own window/dialog glue and settings file; this
// package only exposes what the orchestrator already tracks as JSON.
package shellproto

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/peterbourgon/unixtransport"

	"github.com/cascadefs/waterfall/internal/debug"
	"github.com/cascadefs/waterfall/internal/errors"
	"github.com/cascadefs/waterfall/internal/orchestrator"
)

// NewClient builds an http.Client that can reach a Server's unix-socket
// listener at URLs of the form "http+unix://<socketPath>:/jobs". This is
// what the desktop shell (or any local poller, including this package's
// own tests) uses instead of the core depending on a GUI toolkit.
func NewClient() *http.Client {
	tr := &http.Transport{}
	unixtransport.Register(tr)
	return &http.Client{Transport: tr}
}

// Server exposes an Orchestrator's job state over a unix-socket HTTP
// listener.
type Server struct {
	orch *orchestrator.Orchestrator
	mux  *http.ServeMux
}

// New builds a Server around orch.
func New(orch *orchestrator.Orchestrator) *Server {
	s := &Server{orch: orch, mux: http.NewServeMux()}
	s.mux.HandleFunc("/jobs", s.handleListJobs)
	s.mux.HandleFunc("/jobs/", s.handleGetJob)
	return s
}

// ListenAndServe listens on the given unix socket path (removing any stale
// socket file first) and serves until the listener errors or is closed.
func (s *Server) ListenAndServe(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove stale socket")
	}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return errors.Wrap(err, "net.Listen")
	}

	debug.Log("shellproto listening on %v", socketPath)
	return http.Serve(l, s.mux)
}

type jobView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func toJobView(j orchestrator.Job) jobView {
	return jobView{ID: j.ID, Name: j.Name, Status: orchestrator.Status(j.Kind, j.State)}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	jobs := s.orch.Jobs()
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = toJobView(j)
	}

	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	job, ok := s.orch.Job(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toJobView(job))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
