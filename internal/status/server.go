// Package status exposes the supervisor's HTTP ops surface.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synapselabs/bridge/internal/gateway"
	"github.com/synapselabs/bridge/internal/journal"
)

// Server provides HTTP endpoints for connection monitoring.
type Server struct {
	svc    *gateway.Service
	jour   journal.Journal
	server *http.Server
}

// NewServer creates the status server on the given port.
func NewServer(svc *gateway.Service, jour journal.Journal, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		svc:  svc,
		jour: jour,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("POST /restart", s.handleRestart)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()

	healthy := st.Connected && st.Healthy && !st.Halted
	response := map[string]string{"status": "ok"}
	w.Header().Set("Content-Type", "application/json")

	if !healthy {
		response["status"] = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// statusResponse is the JSON shape of /status.
type statusResponse struct {
	Connected            bool            `json:"connected"`
	Halted               bool            `json:"halted"`
	Healthy              bool            `json:"healthy"`
	LastPing             *time.Time      `json:"last_ping,omitempty"`
	CircuitState         string          `json:"circuit_state"`
	FailureCount         int             `json:"failure_count"`
	SecondsToNextAttempt float64         `json:"seconds_to_next_attempt"`
	RecentEvents         []journal.Event `json:"recent_events"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status()

	resp := statusResponse{
		Connected:            st.Connected,
		Halted:               st.Halted,
		Healthy:              st.Healthy,
		CircuitState:         st.Circuit.State.String(),
		FailureCount:         st.Circuit.FailureCount,
		SecondsToNextAttempt: st.Circuit.TimeUntilNextAttempt.Seconds(),
	}
	if !st.LastPing.IsZero() {
		resp.LastPing = &st.LastPing
	}

	events, err := s.jour.Recent(r.Context(), 20)
	if err == nil {
		resp.RecentEvents = events
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ForceRestart(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "restarting"})
}
