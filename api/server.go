// Package api exposes the telemetry snapshot and the rider actions over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jd3nn1s/telemeter"
	"github.com/jd3nn1s/telemeter/settings"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Meter interface {
	Snapshot() telemeter.Snapshot
	Settings() settings.Configuration
	UpdateSettings(settings.Patch) error
	ResetTrip()
	Refuel(liters float64) error
	SetOnline(online bool)
}

type Server struct {
	meter  Meter
	router *mux.Router
}

func NewServer(meter Meter) *Server {
	s := &Server{
		meter:  meter,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/telemetry", s.handleTelemetry).Methods("GET")
	v1.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	v1.HandleFunc("/settings", s.handlePatchSettings).Methods("PATCH")
	v1.HandleFunc("/trip/reset", s.handleResetTrip).Methods("POST")
	v1.HandleFunc("/refuel", s.handleRefuel).Methods("POST")
	v1.HandleFunc("/network", s.handleNetwork).Methods("PUT")

	s.router.Use(loggingMiddleware)
}

func (s *Server) Router() *mux.Router {
	return s.router
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"ready":  s.meter.Settings().Hydrated,
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.meter.Snapshot())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.meter.Settings())
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var p settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid JSON"))
		return
	}
	if err := s.meter.UpdateSettings(p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.meter.Settings())
}

func (s *Server) handleResetTrip(w http.ResponseWriter, r *http.Request) {
	s.meter.ResetTrip()
	writeJSON(w, http.StatusOK, s.meter.Snapshot())
}

type refuelRequest struct {
	Liters float64 `json:"liters"`
}

func (s *Server) handleRefuel(w http.ResponseWriter, r *http.Request) {
	var req refuelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid JSON"))
		return
	}
	if err := s.meter.Refuel(req.Liters); err != nil {
		status := http.StatusBadRequest
		if errors.Cause(err) == telemeter.ErrNotReady {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, s.meter.Snapshot())
}

type networkRequest struct {
	Online bool `json:"online"`
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid JSON"))
		return
	}
	s.meter.SetOnline(req.Online)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Warn("unable to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
