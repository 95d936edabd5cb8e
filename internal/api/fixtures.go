package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-wiz/internal/bridges/wiz"
)

// healthCheckTimeout bounds each dependency check run by /health.
const healthCheckTimeout = 2 * time.Second

// SetStateRequest is the body of PUT /fixtures/{address}/state. Command
// and parameters use the same vocabulary as MQTT commands.
type SetStateRequest struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// StateResponse is returned by GET /fixtures/{address}/state.
type StateResponse struct {
	Address string         `json:"address"`
	MAC     string         `json:"mac,omitempty"`
	State   map[string]any `json:"state"`
}

// handleHealth combines bridge health with the dependency checks. Any
// failing check or a non-healthy bridge answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	bridgeHealth := s.bridge.Health()
	healthy := bridgeHealth.Status == wiz.HealthHealthy

	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.version,
		"bridge":  bridgeHealth,
		"checks":  checks,
	})
}

func (s *Server) handleListFixtures(w http.ResponseWriter, _ *http.Request) {
	fixtures := s.bridge.Fixtures()
	writeJSON(w, http.StatusOK, map[string]any{
		"fixtures": fixtures,
		"count":    len(fixtures),
	})
}

func (s *Server) handleGetFixture(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	info, ok := s.bridge.Fixture(address)
	if !ok {
		writeNotFound(w, "fixture not found: "+address)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleGetState polls the fixture; the bridge also publishes the result.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	state, err := s.bridge.ReadState(r.Context(), address)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{
		Address: address,
		MAC:     state.MAC,
		State:   wiz.StateMap(state),
	})
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	var req SetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	if err := s.bridge.Execute(r.Context(), address, req.Command, req.Parameters); err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"address": address,
		"command": req.Command,
		"status":  wiz.AckAccepted,
	})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := s.bridge.Subscribe(r.Context(), address); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address, "subscribed": true})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := s.bridge.Unsubscribe(address); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address, "subscribed": false})
}

// handleDiscover runs a scan. Partial results are returned with the error
// message when some fixtures answered.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	found, err := s.bridge.DiscoverNow(r.Context())
	if err != nil && len(found) == 0 {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeBridgeError(w, err)
		return
	}

	body := map[string]any{"devices": found, "count": len(found)}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}
