package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homesync/internal/bridge"
	"github.com/nerrad567/homesync/internal/device"
	"github.com/nerrad567/homesync/internal/protocol"
)

// handleListDevices returns the last-known state of every device.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	states, err := s.states.List(r.Context())
	if err != nil {
		s.logger.Error("listing device states", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if states == nil {
		states = []device.State{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": states,
		"count":   len(states),
	})
}

// handleGetDevice returns the last-known state of one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.states.Get(r.Context(), id)
	if errors.Is(err, device.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		s.logger.Error("getting device state", "device_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// lightModeRequest is the body of POST /lights/{id}/mode.
type lightModeRequest struct {
	Mode       string `json:"mode"`
	Credential string `json:"credential"`
}

// handleSetLightMode asks the bridge to change a light's mode on behalf
// of a credential holder.
func (s *Server) handleSetLightMode(w http.ResponseWriter, r *http.Request) {
	if s.lights == nil {
		writeError(w, http.StatusServiceUnavailable, "light control is not available")
		return
	}

	var req lightModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode, err := protocol.ParseLightMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "mode must be one of off, low, med, high")
		return
	}

	id := chi.URLParam(r, "id")
	err = s.lights.RequestLightMode(r.Context(), id, mode, req.Credential)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"device_id": id,
			"mode":      mode,
		})
	case errors.Is(err, bridge.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, "light not found")
	case errors.Is(err, bridge.ErrWrongKind):
		writeError(w, http.StatusBadRequest, "device is not a light")
	case errors.Is(err, protocol.ErrInvalidCredential):
		writeError(w, http.StatusBadRequest, "invalid credential")
	case errors.Is(err, bridge.ErrNotAuthorised):
		writeError(w, http.StatusForbidden, "credential may not control this light")
	case errors.Is(err, bridge.ErrQueueFull), errors.Is(err, bridge.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "bridge is busy, retry later")
	default:
		s.logger.Error("light command failed", "device_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "light command failed")
	}
}
