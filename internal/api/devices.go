package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-fleet/internal/action"
	"github.com/nerrad567/gray-logic-fleet/internal/device"
)

// RegisterDeviceRequest is the body of POST /devices.
type RegisterDeviceRequest struct {
	DeviceID string          `json:"device_id"`
	Status   device.Status   `json:"status,omitempty"`
	Metadata device.Metadata `json:"metadata,omitempty"`
}

// SetStatusRequest is the body of PUT /devices/{id}/status.
type SetStatusRequest struct {
	Status device.Status `json:"status"`
}

// InitiateActionRequest is the body of POST /devices/{id}/actions.
type InitiateActionRequest struct {
	ActionType action.Type   `json:"action_type"`
	Params     action.Params `json:"params,omitempty"`
}

// handleListDevices returns all devices ordered by ID.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.query.ListDevices(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleRegisterDevice registers a new device. Registration is not an
// upsert: an existing ID yields 409.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.orch.RegisterDevice(r.Context(), req.DeviceID, req.Status, req.Metadata)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.query.GetDeviceInfo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleSetDeviceStatus marks a device IDLE, OFFLINE or UNKNOWN.
func (s *Server) handleSetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.orch.SetAvailability(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleInitiateAction starts an action on a device. It answers 202 with
// the PENDING action; clients poll GET /actions/{id} for the outcome.
func (s *Server) handleInitiateAction(w http.ResponseWriter, r *http.Request) {
	var req InitiateActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	a, err := s.orch.InitiateAction(r.Context(), chi.URLParam(r, "id"), req.ActionType, req.Params)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/actions/"+a.ID)
	writeJSON(w, http.StatusAccepted, a)
}

// handleListDeviceActions returns a device's action history in creation
// order.
func (s *Server) handleListDeviceActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.query.ListDeviceActions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if actions == nil {
		actions = []action.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
}
