package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/smartrack-core/internal/audit"
	"github.com/nerrad567/smartrack-core/internal/auth"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/mqtt"
)

type gatewayRequest struct {
	SerialNumber string `json:"serial_number"`
	DeviceSecret string `json:"device_secret"`
}

// gatewayCredentialsResponse is returned when a secret is issued. The
// secret is never retrievable again.
type gatewayCredentialsResponse struct {
	*auth.GatewayDevice
	DeviceSecret string `json:"device_secret,omitempty"`
}

func (s *Server) handleListGateways(w http.ResponseWriter, r *http.Request) {
	devices, err := s.svc.ListGateways(r.Context())
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	if devices == nil {
		devices = []auth.GatewayDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gateways": devices,
		"count":    len(devices),
	})
}

// handleRegisterGateway registers a gateway and returns its secret once.
func (s *Server) handleRegisterGateway(w http.ResponseWriter, r *http.Request) {
	var req gatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	device, secret, err := s.svc.RegisterGateway(r.Context(), req.SerialNumber, req.DeviceSecret)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.auditLog(audit.SourceAPI, audit.ActionGatewayRegister, "gateway_device", device.ID, actorID(r), map[string]any{
		"serial_number": device.SerialNumber,
	})
	s.publishGatewayEvent(device, mqtt.GatewayRegistered)

	writeJSON(w, http.StatusCreated, gatewayCredentialsResponse{GatewayDevice: device, DeviceSecret: secret})
}

func (s *Server) handleGetGateway(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	device, err := s.svc.GetGateway(r.Context(), id)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// handleReplaceGateway moves a gateway record to new hardware.
func (s *Server) handleReplaceGateway(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req gatewayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	device, secret, err := s.svc.ReplaceGateway(r.Context(), id, req.SerialNumber, req.DeviceSecret)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	if secret != "" {
		s.auditLog(audit.SourceAPI, audit.ActionGatewayReplace, "gateway_device", device.ID, actorID(r), map[string]any{
			"serial_number": device.SerialNumber,
		})
		s.publishGatewayEvent(device, mqtt.GatewayReplaced)
	}

	writeJSON(w, http.StatusOK, gatewayCredentialsResponse{GatewayDevice: device, DeviceSecret: secret})
}

func (s *Server) handleRemoveGateway(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.svc.RemoveGateway(r.Context(), id); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.auditLog(audit.SourceAPI, audit.ActionGatewayRemove, "gateway_device", id, actorID(r), nil)
	if s.events != nil && s.events.IsConnected() {
		if err := s.events.ClearGatewayEvent(id); err != nil {
			s.logger.Warn("clearing gateway status failed", "gateway_id", id, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// publishGatewayEvent announces a gateway state change on the bus.
// Failures are logged; the bus is never authoritative.
func (s *Server) publishGatewayEvent(device *auth.GatewayDevice, status string) {
	if s.events == nil || !s.events.IsConnected() {
		return
	}
	ev := mqtt.GatewayEvent{
		GatewayID: device.ID,
		Serial:    device.SerialNumber,
		Status:    status,
		Timestamp: s.now().UTC(),
	}
	if err := s.events.PublishGatewayEvent(ev); err != nil {
		s.logger.Warn("publishing gateway event failed",
			"gateway_id", device.ID,
			"status", status,
			"error", err,
		)
	}
}

func actorID(r *http.Request) int64 {
	if user, _ := auth.UserFromContext(r.Context()); user != nil {
		return user.ID
	}
	return 0
}
