package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nerrad567/devicehub-core/internal/audit"
	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
)

type commandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

type configRequest struct {
	Config json.RawMessage `json:"config"`
}

// handleListDevices returns the devices visible to the caller.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principalFrom(ctx)
	if !ok {
		writeUnauthorized(w, "autenticación requerida")
		return
	}

	all, err := s.devices.List(ctx)
	if err != nil {
		s.internalError(w, r, "failed to list devices", err)
		return
	}

	visible, err := s.access.FilterDevices(ctx, p, all)
	if err != nil {
		s.internalError(w, r, "failed to filter devices", err)
		return
	}
	if visible == nil {
		visible = []device.Device{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": visible, "count": len(visible)})
}

// handleGetDevice returns a single device. Access was checked by deviceAccess.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deviceFrom(r.Context()))
}

// handleDeviceCommand authorises a command and publishes it to the device.
// The response is 202: delivery is confirmed by the device on its ack topic.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := principalFrom(ctx)
	if !ok {
		writeUnauthorized(w, "autenticación requerida")
		return
	}
	d := deviceFrom(ctx)

	var req commandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name, err := device.NormalizeCommand(req.Command)
	if err != nil {
		writeBadRequest(w, "comando inválido")
		return
	}

	if !s.authorized(w, r, s.access.AuthorizeCommand(ctx, p, d, name)) {
		return
	}

	if s.mqtt == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bus de dispositivos no disponible")
		return
	}

	cmd := device.Command{
		ID:       ulid.Make().String(),
		DeviceID: d.ID,
		Command:  name,
		Params:   req.Params,
		IssuedBy: p.ID,
		Role:     string(p.Role),
		IssuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		s.internalError(w, r, "failed to encode command", err)
		return
	}

	if err := s.mqtt.Publish(mqtt.Topics{}.DeviceCommand(d.ID), payload, s.mqtt.QoS(), false); err != nil {
		s.logger.Error("failed to publish device command",
			"device_id", d.ID,
			"command", name,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no se pudo enviar el comando")
		return
	}

	s.metrics.commands.WithLabelValues(name).Inc()
	s.events.WriteDeviceCommand(d.ID, name, string(p.Role))
	s.auditLog(ctx, &audit.Entry{
		Action:     audit.ActionDeviceCommand,
		EntityType: "device",
		EntityID:   d.ID,
		Outcome:    audit.OutcomeSuccess,
		Details:    map[string]any{"command": name, "command_id": cmd.ID},
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "accepted",
		"command_id": cmd.ID,
		"device_id":  d.ID,
		"command":    name,
	})
}

// handleUpdateDeviceConfig replaces the configuration of a device and
// pushes it to the device as a retained message.
func (s *Server) handleUpdateDeviceConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d := deviceFrom(ctx)

	var req configRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg, err := device.ValidateConfig(req.Config)
	if err != nil {
		writeBadRequest(w, "configuración inválida: debe ser un objeto JSON")
		return
	}

	if err := s.devices.UpdateConfig(ctx, d.ID, cfg); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "dispositivo no encontrado")
			return
		}
		s.internalError(w, r, "failed to update device config", err)
		return
	}

	if s.mqtt != nil {
		if err := s.mqtt.Publish(mqtt.Topics{}.DeviceConfig(d.ID), cfg, s.mqtt.QoS(), true); err != nil {
			s.logger.Warn("failed to publish device config", "device_id", d.ID, "error", err)
		}
	}

	s.auditLog(ctx, &audit.Entry{
		Action:     audit.ActionDeviceConfig,
		EntityType: "device",
		EntityID:   d.ID,
		Outcome:    audit.OutcomeSuccess,
	})

	updated, err := s.devices.GetByID(ctx, d.ID)
	if err != nil {
		s.internalError(w, r, "failed to reload device", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d := deviceFrom(ctx)

	if err := s.devices.Delete(ctx, d.ID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "dispositivo no encontrado")
			return
		}
		s.internalError(w, r, "failed to delete device", err)
		return
	}

	s.logger.Info("device deleted", "device_id", d.ID, "request_id", requestIDFrom(ctx))
	s.auditLog(ctx, &audit.Entry{
		Action:     audit.ActionDeviceDelete,
		EntityType: "device",
		EntityID:   d.ID,
		Outcome:    audit.OutcomeSuccess,
		Details:    map[string]any{"nombre": d.Nombre},
	})

	w.WriteHeader(http.StatusNoContent)
}
