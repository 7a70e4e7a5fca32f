package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/settings"
)

// SettingsHandler handles recognition settings endpoints
type SettingsHandler struct {
	settings *settings.Service
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(svc *settings.Service) *SettingsHandler {
	return &SettingsHandler{settings: svc}
}

// SettingsResponse represents the settings response
type SettingsResponse struct {
	ID        int     `json:"id"`
	Threshold float64 `json:"threshold"`
	CameraID  int     `json:"camera_id"`
}

func newSettingsResponse(s database.Settings) SettingsResponse {
	return SettingsResponse{ID: 1, Threshold: s.Threshold, CameraID: s.CameraID}
}

// Get returns the current settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, newSettingsResponse(h.settings.Get()))
}

type settingsUpdateRequest struct {
	Threshold *float64 `json:"threshold"`
	CameraID  *int     `json:"camera_id"`
}

// Update changes threshold and/or camera id; the new threshold applies from the next scan
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.CameraID != nil && *req.CameraID < 0 {
		respondError(w, http.StatusBadRequest, "camera_id must not be negative")
		return
	}

	updated, err := h.settings.Update(r.Context(), req.Threshold, req.CameraID)
	if errors.Is(err, settings.ErrInvalidThreshold) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("updating settings failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	slog.Info("settings updated", "threshold", updated.Threshold, "camera_id", updated.CameraID)
	respondJSON(w, http.StatusOK, newSettingsResponse(updated))
}
