package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/settings"
)

func TestSettingsHandler_Get(t *testing.T) {
	h := NewSettingsHandler(settings.NewService(mock.NewMockSettingsRepository(), constants.DefaultDistanceThreshold, 0))

	recorder := httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest("GET", "/api/settings", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var resp SettingsResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.ID != 1 || resp.Threshold != constants.DefaultDistanceThreshold || resp.CameraID != 0 {
		t.Errorf("unexpected settings %+v", resp)
	}
}

func TestSettingsHandler_Update(t *testing.T) {
	tests := []struct {
		name          string
		body          map[string]any
		status        int
		wantThreshold float64
		wantCamera    int
	}{
		{"threshold only", map[string]any{"threshold": 0.55}, http.StatusOK, 0.55, 0},
		{"camera only", map[string]any{"camera_id": 2}, http.StatusOK, constants.DefaultDistanceThreshold, 2},
		{"both", map[string]any{"threshold": 0.35, "camera_id": 1}, http.StatusOK, 0.35, 1},
		{"zero threshold", map[string]any{"threshold": 0}, http.StatusBadRequest, constants.DefaultDistanceThreshold, 0},
		{"negative threshold", map[string]any{"threshold": -0.2}, http.StatusBadRequest, constants.DefaultDistanceThreshold, 0},
		{"negative camera", map[string]any{"camera_id": -1}, http.StatusBadRequest, constants.DefaultDistanceThreshold, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := settings.NewService(mock.NewMockSettingsRepository(), constants.DefaultDistanceThreshold, 0)
			h := NewSettingsHandler(svc)

			recorder := httptest.NewRecorder()
			h.Update(recorder, jsonRequest(t, "PUT", "/api/settings", tc.body))
			assertStatusCode(t, recorder, tc.status)

			// The service is what scans read from.
			if got := svc.Threshold(); got != tc.wantThreshold {
				t.Errorf("Threshold() = %v, want %v", got, tc.wantThreshold)
			}
			if got := svc.Get().CameraID; got != tc.wantCamera {
				t.Errorf("CameraID = %d, want %d", got, tc.wantCamera)
			}
		})
	}
}

func TestSettingsHandler_UpdateSaveError(t *testing.T) {
	repo := mock.NewMockSettingsRepository()
	repo.SaveError = errors.New("disk full")
	svc := settings.NewService(repo, constants.DefaultDistanceThreshold, 0)

	recorder := httptest.NewRecorder()
	NewSettingsHandler(svc).Update(recorder, jsonRequest(t, "PUT", "/api/settings", map[string]any{"threshold": 0.6}))
	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, "failed to save settings")

	if svc.Threshold() != constants.DefaultDistanceThreshold {
		t.Error("threshold must not change when saving fails")
	}
}
