// Package settings owns the process-wide recognition settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// ErrInvalidThreshold is returned for thresholds that are not positive and finite.
var ErrInvalidThreshold = errors.New("threshold must be a positive number")

// Service caches the settings row. Threshold is read lock-free on every scan;
// updates are written through to the store before they become visible.
type Service struct {
	store database.SettingsStore

	mu        sync.Mutex // serializes updates
	threshold atomic.Uint64
	cameraID  atomic.Int64
}

// NewService creates a service with the given initial values.
func NewService(store database.SettingsStore, threshold float64, cameraID int) *Service {
	s := &Service{store: store}
	s.threshold.Store(math.Float64bits(threshold))
	s.cameraID.Store(int64(cameraID))
	return s
}

// Load reads persisted settings. When none exist yet the current values are saved.
func (s *Service) Load(ctx context.Context) error {
	stored, err := s.store.GetSettings(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return s.store.SaveSettings(ctx, &database.Settings{
			Threshold: s.Threshold(),
			CameraID:  s.CameraID(),
		})
	}
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	s.threshold.Store(math.Float64bits(stored.Threshold))
	s.cameraID.Store(int64(stored.CameraID))
	return nil
}

// Threshold returns the active match threshold.
func (s *Service) Threshold() float64 {
	return math.Float64frombits(s.threshold.Load())
}

// CameraID returns the camera index clients should open.
func (s *Service) CameraID() int {
	return int(s.cameraID.Load())
}

// Get returns a copy of the current settings.
func (s *Service) Get() database.Settings {
	return database.Settings{Threshold: s.Threshold(), CameraID: s.CameraID()}
}

// Update changes the settings. Nil fields are left unchanged.
func (s *Service) Update(ctx context.Context, threshold *float64, cameraID *int) (database.Settings, error) {
	if threshold != nil && !validThreshold(*threshold) {
		return database.Settings{}, ErrInvalidThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.Get()
	if threshold != nil {
		next.Threshold = *threshold
	}
	if cameraID != nil {
		next.CameraID = *cameraID
	}
	if err := s.store.SaveSettings(ctx, &next); err != nil {
		return database.Settings{}, fmt.Errorf("saving settings: %w", err)
	}

	s.threshold.Store(math.Float64bits(next.Threshold))
	s.cameraID.Store(int64(next.CameraID))
	return next, nil
}

func validThreshold(t float64) bool {
	return t > 0 && !math.IsInf(t, 0) && !math.IsNaN(t)
}
