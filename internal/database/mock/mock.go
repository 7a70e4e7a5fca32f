// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/timezone"
)

// MockIdentityRepository is a mock implementation of database.IdentityWriter
type MockIdentityRepository struct {
	mu         sync.RWMutex
	identities map[int64]*database.Identity
	nextID     int64

	// Decisions is notified on delete so the configured policy can be applied.
	Decisions *MockDecisionRepository

	// Error injection
	GetError           error
	ListError          error
	CountError         error
	ListEncodingsError error
	CreateError        error
	UpdateError        error
	SetEncodingError   error
	DeleteError        error
}

// NewMockIdentityRepository creates a new mock identity repository
func NewMockIdentityRepository() *MockIdentityRepository {
	return &MockIdentityRepository{
		identities: make(map[int64]*database.Identity),
		nextID:     1,
	}
}

func cloneIdentity(id *database.Identity) database.Identity {
	out := *id
	out.Encoding = slices.Clone(id.Encoding)
	return out
}

// AddIdentity adds an identity to the mock store, assigning an ID if it has none
func (m *MockIdentityRepository) AddIdentity(identity database.Identity) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if identity.ID == 0 {
		identity.ID = m.nextID
	}
	if identity.ID >= m.nextID {
		m.nextID = identity.ID + 1
	}
	stored := cloneIdentity(&identity)
	m.identities[identity.ID] = &stored
	return identity.ID
}

// Get retrieves an identity by ID
func (m *MockIdentityRepository) Get(ctx context.Context, id int64) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	out := cloneIdentity(identity)
	return &out, nil
}

// Name returns the name of an identity or an empty string
func (m *MockIdentityRepository) Name(id int64) string {
	name, _ := m.lookup(id)
	return name
}

func (m *MockIdentityRepository) lookup(id int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.identities[id]
	if !ok {
		return "", false
	}
	return identity.Name, true
}

// List returns identities ordered by name
func (m *MockIdentityRepository) List(ctx context.Context, filter database.IdentityFilter) ([]database.Identity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	var all []database.Identity
	for _, identity := range m.identities {
		if facematch.NameMatches(identity.Name, filter.Query) ||
			strings.Contains(strings.ToLower(identity.Code), strings.ToLower(filter.Query)) {
			all = append(all, cloneIdentity(identity))
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID < all[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultHandlerPageSize
	}
	start := min(max(filter.Offset, 0), len(all))
	end := min(start+limit, len(all))
	return all[start:end], nil
}

// Count returns the number of identities
func (m *MockIdentityRepository) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// ListEncodings returns enrolled vectors ordered by identity id
func (m *MockIdentityRepository) ListEncodings(ctx context.Context) ([]database.EncodingRecord, error) {
	if m.ListEncodingsError != nil {
		return nil, m.ListEncodingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []database.EncodingRecord
	for _, identity := range m.identities {
		if identity.HasEncoding() {
			records = append(records, database.EncodingRecord{
				IdentityID: identity.ID,
				Name:       identity.Name,
				Encoding:   slices.Clone(identity.Encoding),
				HasImage:   identity.ImagePath != "",
			})
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].IdentityID < records[j].IdentityID })
	return records, nil
}

func (m *MockIdentityRepository) codeTaken(code string, except int64) bool {
	for _, identity := range m.identities {
		if identity.Code == code && identity.ID != except {
			return true
		}
	}
	return false
}

// Create inserts an identity
func (m *MockIdentityRepository) Create(ctx context.Context, identity *database.Identity) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codeTaken(identity.Code, 0) {
		return fmt.Errorf("code %q: %w", identity.Code, database.ErrConflict)
	}
	identity.ID = m.nextID
	m.nextID++
	now := timezone.Now()
	identity.CreatedAt = now
	identity.UpdatedAt = now
	stored := cloneIdentity(identity)
	m.identities[identity.ID] = &stored
	return nil
}

// Update changes name and code
func (m *MockIdentityRepository) Update(ctx context.Context, identity *database.Identity) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.identities[identity.ID]
	if !ok {
		return fmt.Errorf("identity %d: %w", identity.ID, database.ErrNotFound)
	}
	if m.codeTaken(identity.Code, identity.ID) {
		return fmt.Errorf("code %q: %w", identity.Code, database.ErrConflict)
	}
	stored.Name = identity.Name
	stored.Code = identity.Code
	stored.UpdatedAt = timezone.Now()
	identity.UpdatedAt = stored.UpdatedAt
	return nil
}

// SetEncoding replaces the vector and image
func (m *MockIdentityRepository) SetEncoding(ctx context.Context, id int64, encoding []float32, imagePath string) (*database.Identity, error) {
	if m.SetEncodingError != nil {
		return nil, m.SetEncodingError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	stored.Encoding = slices.Clone(encoding)
	stored.ImagePath = imagePath
	stored.UpdatedAt = timezone.Now()
	out := cloneIdentity(stored)
	return &out, nil
}

// Delete removes an identity and applies the policy to linked decisions
func (m *MockIdentityRepository) Delete(ctx context.Context, id int64, policy database.DeletePolicy) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	if _, ok := m.identities[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	delete(m.identities, id)
	m.mu.Unlock()

	if m.Decisions != nil {
		m.Decisions.detach(id, policy)
	}
	return nil
}

// MockDecisionRepository is a mock implementation of database.DecisionStore
type MockDecisionRepository struct {
	mu        sync.RWMutex
	decisions []database.Decision
	nextID    int64

	// Identities resolves names; optional.
	Identities *MockIdentityRepository
	// Now overrides the clock; defaults to timezone.Now.
	Now func() time.Time
	// Delay is slept inside Record while holding the append lock.
	Delay time.Duration

	// Error injection
	RecordError error
	ListError   error
	CountError  error
}

// NewMockDecisionRepository creates a new mock decision repository
func NewMockDecisionRepository() *MockDecisionRepository {
	return &MockDecisionRepository{nextID: 1}
}

// Record appends a decision
func (m *MockDecisionRepository) Record(ctx context.Context, outcome database.Outcome, identityID *int64, deviceID *string) (*database.Decision, error) {
	if m.RecordError != nil {
		return nil, m.RecordError
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("record decision: invalid outcome %q", outcome)
	}
	now := timezone.Now
	if m.Now != nil {
		now = m.Now
	}
	d := database.Decision{Outcome: outcome, Timestamp: now(), DeviceID: deviceID}
	if identityID != nil {
		id := *identityID
		d.IdentityID = &id
		if m.Identities != nil {
			// Mirrors the foreign key on decisions.identity_id.
			name, ok := m.Identities.lookup(id)
			if !ok {
				return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
			}
			d.IdentityName = name
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	d.ID = m.nextID
	m.nextID++
	m.decisions = append(m.decisions, d)
	return &d, nil
}

// All returns every recorded decision in id order
func (m *MockDecisionRepository) All() []database.Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.decisions)
}

func matchesFilter(d *database.Decision, f *database.DecisionFilter) bool {
	if f.IdentityID != nil && (d.IdentityID == nil || *d.IdentityID != *f.IdentityID) {
		return false
	}
	if f.Outcome != "" && d.Outcome != f.Outcome {
		return false
	}
	if f.Start != nil && d.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && d.Timestamp.After(*f.End) {
		return false
	}
	return true
}

// List returns decisions newest first
func (m *MockDecisionRepository) List(ctx context.Context, filter database.DecisionFilter) ([]database.Decision, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultHandlerPageSize
	}
	skipped := 0
	var out []database.Decision
	for i := len(m.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		d := m.decisions[i]
		if !matchesFilter(&d, &filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		if d.IdentityID != nil && m.Identities != nil {
			d.IdentityName = m.Identities.Name(*d.IdentityID)
		}
		out = append(out, d)
	}
	return out, nil
}

// CountSince counts decisions at or after since
func (m *MockDecisionRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, d := range m.decisions {
		if !d.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

// CheckedInSince returns identities with a matched decision at or after since
func (m *MockDecisionRepository) CheckedInSince(ctx context.Context, since time.Time) ([]database.CheckIn, error) {
	if m.CountError != nil {
		return nil, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	first := make(map[int64]time.Time)
	for _, d := range m.decisions {
		if d.Outcome != database.OutcomeMatched || d.IdentityID == nil || d.Timestamp.Before(since) {
			continue
		}
		if ts, ok := first[*d.IdentityID]; !ok || d.Timestamp.Before(ts) {
			first[*d.IdentityID] = d.Timestamp
		}
	}

	var out []database.CheckIn
	for id, ts := range first {
		name := ""
		if m.Identities != nil {
			name = m.Identities.Name(id)
		}
		out = append(out, database.CheckIn{IdentityID: id, Name: name, First: ts})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].IdentityID < out[j].IdentityID
	})
	return out, nil
}

func (m *MockDecisionRepository) detach(identityID int64, policy database.DeletePolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.decisions[:0]
	for _, d := range m.decisions {
		if d.IdentityID != nil && *d.IdentityID == identityID {
			if policy == database.DeletePolicyCascade {
				continue
			}
			d.IdentityID = nil
		}
		kept = append(kept, d)
	}
	m.decisions = kept
}

// MockSettingsRepository is a mock implementation of database.SettingsStore
type MockSettingsRepository struct {
	mu       sync.RWMutex
	settings *database.Settings

	GetError  error
	SaveError error
}

// NewMockSettingsRepository creates an empty mock settings repository
func NewMockSettingsRepository() *MockSettingsRepository {
	return &MockSettingsRepository{}
}

// GetSettings returns stored settings or ErrNotFound
func (m *MockSettingsRepository) GetSettings(ctx context.Context) (*database.Settings, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, database.ErrNotFound
	}
	s := *m.settings
	return &s, nil
}

// SaveSettings stores settings
func (m *MockSettingsRepository) SaveSettings(ctx context.Context, s *database.Settings) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = timezone.Now()
	stored := *s
	m.settings = &stored
	return nil
}

// MockAdminRepository is a mock implementation of database.AdminStore
type MockAdminRepository struct {
	mu     sync.RWMutex
	admins map[string]*database.Admin
	nextID int64
}

// NewMockAdminRepository creates a new mock admin repository
func NewMockAdminRepository() *MockAdminRepository {
	return &MockAdminRepository{admins: make(map[string]*database.Admin), nextID: 1}
}

// GetAdmin returns an admin or ErrNotFound
func (m *MockAdminRepository) GetAdmin(ctx context.Context, username string) (*database.Admin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.admins[username]
	if !ok {
		return nil, fmt.Errorf("admin %q: %w", username, database.ErrNotFound)
	}
	out := *a
	return &out, nil
}

// CreateAdmin inserts an admin
func (m *MockAdminRepository) CreateAdmin(ctx context.Context, username, passwordHash string) (*database.Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admins[username]; ok {
		return nil, fmt.Errorf("admin %q: %w", username, database.ErrConflict)
	}
	a := &database.Admin{ID: m.nextID, Username: username, PasswordHash: passwordHash, CreatedAt: timezone.Now()}
	m.nextID++
	m.admins[username] = a
	out := *a
	return &out, nil
}

// SetPassword replaces an admin's password hash
func (m *MockAdminRepository) SetPassword(ctx context.Context, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[username]
	if !ok {
		return fmt.Errorf("admin %q: %w", username, database.ErrNotFound)
	}
	a.PasswordHash = passwordHash
	return nil
}

// MockSessionRepository is a mock implementation of database.SessionStore
type MockSessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]database.StoredSession
}

// NewMockSessionRepository creates a new mock session repository
func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{sessions: make(map[string]database.StoredSession)}
}

// Save stores a session
func (m *MockSessionRepository) Save(ctx context.Context, s *database.StoredSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

// Get returns a live session or nil
func (m *MockSessionRepository) Get(ctx context.Context, id string) (*database.StoredSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || !s.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return &s, nil
}

// Delete removes a session
func (m *MockSessionRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// DeleteExpired removes expired sessions
func (m *MockSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired ones included
func (m *MockSessionRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Compile-time interface checks.
var (
	_ database.IdentityWriter = (*MockIdentityRepository)(nil)
	_ database.DecisionStore  = (*MockDecisionRepository)(nil)
	_ database.SettingsStore  = (*MockSettingsRepository)(nil)
	_ database.AdminStore     = (*MockAdminRepository)(nil)
	_ database.SessionStore   = (*MockSessionRepository)(nil)
)
