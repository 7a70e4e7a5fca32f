package database

import (
	"context"
	"time"
)

// IdentityReader provides read-only access to enrolled identities
type IdentityReader interface {
	// Get returns the identity or ErrNotFound
	Get(ctx context.Context, id int64) (*Identity, error)
	// List returns identities ordered by name
	List(ctx context.Context, filter IdentityFilter) ([]Identity, error)
	// Count returns the total number of identities
	Count(ctx context.Context) (int, error)
	// ListEncodings returns every enrolled reference vector ordered by identity id
	ListEncodings(ctx context.Context) ([]EncodingRecord, error)
}

// IdentityWriter provides write access to identities
type IdentityWriter interface {
	IdentityReader

	// Create inserts a new identity and fills its ID and timestamps.
	// Returns ErrConflict when the code is taken.
	Create(ctx context.Context, identity *Identity) error

	// Update changes name and code. Returns ErrNotFound or ErrConflict.
	Update(ctx context.Context, identity *Identity) error

	// SetEncoding replaces the reference vector and image of an identity and
	// returns the updated row. Re-enrollment never keeps the previous vector.
	SetEncoding(ctx context.Context, id int64, encoding []float32, imagePath string) (*Identity, error)

	// Delete removes an identity, applying policy to its decisions.
	Delete(ctx context.Context, id int64, policy DeletePolicy) error
}

// DecisionRecorder durably appends scan decisions
type DecisionRecorder interface {
	// Record stores a decision with the next sequence id and the current time.
	// Concurrent calls never share an id and ids follow commit order.
	Record(ctx context.Context, outcome Outcome, identityID *int64, deviceID *string) (*Decision, error)
}

// DecisionReader queries the decision history
type DecisionReader interface {
	// List returns decisions newest first
	List(ctx context.Context, filter DecisionFilter) ([]Decision, error)
	// CountSince returns the number of decisions at or after since
	CountSince(ctx context.Context, since time.Time) (int, error)
	// CheckedInSince returns identities with at least one matched decision at or after since
	CheckedInSince(ctx context.Context, since time.Time) ([]CheckIn, error)
}

// DecisionStore combines recording and querying decisions
type DecisionStore interface {
	DecisionRecorder
	DecisionReader
}

// SettingsStore persists recognition settings
type SettingsStore interface {
	// GetSettings returns the stored settings or ErrNotFound
	GetSettings(ctx context.Context) (*Settings, error)
	// SaveSettings stores settings, replacing previous values
	SaveSettings(ctx context.Context, settings *Settings) error
}

// AdminStore persists operator accounts
type AdminStore interface {
	// GetAdmin returns the admin or ErrNotFound
	GetAdmin(ctx context.Context, username string) (*Admin, error)
	// CreateAdmin inserts an admin or returns ErrConflict
	CreateAdmin(ctx context.Context, username, passwordHash string) (*Admin, error)
	// SetPassword replaces the password hash of an existing admin
	SetPassword(ctx context.Context, username, passwordHash string) error
}

// SessionStore persists admin sessions
type SessionStore interface {
	Save(ctx context.Context, session *StoredSession) error
	// Get returns nil when the session does not exist or has expired
	Get(ctx context.Context, id string) (*StoredSession, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context) (int64, error)
}
