package database

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the result tag of a single scan attempt.
type Outcome string

const (
	OutcomeMatched  Outcome = "matched"
	OutcomeRejected Outcome = "rejected"
	OutcomeError    Outcome = "error"
)

// ParseOutcome parses an outcome tag. The verdict values sent by older
// edge clients ("success", "failed", "unknown") are accepted as aliases.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "matched", "success":
		return OutcomeMatched, nil
	case "rejected", "failed", "unknown":
		return OutcomeRejected, nil
	case "error":
		return OutcomeError, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", s)
	}
}

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeMatched, OutcomeRejected, OutcomeError:
		return true
	}
	return false
}

// DeletePolicy controls what happens to decisions when their identity is deleted.
type DeletePolicy string

const (
	// DeletePolicyCascade removes the identity's decisions with it.
	DeletePolicyCascade DeletePolicy = "cascade"
	// DeletePolicyRetain keeps the decisions and clears their identity reference.
	DeletePolicyRetain DeletePolicy = "retain"
)

// Identity is an enrolled person
type Identity struct {
	ID        int64
	Name      string
	Code      string    // student/employee code, unique
	Encoding  []float32 // nil until enrolled
	ImagePath string    // enrollment image file name, empty if none
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasEncoding reports whether the identity has a reference vector.
func (i *Identity) HasEncoding() bool {
	return len(i.Encoding) > 0
}

// EncodingRecord is one row of the encoding set used for matching
type EncodingRecord struct {
	IdentityID int64
	Name       string
	Encoding   []float32
	HasImage   bool
}

// IdentityFilter restricts identity listings.
type IdentityFilter struct {
	Offset int
	Limit  int
	Query  string // matched against name and code, case and diacritic insensitive
}

// Decision is the immutable record of one scan attempt
type Decision struct {
	ID           int64
	IdentityID   *int64
	IdentityName string // resolved at read time, empty when IdentityID is nil
	Outcome      Outcome
	Timestamp    time.Time
	DeviceID     *string
}

// DecisionFilter restricts decision listings. Zero values mean "no restriction".
type DecisionFilter struct {
	Offset     int
	Limit      int
	IdentityID *int64
	Outcome    Outcome
	Start      *time.Time
	End        *time.Time
}

// CheckIn is the first matched decision of an identity in a period.
type CheckIn struct {
	IdentityID int64
	Name       string
	First      time.Time
}

// Settings holds the operator-tunable recognition settings
type Settings struct {
	Threshold float64
	CameraID  int
	UpdatedAt time.Time
}

// Admin is an operator account
type Admin struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// StoredSession is an admin session persisted across restarts.
type StoredSession struct {
	ID        string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}
