package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/timezone"
)

// decisionLockKey is the transaction advisory lock held while appending a decision.
// Holding it until commit makes sequence ids follow commit order.
const decisionLockKey = 0x64656369

// DecisionRepository provides PostgreSQL-backed decision storage.
type DecisionRepository struct {
	pool *Pool
	now  func() time.Time
}

// NewDecisionRepository creates a new PostgreSQL decision repository.
func NewDecisionRepository(pool *Pool) *DecisionRepository {
	return &DecisionRepository{pool: pool, now: timezone.Now}
}

// Record appends a decision and returns the stored row.
func (r *DecisionRepository) Record(
	ctx context.Context, outcome database.Outcome, identityID *int64, deviceID *string,
) (*database.Decision, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("record decision: invalid outcome %q", outcome)
	}
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", decisionLockKey); err != nil {
		return nil, fmt.Errorf("acquire decision lock: %w", err)
	}
	// Taken under the lock so timestamps never decrease as ids grow.
	ts := r.now()

	d := &database.Decision{
		IdentityID: identityID,
		Outcome:    outcome,
		Timestamp:  ts,
		DeviceID:   deviceID,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO decisions (identity_id, outcome, timestamp, device_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, COALESCE((SELECT name FROM identities WHERE id = $1), '')
	`, identityID, string(outcome), ts, deviceID).Scan(&d.ID, &d.IdentityName)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", mapError(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit decision: %w", err)
	}
	return d, nil
}

// List returns decisions newest first.
func (r *DecisionRepository) List(ctx context.Context, filter database.DecisionFilter) ([]database.Decision, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultHandlerPageSize
	}

	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.IdentityID != nil {
		conds = append(conds, "d.identity_id = "+arg(*filter.IdentityID))
	}
	if filter.Outcome != "" {
		conds = append(conds, "d.outcome = "+arg(string(filter.Outcome)))
	}
	if filter.Start != nil {
		conds = append(conds, "d.timestamp >= "+arg(*filter.Start))
	}
	if filter.End != nil {
		conds = append(conds, "d.timestamp <= "+arg(*filter.End))
	}

	query := `
		SELECT d.id, d.identity_id, COALESCE(i.name, ''), d.outcome, d.timestamp, d.device_id
		FROM decisions d
		LEFT JOIN identities i ON i.id = d.identity_id`
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	query += "\n\t\tORDER BY d.id DESC LIMIT " + arg(limit) + " OFFSET " + arg(max(filter.Offset, 0))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []database.Decision
	for rows.Next() {
		var (
			d        database.Decision
			identity sql.NullInt64
			device   sql.NullString
			outcome  string
		)
		if err := rows.Scan(&d.ID, &identity, &d.IdentityName, &outcome, &d.Timestamp, &device); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if identity.Valid {
			d.IdentityID = &identity.Int64
		}
		if device.Valid {
			d.DeviceID = &device.String
		}
		d.Outcome = database.Outcome(outcome)
		d.Timestamp = timezone.In(d.Timestamp)
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return decisions, nil
}

// CountSince returns the number of decisions recorded at or after since.
func (r *DecisionRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM decisions WHERE timestamp >= $1", since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count decisions: %w", err)
	}
	return count, nil
}

// CheckedInSince returns identities with a matched decision at or after since, ordered by name.
func (r *DecisionRepository) CheckedInSince(ctx context.Context, since time.Time) ([]database.CheckIn, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.identity_id, i.name, MIN(d.timestamp)
		FROM decisions d
		JOIN identities i ON i.id = d.identity_id
		WHERE d.outcome = $1 AND d.timestamp >= $2
		GROUP BY d.identity_id, i.name
		ORDER BY i.name, d.identity_id
	`, string(database.OutcomeMatched), since)
	if err != nil {
		return nil, fmt.Errorf("query check-ins: %w", err)
	}
	defer rows.Close()

	var checkIns []database.CheckIn
	for rows.Next() {
		var c database.CheckIn
		if err := rows.Scan(&c.IdentityID, &c.Name, &c.First); err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		c.First = timezone.In(c.First)
		checkIns = append(checkIns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check-ins: %w", err)
	}
	return checkIns, nil
}
