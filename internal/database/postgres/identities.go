package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/timezone"
	"github.com/pgvector/pgvector-go"
)

const identityColumns = `id, name, code, encoding, image_path, created_at, updated_at`

// IdentityRepository provides PostgreSQL-backed identity storage.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*database.Identity, error) {
	var (
		id  database.Identity
		vec *pgvector.Vector
	)
	if err := row.Scan(&id.ID, &id.Name, &id.Code, &vec, &id.ImagePath, &id.CreatedAt, &id.UpdatedAt); err != nil {
		return nil, err
	}
	if vec != nil {
		id.Encoding = vec.Slice()
	}
	id.CreatedAt = timezone.In(id.CreatedAt)
	id.UpdatedAt = timezone.In(id.UpdatedAt)
	return &id, nil
}

// Get retrieves an identity by ID.
func (r *IdentityRepository) Get(ctx context.Context, id int64) (*database.Identity, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+identityColumns+" FROM identities WHERE id = $1", id)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return identity, nil
}

// List returns identities ordered by name. The query is normalized the same
// way as facematch.NormalizePersonName and compared against unaccented columns.
func (r *IdentityRepository) List(ctx context.Context, filter database.IdentityFilter) ([]database.Identity, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultHandlerPageSize
	}

	query := "SELECT " + identityColumns + " FROM identities"
	args := []any{}
	if q := facematch.NormalizePersonName(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		query += ` WHERE LOWER(REPLACE(unaccent(name), '-', ' ')) LIKE $1 OR LOWER(code) LIKE $1`
	}
	args = append(args, limit, max(filter.Offset, 0))
	query += fmt.Sprintf(" ORDER BY name, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []database.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, *identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// Count returns the total number of identities.
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// ListEncodings returns every enrolled vector ordered by identity id.
func (r *IdentityRepository) ListEncodings(ctx context.Context) ([]database.EncodingRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, encoding, image_path <> ''
		FROM identities
		WHERE encoding IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query encodings: %w", err)
	}
	defer rows.Close()

	var records []database.EncodingRecord
	for rows.Next() {
		var (
			rec database.EncodingRecord
			vec pgvector.Vector
		)
		if err := rows.Scan(&rec.IdentityID, &rec.Name, &vec, &rec.HasImage); err != nil {
			return nil, fmt.Errorf("scan encoding: %w", err)
		}
		rec.Encoding = vec.Slice()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate encodings: %w", err)
	}
	return records, nil
}

// Create inserts a new identity.
func (r *IdentityRepository) Create(ctx context.Context, identity *database.Identity) error {
	var vec any
	if identity.HasEncoding() {
		vec = pgvector.NewVector(identity.Encoding)
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO identities (name, code, encoding, image_path)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, identity.Name, identity.Code, vec, identity.ImagePath).Scan(&identity.ID, &identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create identity: %w", mapError(err))
	}
	identity.CreatedAt = timezone.In(identity.CreatedAt)
	identity.UpdatedAt = timezone.In(identity.UpdatedAt)
	return nil
}

// Update changes the name and code of an identity.
func (r *IdentityRepository) Update(ctx context.Context, identity *database.Identity) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE identities SET name = $2, code = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, identity.ID, identity.Name, identity.Code).Scan(&identity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("identity %d: %w", identity.ID, database.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update identity: %w", mapError(err))
	}
	identity.UpdatedAt = timezone.In(identity.UpdatedAt)
	return nil
}

// SetEncoding replaces the reference vector and enrollment image.
func (r *IdentityRepository) SetEncoding(ctx context.Context, id int64, encoding []float32, imagePath string) (*database.Identity, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE identities SET encoding = $2, image_path = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+identityColumns,
		id, pgvector.NewVector(encoding), imagePath)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("set encoding: %w", err)
	}
	return identity, nil
}

// Delete removes an identity. With DeletePolicyCascade its decisions are
// removed in the same transaction; with DeletePolicyRetain they are kept and
// their identity reference is cleared.
func (r *IdentityRepository) Delete(ctx context.Context, id int64, policy database.DeletePolicy) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	switch policy {
	case database.DeletePolicyCascade:
		if _, err := tx.ExecContext(ctx, "DELETE FROM decisions WHERE identity_id = $1", id); err != nil {
			return fmt.Errorf("delete decisions: %w", err)
		}
	case database.DeletePolicyRetain:
		if _, err := tx.ExecContext(ctx, "UPDATE decisions SET identity_id = NULL WHERE identity_id = $1", id); err != nil {
			return fmt.Errorf("detach decisions: %w", err)
		}
	default:
		return fmt.Errorf("unknown delete policy %q", policy)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM identities WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}
