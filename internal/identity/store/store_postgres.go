package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"visitorid/internal/identity/models"
)

const identityColumns = `id, fingerprint_id, weak_fingerprint_id, scorer_key, created_at, deleted_at`

// PostgresStore persists identities in PostgreSQL.
// This store is pure I/O; resolution policy belongs in the resolver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, primaryID, weakID, scorerKey string, now time.Time) (int64, error) {
	identity, err := models.NewIdentity(primaryID, weakID, scorerKey, now)
	if err != nil {
		return 0, err
	}
	query := `
		INSERT INTO identities (fingerprint_id, weak_fingerprint_id, scorer_key, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var id int64
	err = s.db.QueryRowContext(ctx, query,
		identity.PrimaryID,
		identity.WeakID,
		identity.ScorerKey,
		identity.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create identity: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	identity, err := scanIdentity(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("find identity by id: %w", err)
	}
	return identity, nil
}

// FindExact fetches at most two live rows; two is enough to know the match is ambiguous.
func (s *PostgresStore) FindExact(ctx context.Context, primaryID string) (models.ExactMatch, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE fingerprint_id = $1 AND deleted_at IS NULL
		ORDER BY id
		LIMIT 2
	`
	found, err := s.queryIdentities(ctx, query, primaryID)
	if err != nil {
		return models.ExactMatch{}, fmt.Errorf("find identity by fingerprint: %w", err)
	}
	return models.ExactMatchOf(found), nil
}

func (s *PostgresStore) FindWeak(ctx context.Context, weakID string) ([]*models.Identity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities
		WHERE weak_fingerprint_id = $1 AND deleted_at IS NULL
		ORDER BY id
	`
	found, err := s.queryIdentities(ctx, query, weakID)
	if err != nil {
		return nil, fmt.Errorf("find identities by weak fingerprint: %w", err)
	}
	return found, nil
}

// SoftDelete stamps deleted_at on every live identity in ids with a single statement.
func (s *PostgresStore) SoftDelete(ctx context.Context, now time.Time, ids ...int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `
		UPDATE identities
		SET deleted_at = $2
		WHERE id = ANY($1) AND deleted_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query, pq.Array(ids), now)
	if err != nil {
		return 0, fmt.Errorf("soft delete identities: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("soft delete rows affected: %w", err)
	}
	return int(rows), nil
}

func (s *PostgresStore) queryIdentities(ctx context.Context, query string, args ...any) ([]*models.Identity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var (
		identity  models.Identity
		deletedAt sql.NullTime
	)
	if err := row.Scan(
		&identity.ID,
		&identity.PrimaryID,
		&identity.WeakID,
		&identity.ScorerKey,
		&identity.CreatedAt,
		&deletedAt,
	); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		at := deletedAt.Time
		identity.DeletedAt = &at
	}
	return &identity, nil
}
