package permission

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPolicyStore resolves grants from the permissions table, sharing the
// main store's connection pool.
type PostgresPolicyStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPolicyStore wraps an existing pool.
func NewPostgresPolicyStore(pool *pgxpool.Pool) *PostgresPolicyStore {
	return &PostgresPolicyStore{pool: pool}
}

func (s *PostgresPolicyStore) FindGrant(ctx context.Context, subjectType SubjectType, subjectID string, resourceType ResourceType, resourceID string, action Action) (*Grant, error) {
	query := `
		SELECT id, subject_type, subject_id, resource_type, COALESCE(resource_id, ''), action, constraints, granted_at, expires_at
		FROM permissions
		WHERE subject_type = $1
		  AND subject_id = $2
		  AND resource_type = $3
		  AND ($4 = '' OR resource_id IS NULL OR resource_id = $4)
		  AND action = $5
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY granted_at DESC
		LIMIT 1
	`
	var g Grant
	err := s.pool.QueryRow(ctx, query, subjectType, subjectID, resourceType, resourceID, action).Scan(
		&g.GrantID, &g.SubjectType, &g.SubjectID, &g.ResourceType, &g.ResourceID,
		&g.Action, &g.Constraints, &g.GrantedAt, &g.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresPolicyStore) UserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT user_role FROM users WHERE id = $1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}
