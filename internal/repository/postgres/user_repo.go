package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskflow/internal/logger"
	"taskflow/internal/models/user"
	repo "taskflow/internal/repository"

	"github.com/jackc/pgx/v5"
)

// PutUser upserts a directory user; used to seed the store-backed directory.
// Email is the directory key: a row holding the email under another subject is replaced.
func (s *Storage) PutUser(ctx context.Context, u *user.User) error {
	groups := u.Groups
	if groups == nil {
		groups = []string{}
	}
	email := strings.ToLower(u.Email)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM users WHERE email = $1 AND subject <> $2`, email, u.Subject); err != nil {
			return fmt.Errorf("release email: %w", err)
		}

		query := `INSERT INTO users (subject, email, name, enabled, group_names)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (subject) DO UPDATE
				SET email = EXCLUDED.email,
					name = EXCLUDED.name,
					enabled = EXCLUDED.enabled,
					group_names = EXCLUDED.group_names`
		if _, err := tx.Exec(ctx, query, u.Subject, email, u.Name, u.Enabled, groups); err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
	if err != nil {
		logger.Error("Repository: put user", err)
		return err
	}
	return nil
}

func (s *Storage) LookupUser(ctx context.Context, email string) (*user.User, error) {
	query := `SELECT subject, email, name, enabled, group_names, created_at FROM users WHERE email = $1`

	u := &user.User{}
	err := s.pool.QueryRow(ctx, query, strings.ToLower(email)).
		Scan(&u.Subject, &u.Email, &u.Name, &u.Enabled, &u.Groups, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		logger.Error("Repository: lookup user", err)
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return u, nil
}

func (s *Storage) ListUsers(ctx context.Context) ([]*user.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT subject, email, name, enabled, group_names, created_at FROM users ORDER BY email`)
	if err != nil {
		logger.Error("Repository: list users", err)
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []*user.User{}
	for rows.Next() {
		u := &user.User{}
		if err := rows.Scan(&u.Subject, &u.Email, &u.Name, &u.Enabled, &u.Groups, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return users, nil
}
