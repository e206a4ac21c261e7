package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskflow/internal/logger"
	"taskflow/internal/models/user"
	repo "taskflow/internal/repository"
)

const userColumns = `subject, email, name, enabled, group_names, created_at`

// PutUser upserts a directory user; used to seed the store-backed directory.
func (s *Storage) PutUser(ctx context.Context, u *user.User) error {
	groups, err := encodeList(u.Groups)
	if err != nil {
		return err
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	email := strings.ToLower(u.Email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// email is the directory key; a row holding it under another subject is replaced
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE email = ? AND subject <> ?`, email, u.Subject); err != nil {
		logger.Error("Repository: release user email", err)
		return fmt.Errorf("release email: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (subject) DO UPDATE
			SET email = excluded.email,
				name = excluded.name,
				enabled = excluded.enabled,
				group_names = excluded.group_names`,
		u.Subject, email, u.Name, u.Enabled, groups, toMillis(createdAt))
	if err != nil {
		logger.Error("Repository: upsert user", err)
		return fmt.Errorf("upsert user: %w", err)
	}
	return tx.Commit()
}

func scanUser(row rowScanner) (*user.User, error) {
	var (
		u         user.User
		groups    string
		createdAt int64
	)
	if err := row.Scan(&u.Subject, &u.Email, &u.Name, &u.Enabled, &groups, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if u.Groups, err = decodeList(groups); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

func (s *Storage) LookupUser(ctx context.Context, email string) (*user.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		logger.Error("Repository: lookup user", err)
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return u, nil
}

func (s *Storage) ListUsers(ctx context.Context) ([]*user.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		logger.Error("Repository: list users", err)
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []*user.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return users, nil
}
