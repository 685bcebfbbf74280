package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"carecomms/server/domain"
	"carecomms/server/errs"
)

func (s *Store) CreateUser(ctx context.Context, user domain.User, password string) (string, error) {
	if strings.TrimSpace(user.Email) == "" || strings.TrimSpace(password) == "" {
		return "", fmt.Errorf("email and password are required: %w", errs.ErrValidation)
	}
	if user.Role == "" {
		user.Role = domain.UserRoleCaree
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, user.ID, user.Email, user.Name, string(user.Role), string(hashed), domain.NowMillis())
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, password_hash, created_at
		FROM users WHERE id = ?
	`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, password_hash, created_at
		FROM users WHERE email = ?
	`, email))
}

func (s *Store) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, fmt.Errorf("wrong password: %w", errs.ErrUnauthorized)
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *Store) UpdateUser(ctx context.Context, id, name, email string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET name = ?, email = ? WHERE id = ?
	`, name, email, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errs.ErrUserNotFound
	}
	return nil
}

func (s *Store) scanUser(row *sql.Row) (domain.User, error) {
	var user domain.User
	var role string
	err := row.Scan(&user.ID, &user.Email, &user.Name, &role, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, errs.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	user.Role = domain.UserRole(role)
	return user, nil
}
