package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/cymtrack/internal/model"
)

// AdminSessionTTL is how long an admin login stays valid.
const AdminSessionTTL = 7 * 24 * time.Hour

type AdminSessionStore struct {
	db *sql.DB
}

func NewAdminSessionStore(db *sql.DB) *AdminSessionStore {
	return &AdminSessionStore{db: db}
}

func scanAdminSession(scanner interface{ Scan(...any) error }) (*model.AdminSession, error) {
	var s model.AdminSession
	err := scanner.Scan(&s.ID, &s.Token, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const adminSessionCols = `id, token, expires_at, created_at`

// Create generates a new session with a crypto-random token.
func (s *AdminSessionStore) Create() (*model.AdminSession, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	expiresAt := time.Now().UTC().Add(AdminSessionTTL)

	result, err := s.db.Exec(
		`INSERT INTO admin_sessions (token, expires_at) VALUES (?, ?)`,
		token, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert admin session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+adminSessionCols+` FROM admin_sessions WHERE id = ?`, id)
	return scanAdminSession(row)
}

// GetByToken returns the session for the given token, or nil if expired or not found.
func (s *AdminSessionStore) GetByToken(token string) (*model.AdminSession, error) {
	row := s.db.QueryRow(
		`SELECT `+adminSessionCols+` FROM admin_sessions WHERE token = ? AND expires_at > ?`,
		token, time.Now().UTC(),
	)
	sess, err := scanAdminSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get admin session by token: %w", err)
	}
	return sess, nil
}

func (s *AdminSessionStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM admin_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete admin session: %w", err)
	}
	return nil
}

func (s *AdminSessionStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM admin_sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired admin sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
