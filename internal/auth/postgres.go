package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an existing database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// OpenPGStore opens a PostgreSQL connection pool for the given DSN.
func OpenPGStore(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PGStore{db: db}, nil
}

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Users() UserStore          { return &pgUserStore{db: s.db} }
func (s *PGStore) RefreshTokens() TokenStore { return &pgTokenStore{db: s.db} }
func (s *PGStore) Audit() AuditStore         { return &pgAuditStore{db: s.db} }

// User store ---------------------------------------------------------------
type pgUserStore struct{ db *sql.DB }

const userColumns = `id, username, email, password_hash, display_name, role, is_active, last_login_at, created_at, updated_at`

func (s *pgUserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1`, username)
	return scanUser(row)
}

func (s *pgUserStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *pgUserStore) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login_at = now() where id=$1`, id)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.DisplayName,
		&u.Role, &u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// Token store --------------------------------------------------------------
type pgTokenStore struct{ db *sql.DB }

func (s *pgTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at, created_at)
		 values($1,$2,$3,$4,$5)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

func (s *pgTokenStore) GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, revoked_at
		 from refresh_tokens where token_hash=$1`, tokenHash)
	var tok RefreshToken
	err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return &tok, nil
}

// Revoke is a conditional update: the revoked_at is null guard makes the
// database the sole serializer, so two racing rotations of one token cannot
// both succeed.
func (s *pgTokenStore) Revoke(ctx context.Context, tokenHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = now()
		 where token_hash=$1 and revoked_at is null`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`select exists(select 1 from refresh_tokens where token_hash=$1)`, tokenHash).Scan(&exists)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrTokenRevoked
}

func (s *pgTokenStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at = now()
		 where user_id=$1 and revoked_at is null`, userID)
	if err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

func (s *pgTokenStore) CleanExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < now() or revoked_at is not null`)
	if err != nil {
		return 0, fmt.Errorf("clean expired tokens: %w", err)
	}
	return res.RowsAffected()
}

// Audit store --------------------------------------------------------------
type pgAuditStore struct{ db *sql.DB }

func (s *pgAuditStore) Create(ctx context.Context, entry *AuditEntry) error {
	details, _ := json.Marshal(entry.Details)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, user_id, action, resource_type, resource_id, ip_address, user_agent, details, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		entry.ID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.IPAddress, entry.UserAgent, details, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}
