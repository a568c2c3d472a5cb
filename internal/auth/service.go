// Package auth implements credential verification, signed-token issuance,
// refresh-token rotation, and security audit logging.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pulsegrid.org/internal/ids"
	"pulsegrid.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	defaultIssuer = "pulsegrid"
	tokenType     = "Bearer"
)

// Service provides authentication and session-lifecycle operations. It holds
// no mutable state and is safe for unbounded concurrent use; serialization is
// delegated entirely to the backing store.
type Service struct {
	store Store
	now   func() time.Time

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	bcryptCost int

	auditTimeout   time.Duration
	auditQueueSize int
	audit          *auditRecorder
}

// Option configures Service behavior.
type Option func(*Service) error

// WithSecret sets the HS256 signing secret. Required.
func WithSecret(secret string) Option {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("auth: signing secret is empty")
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		if iss := strings.TrimSpace(issuer); iss != "" {
			s.issuer = iss
		}
		return nil
	}
}

// WithAccessTTL configures access-token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh-token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithBcryptCost tunes the password-hash cost factor for this deployment.
func WithBcryptCost(cost int) Option {
	return func(s *Service) error {
		if cost > 0 {
			s.bcryptCost = cost
		}
		return nil
	}
}

// WithAuditTimeout bounds each background audit write.
func WithAuditTimeout(d time.Duration) Option {
	return func(s *Service) error {
		if d > 0 {
			s.auditTimeout = d
		}
		return nil
	}
}

// WithAuditQueueSize bounds the audit backlog.
func WithAuditQueueSize(n int) Option {
	return func(s *Service) error {
		if n > 0 {
			s.auditQueueSize = n
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service with injected stores and optional
// configuration. Callers must Close it to drain pending audit writes.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:          store,
		now:            time.Now,
		issuer:         defaultIssuer,
		accessTTL:      defaultAccessTTL,
		refreshTTL:     defaultRefreshTTL,
		bcryptCost:     DefaultBcryptCost,
		auditTimeout:   defaultAuditTimeout,
		auditQueueSize: defaultAuditQueueSize,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	svc.audit = newAuditRecorder(store.Audit(), svc.auditQueueSize, svc.auditTimeout)
	return svc, nil
}

// Close stops the background audit writer after draining queued entries.
func (s *Service) Close() {
	s.audit.Close()
}

// Login authenticates a credential pair and issues an access+refresh pair.
// Unknown usernames and wrong passwords fail identically to resist
// enumeration; inactive accounts fail with a distinct signal.
func (s *Service) Login(ctx context.Context, req *LoginRequest, ipAddress, userAgent string) (*LoginResponse, error) {
	user, err := s.store.Users().GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin("invalid_credentials")
			s.logAudit(nil, "login_failed", ipAddress, userAgent, map[string]string{
				"reason":   "user_not_found",
				"username": req.Username,
			})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !user.IsActive {
		obs.ObserveLogin("user_inactive")
		s.logAudit(&user.ID, "login_failed", ipAddress, userAgent, map[string]string{
			"reason": "user_inactive",
		})
		return nil, ErrUserInactive
	}

	if err := VerifyPassword(user.PasswordHash, req.Password); err != nil {
		obs.ObserveLogin("invalid_credentials")
		s.logAudit(&user.ID, "login_failed", ipAddress, userAgent, map[string]string{
			"reason": "invalid_password",
		})
		return nil, ErrInvalidCredentials
	}

	resp, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	// Best effort; a failed timestamp update must not fail the login.
	if err := s.store.Users().UpdateLastLogin(ctx, user.ID); err != nil {
		obs.Warn("update last login failed", map[string]any{
			"user_id": user.ID.String(),
			"error":   err.Error(),
		})
	}

	obs.ObserveLogin("success")
	s.logAudit(&user.ID, "login_success", ipAddress, userAgent, nil)
	return resp, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh access+refresh pair is issued for the same user. Presenting an
// already-rotated token is the replay signal and fails with ErrTokenRevoked.
func (s *Service) Refresh(ctx context.Context, refreshToken, ipAddress, userAgent string) (*LoginResponse, error) {
	tokenHash := hashToken(refreshToken)

	stored, err := s.store.RefreshTokens().GetByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveRefresh("invalid")
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}

	if s.now().After(stored.ExpiresAt) {
		obs.ObserveRefresh("expired")
		return nil, ErrTokenExpired
	}

	if stored.RevokedAt != nil {
		obs.ObserveRefresh("revoked")
		s.logAudit(&stored.UserID, "token_replayed", ipAddress, userAgent, map[string]string{
			"token_id": stored.ID,
		})
		return nil, ErrTokenRevoked
	}

	user, err := s.store.Users().GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveRefresh("invalid")
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.IsActive {
		obs.ObserveRefresh("user_inactive")
		return nil, ErrUserInactive
	}

	// The conditional revoke is the serialization point: of two concurrent
	// rotations of the same token, exactly one passes here.
	if err := s.store.RefreshTokens().Revoke(ctx, tokenHash); err != nil {
		if errors.Is(err, ErrTokenRevoked) || errors.Is(err, ErrNotFound) {
			obs.ObserveRefresh("revoked")
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("revoke rotated token: %w", err)
	}

	resp, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	obs.ObserveRefresh("success")
	s.logAudit(&user.ID, "token_refresh", ipAddress, userAgent, nil)
	return resp, nil
}

// Logout revokes the single refresh token matching the presented plaintext.
// Unknown and already-revoked tokens report success: the session is gone
// either way.
func (s *Service) Logout(ctx context.Context, refreshToken, ipAddress, userAgent string) error {
	tokenHash := hashToken(refreshToken)

	stored, err := s.store.RefreshTokens().GetByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logAudit(nil, "logout", ipAddress, userAgent, map[string]string{
				"reason": "unknown_token",
			})
			return nil
		}
		return fmt.Errorf("find refresh token: %w", err)
	}

	if err := s.store.RefreshTokens().Revoke(ctx, tokenHash); err != nil {
		if !errors.Is(err, ErrTokenRevoked) && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("revoke token: %w", err)
		}
	}

	s.logAudit(&stored.UserID, "logout", ipAddress, userAgent, nil)
	return nil
}

// LogoutAll revokes every live refresh token owned by the user. This is the
// designed response to a suspected credential compromise.
func (s *Service) LogoutAll(ctx context.Context, userID uuid.UUID, ipAddress, userAgent string) error {
	if err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke all tokens: %w", err)
	}
	s.logAudit(&userID, "logout_all", ipAddress, userAgent, nil)
	return nil
}

// ValidateAccessToken verifies signature and time window. Time-window
// violations surface as ErrTokenExpired; every other failure (bad signature,
// malformed token, wrong key) is ErrTokenInvalid, so callers can distinguish
// "refresh me" from "re-authenticate".
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// GetUserFromToken loads the full user record behind verified claims.
func (s *Service) GetUserFromToken(ctx context.Context, claims *Claims) (*User, error) {
	return s.store.Users().GetByID(ctx, claims.UserID)
}

// HashPassword hashes a plaintext password at this service's configured
// cost. Registration and password-change flows outside this core call it so
// one tuning knob covers the whole deployment.
func (s *Service) HashPassword(password string) (string, error) {
	return HashPasswordCost(password, s.bcryptCost)
}

// SweepExpiredTokens deletes expired and revoked refresh-token rows.
func (s *Service) SweepExpiredTokens(ctx context.Context) (int64, error) {
	return s.store.RefreshTokens().CleanExpired(ctx)
}

func (s *Service) issueTokens(ctx context.Context, user *User) (*LoginResponse, error) {
	accessToken, err := s.signAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := s.generateRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	return &LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.accessTTL.Seconds()),
		TokenType:    tokenType,
		User:         user,
	}, nil
}

func (s *Service) signAccessToken(user *User) (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) generateRefreshToken(ctx context.Context, userID uuid.UUID) (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(secretBytes)

	rec := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	if err := s.store.RefreshTokens().Create(ctx, rec); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) logAudit(userID *uuid.UUID, action, ipAddress, userAgent string, details map[string]string) {
	s.audit.Record(&AuditEntry{
		ID:           ids.New(),
		UserID:       userID,
		Action:       action,
		ResourceType: "user",
		ResourceID:   userID,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		Details:      details,
		CreatedAt:    s.now().UTC(),
	})
}

// hashToken returns the hex SHA-256 digest persisted in place of plaintext
// refresh tokens.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
