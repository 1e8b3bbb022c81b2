package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"memberportal/internal/auth"
	"memberportal/internal/logging"
	"memberportal/internal/models"
	"memberportal/internal/obs"
	"memberportal/internal/store"
)

const DefaultTTL = 30 * 24 * time.Hour

var ErrInvalidSession = errors.New("invalid session")

type Store interface {
	CreateSession(ctx context.Context, sess models.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (models.Session, error)
	GetSessionByID(ctx context.Context, id string) (models.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) (bool, error)
	DeactivateSession(ctx context.Context, id string) error
	MarkSessionRevoked(ctx context.Context, id string, at time.Time, by, reason string) error
	ListActiveSessionIDs(ctx context.Context, userID string) ([]string, error)
	DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	GetUserByID(ctx context.Context, id string) (models.User, error)
	TouchUserLastLogin(ctx context.Context, userID string, at time.Time, ip string) error
}

type SecurityLogger interface {
	LogSecurityEvent(ctx context.Context, category models.AuditCategory, ev models.SecurityEvent)
}

// Manager owns the session lifecycle. The database row is the only source of
// truth; nothing is cached in process.
type Manager struct {
	st    Store
	audit SecurityLogger
	log   logging.Logger
	now   func() time.Time
	ttl   time.Duration
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func NewManager(st Store, audit SecurityLogger, log logging.Logger, opts ...Option) *Manager {
	m := &Manager{st: st, audit: audit, log: log, now: time.Now, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Created carries the raw cookie token, which is never persisted.
type Created struct {
	Token   string
	Session models.Session
}

func (m *Manager) CreateSession(ctx context.Context, userID, ip, ua string, persistent bool) (Created, error) {
	raw, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return Created{}, fmt.Errorf("generate session token: %w", err)
	}
	now := m.now().UTC().Truncate(time.Millisecond)
	sess := models.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		TokenHash:    hash,
		ExpiresAt:    now.Add(m.ttl),
		CreatedAt:    now,
		LastActivity: now,
		Fingerprint:  Fingerprint(ip, ua),
		IsActive:     true,
		Persistent:   persistent,
	}
	if err := m.st.CreateSession(ctx, sess); err != nil {
		return Created{}, fmt.Errorf("create session: %w", err)
	}
	if err := m.st.TouchUserLastLogin(ctx, userID, now, ip); err != nil {
		m.log.Warn(ctx, "update last login", "user_id", userID, "err", err)
	}
	return Created{Token: raw, Session: sess}, nil
}

// ValidateSession resolves a cookie token to a live session and its user.
// A fingerprint mismatch is recorded but tolerated.
func (m *Manager) ValidateSession(ctx context.Context, token, ip, ua string) (models.Session, models.User, error) {
	if token == "" {
		return models.Session{}, models.User{}, ErrInvalidSession
	}
	if !auth.WellFormedToken(token) {
		m.audit.LogSecurityEvent(ctx, models.CategoryAuthentication, models.SecurityEvent{
			EventType:   "malformed_session_token",
			Severity:    models.SeverityWarning,
			Description: "session cookie does not match the token format",
		})
		return models.Session{}, models.User{}, ErrInvalidSession
	}

	sess, err := m.st.GetSessionByTokenHash(ctx, auth.HashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return models.Session{}, models.User{}, ErrInvalidSession
	}
	if err != nil {
		return models.Session{}, models.User{}, fmt.Errorf("lookup session: %w", err)
	}
	now := m.now().UTC()
	if !Live(sess, now) {
		return models.Session{}, models.User{}, ErrInvalidSession
	}

	user, err := m.st.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Session{}, models.User{}, ErrInvalidSession
	}
	if err != nil {
		return models.Session{}, models.User{}, fmt.Errorf("lookup session user: %w", err)
	}
	if user.Status == models.UserDisabled || user.Status == models.UserPendingSetup {
		return models.Session{}, models.User{}, ErrInvalidSession
	}

	if sess.Fingerprint != nil {
		if fp := Fingerprint(ip, ua); fp != nil && *fp != *sess.Fingerprint {
			uid := user.ID
			m.audit.LogSecurityEvent(ctx, models.CategoryAuthentication, models.SecurityEvent{
				EventType:   "session_fingerprint_mismatch",
				Severity:    models.SeverityWarning,
				UserID:      &uid,
				Description: "session presented from a different network or client",
				Details:     map[string]any{"session_id": sess.ID},
			})
		}
	}

	ok, err := m.st.TouchSession(ctx, sess.ID, now)
	if err != nil {
		return models.Session{}, models.User{}, fmt.Errorf("touch session: %w", err)
	}
	if !ok {
		return models.Session{}, models.User{}, ErrInvalidSession
	}
	sess.LastActivity = now
	return sess, user, nil
}

// Lookup returns the session row for token without validating it.
func (m *Manager) Lookup(ctx context.Context, token string) (models.Session, error) {
	if !auth.WellFormedToken(token) {
		return models.Session{}, store.ErrNotFound
	}
	return m.st.GetSessionByTokenHash(ctx, auth.HashToken(token))
}

// RevokeSession deactivates the session and records who revoked it. Both
// writes are always attempted; either one alone makes the session invalid.
func (m *Manager) RevokeSession(ctx context.Context, sessionID, revokedBy, reason string) {
	if err := m.st.DeactivateSession(ctx, sessionID); err != nil {
		obs.RevocationFailures.WithLabelValues("deactivate").Inc()
		m.log.Error(ctx, "deactivate session", "session_id", sessionID, "err", err)
	}
	if err := m.st.MarkSessionRevoked(ctx, sessionID, m.now().UTC(), revokedBy, reason); err != nil {
		obs.RevocationFailures.WithLabelValues("metadata").Inc()
		m.log.Error(ctx, "record session revocation", "session_id", sessionID, "err", err)
	}
}

func (m *Manager) RevokeAllUserSessions(ctx context.Context, userID, revokedBy, reason string) (int, error) {
	ids, err := m.st.ListActiveSessionIDs(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	for _, id := range ids {
		m.RevokeSession(ctx, id, revokedBy, reason)
	}
	if len(ids) > 0 {
		m.log.Info(ctx, "revoked user sessions", "user_id", userID, "count", len(ids), "reason", reason)
	}
	return len(ids), nil
}

// CleanupExpiredSessions deactivates expired sessions and deletes those that
// expired more than retentionDays ago.
func (m *Manager) CleanupExpiredSessions(ctx context.Context, retentionDays int) (int64, error) {
	now := m.now().UTC()
	if _, err := m.st.DeactivateExpiredSessions(ctx, now); err != nil {
		return 0, fmt.Errorf("deactivate expired sessions: %w", err)
	}
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
	n, err := m.st.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return n, nil
}

// Live reports whether sess may authenticate a request at now.
func Live(sess models.Session, now time.Time) bool {
	return sess.IsActive && sess.RevokedAt == nil && now.Before(sess.ExpiresAt)
}

// Fingerprint hashes the client address and agent. It returns nil when
// neither is known.
func Fingerprint(ip, ua string) *string {
	if ip == "" && ua == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(ip + "|" + ua))
	fp := hex.EncodeToString(sum[:])
	return &fp
}
