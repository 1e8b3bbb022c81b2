package pim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memberportal/internal/ids"
	"memberportal/internal/logging"
	"memberportal/internal/models"
	"memberportal/internal/obs"
	"memberportal/internal/session"
)

var (
	ErrNotEligible     = errors.New("role is not eligible for elevation")
	ErrSessionInactive = errors.New("session is not active")
)

type Store interface {
	SetSessionElevation(ctx context.Context, id string, role models.Role, at, until time.Time) (bool, error)
	ClearSessionElevation(ctx context.Context, id string) (bool, error)
	ClearExpiredElevation(ctx context.Context, id string, observedUntil time.Time) (bool, error)
	InsertElevationRecord(ctx context.Context, rec models.ElevationRecord) error
	ListElevationRecords(ctx context.Context, userID string, limit int) ([]models.ElevationRecord, error)
}

type Auditor interface {
	LogAuthorization(ctx context.Context, e models.AuditEntry)
}

type Manager struct {
	st     Store
	audit  Auditor
	log    logging.Logger
	now    func() time.Time
	window time.Duration
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithWindow sets the elevation length, clamped to MaxWindow.
func WithWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d <= 0 {
			return
		}
		m.window = min(d, MaxWindow)
	}
}

func NewManager(st Store, audit Auditor, log logging.Logger, opts ...Option) *Manager {
	m := &Manager{st: st, audit: audit, log: log, now: time.Now, window: DefaultWindow}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Window() time.Duration { return m.window }

// Elevate moves sess into role for the configured window. Elevating while
// already elevated restarts the window.
func (m *Manager) Elevate(ctx context.Context, sess models.Session, user models.User, role models.Role) (models.Session, error) {
	uid := user.ID
	if !CanElevate(user.Role, role) {
		m.audit.LogAuthorization(ctx, models.AuditEntry{
			EventType: "elevation_denied",
			UserID:    &uid,
			Action:    fmt.Sprintf("elevate %s to %s", user.Role, role),
			Outcome:   models.OutcomeDenied,
		})
		obs.ElevationTransitions.WithLabelValues("denied").Inc()
		return sess, ErrNotEligible
	}
	now := m.now().UTC().Truncate(time.Millisecond)
	if !session.Live(sess, now) {
		return sess, ErrSessionInactive
	}

	until := now.Add(m.window)
	ok, err := m.st.SetSessionElevation(ctx, sess.ID, role, now, until)
	if err != nil {
		return sess, fmt.Errorf("set elevation: %w", err)
	}
	if !ok {
		return sess, ErrSessionInactive
	}
	rec := models.ElevationRecord{
		ID:        ids.NewAt(now),
		SessionID: sess.ID,
		UserID:    user.ID,
		Role:      role,
		Action:    models.ElevationElevate,
		CreatedAt: now,
		ExpiresAt: &until,
	}
	if err := m.st.InsertElevationRecord(ctx, rec); err != nil {
		// An elevation without its history row is not allowed to stand.
		if _, clearErr := m.st.ClearSessionElevation(ctx, sess.ID); clearErr != nil {
			m.log.Error(ctx, "roll back unrecorded elevation", "session_id", sess.ID, "err", clearErr)
		}
		return sess, fmt.Errorf("record elevation: %w", err)
	}

	obs.ElevationTransitions.WithLabelValues(string(models.ElevationElevate)).Inc()
	m.audit.LogAuthorization(ctx, models.AuditEntry{
		EventType: "role_elevated",
		UserID:    &uid,
		Action:    fmt.Sprintf("elevate %s to %s", user.Role, role),
		Outcome:   models.OutcomeSuccess,
		Details:   map[string]any{"session_id": sess.ID, "assumed_role": string(role), "expires_at": until},
	})

	r := role
	sess.AssumedRole = &r
	sess.AssumedAt = &now
	sess.AssumedUntil = &until
	sess.ElevatedUntil = &until
	return sess, nil
}

// Drop returns sess to its base role. Dropping a session that is not elevated
// is a no-op and writes nothing.
func (m *Manager) Drop(ctx context.Context, sess models.Session, user models.User) (models.Session, error) {
	ok, err := m.st.ClearSessionElevation(ctx, sess.ID)
	if err != nil {
		return sess, fmt.Errorf("clear elevation: %w", err)
	}
	if !ok {
		return clearFields(sess), nil
	}
	m.recordDrop(ctx, sess, user, "manual")
	obs.ElevationTransitions.WithLabelValues(string(models.ElevationDrop)).Inc()
	return clearFields(sess), nil
}

// ExpireStale clears elevation fields that are past their deadline. When
// several requests race, only the one whose conditional clear succeeds writes
// the drop record.
func (m *Manager) ExpireStale(ctx context.Context, sess models.Session, user models.User) models.Session {
	if sess.AssumedUntil == nil || Elevated(sess, m.now().UTC()) {
		return sess
	}
	won, err := m.st.ClearExpiredElevation(ctx, sess.ID, *sess.AssumedUntil)
	if err != nil {
		m.log.Warn(ctx, "clear expired elevation", "session_id", sess.ID, "err", err)
		return sess
	}
	if won {
		m.recordDrop(ctx, sess, user, "expired")
		obs.ElevationTransitions.WithLabelValues("expire").Inc()
	}
	return clearFields(sess)
}

func (m *Manager) History(ctx context.Context, userID string, limit int) ([]models.ElevationRecord, error) {
	return m.st.ListElevationRecords(ctx, userID, limit)
}

func (m *Manager) recordDrop(ctx context.Context, sess models.Session, user models.User, reason string) {
	now := m.now().UTC()
	role := user.Role
	if sess.AssumedRole != nil {
		role = *sess.AssumedRole
	}
	rec := models.ElevationRecord{
		ID:        ids.NewAt(now),
		SessionID: sess.ID,
		UserID:    user.ID,
		Role:      role,
		Action:    models.ElevationDrop,
		Reason:    reason,
		CreatedAt: now,
	}
	if err := m.st.InsertElevationRecord(ctx, rec); err != nil {
		m.log.Error(ctx, "record elevation drop", "session_id", sess.ID, "err", err)
	}
	uid := user.ID
	m.audit.LogAuthorization(ctx, models.AuditEntry{
		EventType: "role_dropped",
		UserID:    &uid,
		Action:    fmt.Sprintf("drop %s", role),
		Outcome:   models.OutcomeSuccess,
		Details:   map[string]any{"session_id": sess.ID, "reason": reason},
	})
}

func clearFields(sess models.Session) models.Session {
	sess.AssumedRole = nil
	sess.AssumedAt = nil
	sess.AssumedUntil = nil
	sess.ElevatedUntil = nil
	return sess
}
