package store

import (
	"context"
	"database/sql"
	"time"

	"memberportal/internal/models"
)

const sessionColumns = `id,user_id,token_hash,expires_at,created_at,last_activity,fingerprint,is_active,persistent,revoked_at,revoked_by,revocation_reason,elevated_until,assumed_role,assumed_at,assumed_until`

func scanSession(row rowScanner) (models.Session, error) {
	var s models.Session
	var expires, created, lastActivity int64
	var fingerprint, revokedBy, reason, assumedRole sql.NullString
	var active, persistent int
	var revokedAt, elevatedUntil, assumedAt, assumedUntil sql.NullInt64
	if err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &expires, &created, &lastActivity, &fingerprint, &active, &persistent,
		&revokedAt, &revokedBy, &reason, &elevatedUntil, &assumedRole, &assumedAt, &assumedUntil); err != nil {
		return models.Session{}, err
	}
	s.ExpiresAt = fromMS(expires)
	s.CreatedAt = fromMS(created)
	s.LastActivity = fromMS(lastActivity)
	s.Fingerprint = strPtr(fingerprint)
	s.IsActive = active == 1
	s.Persistent = persistent == 1
	s.RevokedAt = timePtr(revokedAt)
	s.RevokedBy = strPtr(revokedBy)
	s.RevocationReason = strPtr(reason)
	s.ElevatedUntil = timePtr(elevatedUntil)
	if assumedRole.Valid {
		r := models.Role(assumedRole.String)
		s.AssumedRole = &r
	}
	s.AssumedAt = timePtr(assumedAt)
	s.AssumedUntil = timePtr(assumedUntil)
	return s, nil
}

func (s *Store) CreateSession(ctx context.Context, sess models.Session) error {
	_, err := s.exec(ctx,
		`INSERT INTO sessions(id,user_id,token_hash,expires_at,created_at,last_activity,fingerprint,is_active,persistent) VALUES(?,?,?,?,?,?,?,1,?)`,
		sess.ID, sess.UserID, sess.TokenHash, ms(sess.ExpiresAt), ms(sess.CreatedAt), ms(sess.LastActivity),
		nullStr(sess.Fingerprint), boolToInt(sess.Persistent),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (models.Session, error) {
	sess, err := scanSession(s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash=?`, tokenHash))
	if err == sql.ErrNoRows {
		return models.Session{}, ErrNotFound
	}
	return sess, err
}

func (s *Store) GetSessionByID(ctx context.Context, id string) (models.Session, error) {
	sess, err := scanSession(s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return models.Session{}, ErrNotFound
	}
	return sess, err
}

// TouchSession bumps last_activity only while the session is still live.
// A false result means a concurrent revocation won.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := s.execAffected(ctx,
		`UPDATE sessions SET last_activity=? WHERE id=? AND is_active=1 AND revoked_at IS NULL`,
		ms(at), id,
	)
	return n > 0, err
}

func (s *Store) DeactivateSession(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE sessions SET is_active=0 WHERE id=?`, id)
	return err
}

// MarkSessionRevoked records revocation metadata once; later calls leave the
// first revocation in place.
func (s *Store) MarkSessionRevoked(ctx context.Context, id string, at time.Time, by, reason string) error {
	_, err := s.exec(ctx,
		`UPDATE sessions SET revoked_at=?, revoked_by=?, revocation_reason=? WHERE id=? AND revoked_at IS NULL`,
		ms(at), emptyToNull(by), emptyToNull(reason), id,
	)
	return err
}

func (s *Store) ListActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT id FROM sessions WHERE user_id=? AND is_active=1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListUserSessions(ctx context.Context, userID string, activeOnly bool) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id=?`
	if activeOnly {
		query += ` AND is_active=1`
	}
	query += ` ORDER BY last_activity DESC`
	rows, err := s.query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeactivateExpiredSessions marks sessions past their expiry inactive.
func (s *Store) DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.execAffected(ctx, `UPDATE sessions SET is_active=0 WHERE is_active=1 AND expires_at <= ?`, ms(now))
}

// DeleteSessionsBefore drops inactive sessions whose expiry is older than cutoff.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.execAffected(ctx, `DELETE FROM sessions WHERE is_active=0 AND expires_at < ?`, ms(cutoff))
}

// SetSessionElevation writes all elevation fields together. It refuses
// sessions that are no longer live.
func (s *Store) SetSessionElevation(ctx context.Context, id string, role models.Role, at, until time.Time) (bool, error) {
	n, err := s.execAffected(ctx,
		`UPDATE sessions SET assumed_role=?, assumed_at=?, assumed_until=?, elevated_until=? WHERE id=? AND is_active=1 AND revoked_at IS NULL`,
		string(role), ms(at), ms(until), ms(until), id,
	)
	return n > 0, err
}

func (s *Store) ClearSessionElevation(ctx context.Context, id string) (bool, error) {
	n, err := s.execAffected(ctx,
		`UPDATE sessions SET assumed_role=NULL, assumed_at=NULL, assumed_until=NULL, elevated_until=NULL WHERE id=? AND assumed_role IS NOT NULL`,
		id,
	)
	return n > 0, err
}

// ClearExpiredElevation clears elevation only if assumed_until still matches
// the value the caller observed, so concurrent expiries resolve to one winner.
func (s *Store) ClearExpiredElevation(ctx context.Context, id string, observedUntil time.Time) (bool, error) {
	n, err := s.execAffected(ctx,
		`UPDATE sessions SET assumed_role=NULL, assumed_at=NULL, assumed_until=NULL, elevated_until=NULL WHERE id=? AND assumed_until=?`,
		id, ms(observedUntil),
	)
	return n > 0, err
}
