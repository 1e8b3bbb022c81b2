package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"memberportal/internal/models"
)

const userColumns = `id,email,password_hash,role,status,mfa_enabled,failed_attempts,locked_until,last_login_at,last_login_ip,password_changed_at,created_at`

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var role, status string
	var mfa int
	var lockedUntil, lastLogin, pwChanged sql.NullInt64
	var lastIP sql.NullString
	var created int64
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &status, &mfa, &u.FailedAttempts, &lockedUntil, &lastLogin, &lastIP, &pwChanged, &created); err != nil {
		return models.User{}, err
	}
	u.Role = models.Role(role)
	u.Status = models.UserStatus(status)
	u.MFAEnabled = mfa == 1
	u.LockedUntil = timePtr(lockedUntil)
	u.LastLoginAt = timePtr(lastLogin)
	u.LastLoginIP = strPtr(lastIP)
	u.PasswordChangedAt = timePtr(pwChanged)
	u.CreatedAt = fromMS(created)
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, role models.Role, status models.UserStatus) (models.User, error) {
	now := time.Now().UTC()
	u := models.User{ID: uuid.NewString(), Email: normalizeEmail(email), PasswordHash: passwordHash, Role: role, Status: status, CreatedAt: now}
	_, err := s.exec(ctx,
		`INSERT INTO users(id,email,password_hash,role,status,mfa_enabled,failed_attempts,created_at) VALUES(?,?,?,?,?,0,0,?)`,
		u.ID, u.Email, u.PasswordHash, string(u.Role), string(u.Status), ms(now),
	)
	if isUniqueViolation(err) {
		return models.User{}, ErrConflict
	}
	if err != nil {
		return models.User{}, err
	}
	u.CreatedAt = fromMS(ms(now))
	return u, nil
}

func (s *Store) EnsureAdmin(ctx context.Context, email, passwordHash string) error {
	email = normalizeEmail(email)
	if email == "" || passwordHash == "" {
		return nil
	}
	u, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_, err = s.CreateUser(ctx, email, passwordHash, models.RoleAdmin, models.UserActive)
		return err
	}
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`UPDATE users SET role=?, status=?, password_hash=?, failed_attempts=0, locked_until=NULL WHERE id=?`,
		string(models.RoleAdmin), string(models.UserActive), passwordHash, u.ID,
	)
	return err
}

func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	var count int
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM users WHERE role=?`, string(models.RoleAdmin)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, normalizeEmail(email)))
	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]models.User, int, error) {
	limit = clampLimit(limit, 25, 200)
	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]models.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateUserStatus(ctx context.Context, userID string, status models.UserStatus) error {
	n, err := s.execAffected(ctx, `UPDATE users SET status=? WHERE id=?`, string(status), userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserRole(ctx context.Context, userID string, role models.Role) error {
	n, err := s.execAffected(ctx, `UPDATE users SET role=? WHERE id=?`, string(role), userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID, passwordHash string, at time.Time) error {
	_, err := s.exec(ctx, `UPDATE users SET password_hash=?, password_changed_at=? WHERE id=?`, passwordHash, ms(at), userID)
	return err
}

// UpdateUserPasswordHash swaps the stored hash without touching
// password_changed_at; used when upgrading hash parameters on login.
func (s *Store) UpdateUserPasswordHash(ctx context.Context, userID, passwordHash string) error {
	_, err := s.exec(ctx, `UPDATE users SET password_hash=? WHERE id=?`, passwordHash, userID)
	return err
}

func (s *Store) TouchUserLastLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	_, err := s.exec(ctx, `UPDATE users SET last_login_at=?, last_login_ip=? WHERE id=?`, ms(at), emptyToNull(ip), userID)
	return err
}

func (s *Store) SetUserMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	_, err := s.exec(ctx, `UPDATE users SET mfa_enabled=? WHERE id=?`, boolToInt(enabled), userID)
	return err
}

// ClaimTOTPStep records step as the last accepted TOTP time step. It reports
// false when that step or a later one was already claimed.
func (s *Store) ClaimTOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	n, err := s.execAffected(ctx,
		`UPDATE users SET totp_last_step=? WHERE id=? AND (totp_last_step IS NULL OR totp_last_step < ?)`,
		step, userID, step,
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordFailedLogin increments the failure counter atomically. A lock that
// expired at or before now starts a fresh count at 1. Once the count reaches
// threshold the account is moved to locked until lockUntil.
func (s *Store) RecordFailedLogin(ctx context.Context, userID string, threshold int, now, lockUntil time.Time) (attempts int, locked bool, err error) {
	// locked_until is assigned last: MySQL evaluates SET left to right.
	_, err = s.exec(ctx,
		`UPDATE users SET
			status = CASE WHEN status=? AND locked_until IS NOT NULL AND locked_until <= ? THEN ? ELSE status END,
			failed_attempts = CASE WHEN locked_until IS NOT NULL AND locked_until <= ? THEN 1 ELSE failed_attempts + 1 END,
			locked_until = CASE WHEN locked_until IS NOT NULL AND locked_until <= ? THEN NULL ELSE locked_until END
		WHERE id=?`,
		string(models.UserLocked), ms(now), string(models.UserActive), ms(now), ms(now), userID,
	)
	if err != nil {
		return 0, false, err
	}
	if err = s.queryRow(ctx, `SELECT failed_attempts FROM users WHERE id=?`, userID).Scan(&attempts); err != nil {
		return 0, false, err
	}
	if attempts < threshold {
		return attempts, false, nil
	}
	_, err = s.exec(ctx,
		`UPDATE users SET status=?, locked_until=? WHERE id=? AND status IN (?,?)`,
		string(models.UserLocked), ms(lockUntil), userID, string(models.UserActive), string(models.UserLocked),
	)
	if err != nil {
		return attempts, false, err
	}
	return attempts, true, nil
}

// ResetFailedLogins clears the failure counter and any expired or manual lock.
func (s *Store) ResetFailedLogins(ctx context.Context, userID string) error {
	_, err := s.exec(ctx,
		`UPDATE users SET failed_attempts=0, locked_until=NULL, status=CASE WHEN status=? THEN ? ELSE status END WHERE id=?`,
		string(models.UserLocked), string(models.UserActive), userID,
	)
	return err
}

func (s *Store) AddPasswordHistory(ctx context.Context, userID, passwordHash string, at time.Time, keep int) error {
	if _, err := s.exec(ctx,
		`INSERT INTO password_history(id,user_id,password_hash,created_at) VALUES(?,?,?,?)`,
		uuid.NewString(), userID, passwordHash, ms(at),
	); err != nil {
		return err
	}
	rows, err := s.query(ctx, `SELECT id FROM password_history WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return err
	}
	var stale []string
	i := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if i >= keep {
			stale = append(stale, id)
		}
		i++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range stale {
		if _, err := s.exec(ctx, `DELETE FROM password_history WHERE id=?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RecentPasswordHashes(ctx context.Context, userID string, n int) ([]string, error) {
	rows, err := s.query(ctx, `SELECT password_hash FROM password_history WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
