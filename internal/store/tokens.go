package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"memberportal/internal/models"
)

func (s *Store) CreateAccountToken(ctx context.Context, userID string, purpose models.TokenPurpose, tokenHash string, expiresAt time.Time) (models.AccountToken, error) {
	now := time.Now().UTC()
	t := models.AccountToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	_, err := s.exec(ctx,
		`INSERT INTO account_tokens(id,user_id,purpose,token_hash,expires_at,created_at) VALUES(?,?,?,?,?,?)`,
		t.ID, t.UserID, string(t.Purpose), t.TokenHash, ms(t.ExpiresAt), ms(t.CreatedAt),
	)
	if isUniqueViolation(err) {
		return models.AccountToken{}, ErrConflict
	}
	return t, err
}

// ConsumeAccountToken marks an unused, unexpired token as used and returns it.
// Only one caller can consume a given token.
func (s *Store) ConsumeAccountToken(ctx context.Context, purpose models.TokenPurpose, tokenHash string, now time.Time) (models.AccountToken, error) {
	n, err := s.execAffected(ctx,
		`UPDATE account_tokens SET used_at=? WHERE token_hash=? AND purpose=? AND used_at IS NULL AND expires_at > ?`,
		ms(now), tokenHash, string(purpose), ms(now),
	)
	if err != nil {
		return models.AccountToken{}, err
	}
	if n == 0 {
		return models.AccountToken{}, ErrNotFound
	}
	var t models.AccountToken
	var p string
	var expires, created int64
	var used sql.NullInt64
	err = s.queryRow(ctx,
		`SELECT id,user_id,purpose,token_hash,expires_at,used_at,created_at FROM account_tokens WHERE token_hash=?`, tokenHash,
	).Scan(&t.ID, &t.UserID, &p, &t.TokenHash, &expires, &used, &created)
	if err == sql.ErrNoRows {
		return models.AccountToken{}, ErrNotFound
	}
	if err != nil {
		return models.AccountToken{}, err
	}
	t.Purpose = models.TokenPurpose(p)
	t.ExpiresAt = fromMS(expires)
	t.UsedAt = timePtr(used)
	t.CreatedAt = fromMS(created)
	return t, nil
}

// InvalidateAccountTokens burns every outstanding token of purpose for userID.
func (s *Store) InvalidateAccountTokens(ctx context.Context, userID string, purpose models.TokenPurpose, at time.Time) error {
	_, err := s.exec(ctx,
		`UPDATE account_tokens SET used_at=? WHERE user_id=? AND purpose=? AND used_at IS NULL`,
		ms(at), userID, string(purpose),
	)
	return err
}

func (s *Store) DeleteAccountTokensBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.execAffected(ctx, `DELETE FROM account_tokens WHERE expires_at < ?`, ms(cutoff))
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM mfa_backup_codes WHERE user_id=?`), userID); err != nil {
		return err
	}
	for _, h := range codeHashes {
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO mfa_backup_codes(id,user_id,code_hash,created_at) VALUES(?,?,?,?)`),
			uuid.NewString(), userID, h, ms(at),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListUnusedBackupCodes(ctx context.Context, userID string) ([]models.BackupCode, error) {
	rows, err := s.query(ctx, `SELECT id,user_id,code_hash,created_at FROM mfa_backup_codes WHERE user_id=? AND used_at IS NULL`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.BackupCode
	for rows.Next() {
		var c models.BackupCode
		var created int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.CodeHash, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = fromMS(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) MarkBackupCodeUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := s.execAffected(ctx, `UPDATE mfa_backup_codes SET used_at=? WHERE id=? AND used_at IS NULL`, ms(at), id)
	return n > 0, err
}

func (s *Store) DeleteBackupCodes(ctx context.Context, userID string) error {
	_, err := s.exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id=?`, userID)
	return err
}
