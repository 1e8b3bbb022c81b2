package store

import (
	"context"
	"database/sql"
	"time"

	"memberportal/internal/models"
)

func (s *Store) InsertRateLimitAttempt(ctx context.Context, a models.RateLimitAttempt) error {
	_, err := s.exec(ctx,
		`INSERT INTO rate_limit_attempts(id,attempt_type,identifier,attempted_at,ip_address,user_agent) VALUES(?,?,?,?,?,?)`,
		a.ID, a.Type, a.Identifier, ms(a.AttemptedAt), nullStr(a.IPAddress), nullStr(a.UserAgent),
	)
	return err
}

// CountRateLimitAttempts returns the attempts strictly after since together
// with the oldest attempt in that window.
func (s *Store) CountRateLimitAttempts(ctx context.Context, attemptType, identifier string, since time.Time) (int, *time.Time, error) {
	var count int
	var oldest sql.NullInt64
	err := s.queryRow(ctx,
		`SELECT COUNT(1), MIN(attempted_at) FROM rate_limit_attempts WHERE attempt_type=? AND identifier=? AND attempted_at > ?`,
		attemptType, identifier, ms(since),
	).Scan(&count, &oldest)
	if err != nil {
		return 0, nil, err
	}
	return count, timePtr(oldest), nil
}

func (s *Store) DeleteRateLimitAttempts(ctx context.Context, attemptType, identifier string) error {
	_, err := s.exec(ctx, `DELETE FROM rate_limit_attempts WHERE attempt_type=? AND identifier=?`, attemptType, identifier)
	return err
}

func (s *Store) DeleteRateLimitAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.execAffected(ctx, `DELETE FROM rate_limit_attempts WHERE attempted_at < ?`, ms(cutoff))
}
