package store

import (
	"context"
	"database/sql"

	"memberportal/internal/models"
)

func (s *Store) InsertElevationRecord(ctx context.Context, rec models.ElevationRecord) error {
	_, err := s.exec(ctx,
		`INSERT INTO elevation_audit_log(id,session_id,user_id,role,action,reason,created_at,expires_at) VALUES(?,?,?,?,?,?,?,?)`,
		rec.ID, rec.SessionID, rec.UserID, string(rec.Role), string(rec.Action), emptyToNull(rec.Reason), ms(rec.CreatedAt), msPtr(rec.ExpiresAt),
	)
	return err
}

// ListElevationRecords returns the newest records first; an empty userID lists everyone.
func (s *Store) ListElevationRecords(ctx context.Context, userID string, limit int) ([]models.ElevationRecord, error) {
	query := `SELECT id,session_id,user_id,role,action,reason,created_at,expires_at FROM elevation_audit_log`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(limit, 50, 500))
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.ElevationRecord, 0)
	for rows.Next() {
		var rec models.ElevationRecord
		var role, action string
		var reason sql.NullString
		var created int64
		var expires sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.UserID, &role, &action, &reason, &created, &expires); err != nil {
			return nil, err
		}
		rec.Role = models.Role(role)
		rec.Action = models.ElevationAction(action)
		rec.Reason = reason.String
		rec.CreatedAt = fromMS(created)
		rec.ExpiresAt = timePtr(expires)
		out = append(out, rec)
	}
	return out, rows.Err()
}
