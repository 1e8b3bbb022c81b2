package store

import (
	"context"
	"database/sql"
	"time"

	"memberportal/internal/db"
	"memberportal/internal/models"
)

func (s *Store) GetPermissionOverride(ctx context.Context, path string, role models.Role) (models.AccessLevel, bool, error) {
	var level string
	err := s.queryRow(ctx, `SELECT access_level FROM route_permission_overrides WHERE path=? AND role=?`, path, string(role)).Scan(&level)
	if err == sql.ErrNoRows {
		return models.AccessNone, false, nil
	}
	if err != nil {
		return models.AccessNone, false, err
	}
	parsed, ok := models.ParseAccessLevel(level)
	if !ok {
		return models.AccessNone, true, nil
	}
	return parsed, true, nil
}

// ListPermissionOverrides returns every override, or only those for role when
// role is non-empty.
func (s *Store) ListPermissionOverrides(ctx context.Context, role models.Role) ([]models.PermissionOverride, error) {
	query := `SELECT path,role,access_level,updated_at,updated_by FROM route_permission_overrides`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY path, role`
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PermissionOverride
	for rows.Next() {
		var o models.PermissionOverride
		var r, level string
		var updated int64
		var by sql.NullString
		if err := rows.Scan(&o.Path, &r, &level, &updated, &by); err != nil {
			return nil, err
		}
		o.Role = models.Role(r)
		o.Level, _ = models.ParseAccessLevel(level)
		o.UpdatedAt = fromMS(updated)
		o.UpdatedBy = strPtr(by)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPermissionOverride(ctx context.Context, o models.PermissionOverride) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now().UTC()
	}
	query := `INSERT INTO route_permission_overrides(path,role,access_level,updated_at,updated_by) VALUES(?,?,?,?,?)
		ON CONFLICT(path, role) DO UPDATE SET access_level=excluded.access_level, updated_at=excluded.updated_at, updated_by=excluded.updated_by`
	if s.dialect == db.DialectMySQL {
		query = `INSERT INTO route_permission_overrides(path,role,access_level,updated_at,updated_by) VALUES(?,?,?,?,?)
		ON DUPLICATE KEY UPDATE access_level=VALUES(access_level), updated_at=VALUES(updated_at), updated_by=VALUES(updated_by)`
	}
	_, err := s.exec(ctx, query, o.Path, string(o.Role), string(o.Level), ms(o.UpdatedAt), nullStr(o.UpdatedBy))
	return err
}

func (s *Store) DeletePermissionOverride(ctx context.Context, path string, role models.Role) error {
	n, err := s.execAffected(ctx, `DELETE FROM route_permission_overrides WHERE path=? AND role=?`, path, string(role))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
