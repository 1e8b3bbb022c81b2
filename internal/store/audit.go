package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"memberportal/internal/models"
)

func encodeDetails(details map[string]any) (any, error) {
	if len(details) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeDetails(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return map[string]any{"raw": raw.String}
	}
	return out
}

func (s *Store) InsertAuditLog(ctx context.Context, e models.AuditEntry) error {
	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO audit_logs(id,occurred_at,event_type,category,severity,user_id,target_user_id,ip_address,user_agent,correlation_id,action,outcome,details,resource_type,resource_id)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, ms(e.Timestamp), e.EventType, string(e.Category), string(e.Severity),
		nullStr(e.UserID), nullStr(e.TargetUserID), nullStr(e.IPAddress), nullStr(e.UserAgent),
		e.CorrelationID, e.Action, string(e.Outcome), details, nullStr(e.ResourceType), nullStr(e.ResourceID),
	)
	return err
}

func (s *Store) InsertSecurityEvent(ctx context.Context, ev models.SecurityEvent) error {
	details, err := encodeDetails(ev.Details)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO security_events(id,occurred_at,event_type,severity,user_id,ip_address,user_agent,correlation_id,description,details,resolved,resolved_at,resolved_by,resolution_notes,auto_remediated,remediation_action)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ms(ev.Timestamp), ev.EventType, string(ev.Severity), nullStr(ev.UserID), nullStr(ev.IPAddress), nullStr(ev.UserAgent),
		ev.CorrelationID, ev.Description, details, boolToInt(ev.Resolved), msPtr(ev.ResolvedAt), nullStr(ev.ResolvedBy),
		nullStr(ev.ResolutionNotes), boolToInt(ev.AutoRemediated), nullStr(ev.RemediationAction),
	)
	return err
}

type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

const auditColumns = `id,occurred_at,event_type,category,severity,user_id,target_user_id,ip_address,user_agent,correlation_id,action,outcome,details,resource_type,resource_id`

func scanAudit(row rowScanner) (models.AuditEntry, error) {
	var e models.AuditEntry
	var occurred int64
	var category, severity, outcome string
	var userID, target, ip, ua, details, resType, resID sql.NullString
	if err := row.Scan(&e.ID, &occurred, &e.EventType, &category, &severity, &userID, &target, &ip, &ua,
		&e.CorrelationID, &e.Action, &outcome, &details, &resType, &resID); err != nil {
		return models.AuditEntry{}, err
	}
	e.Timestamp = fromMS(occurred)
	e.Category = models.AuditCategory(category)
	e.Severity = models.Severity(severity)
	e.Outcome = models.Outcome(outcome)
	e.UserID = strPtr(userID)
	e.TargetUserID = strPtr(target)
	e.IPAddress = strPtr(ip)
	e.UserAgent = strPtr(ua)
	e.Details = decodeDetails(details)
	e.ResourceType = strPtr(resType)
	e.ResourceID = strPtr(resID)
	return e, nil
}

// QueryAuditLogs filters audit rows newest first and returns the total match count.
func (s *Store) QueryAuditLogs(ctx context.Context, f models.AuditQuery) ([]models.AuditEntry, int, error) {
	var w whereBuilder
	if f.EventType != "" {
		w.add("event_type=?", f.EventType)
	}
	if f.Category != "" {
		w.add("category=?", string(f.Category))
	}
	if f.Severity != "" {
		w.add("severity=?", string(f.Severity))
	}
	if f.Outcome != "" {
		w.add("outcome=?", string(f.Outcome))
	}
	if f.UserID != "" {
		w.add("user_id=?", f.UserID)
	}
	if !f.From.IsZero() {
		w.add("occurred_at >= ?", ms(f.From))
	}
	if !f.To.IsZero() {
		w.add("occurred_at <= ?", ms(f.To))
	}

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM audit_logs`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := clampLimit(f.Limit, 50, 500)
	args := append(append([]any{}, w.args...), limit, max(f.Offset, 0))
	rows, err := s.query(ctx, `SELECT `+auditColumns+` FROM audit_logs`+w.sql()+` ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]models.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

const securityColumns = `id,occurred_at,event_type,severity,user_id,ip_address,user_agent,correlation_id,description,details,resolved,resolved_at,resolved_by,resolution_notes,auto_remediated,remediation_action`

func scanSecurityEvent(row rowScanner) (models.SecurityEvent, error) {
	var ev models.SecurityEvent
	var occurred int64
	var severity string
	var resolved, auto int
	var userID, ip, ua, details, resolvedBy, notes, remediation sql.NullString
	var resolvedAt sql.NullInt64
	if err := row.Scan(&ev.ID, &occurred, &ev.EventType, &severity, &userID, &ip, &ua, &ev.CorrelationID, &ev.Description,
		&details, &resolved, &resolvedAt, &resolvedBy, &notes, &auto, &remediation); err != nil {
		return models.SecurityEvent{}, err
	}
	ev.Timestamp = fromMS(occurred)
	ev.Severity = models.Severity(severity)
	ev.UserID = strPtr(userID)
	ev.IPAddress = strPtr(ip)
	ev.UserAgent = strPtr(ua)
	ev.Details = decodeDetails(details)
	ev.Resolved = resolved == 1
	ev.ResolvedAt = timePtr(resolvedAt)
	ev.ResolvedBy = strPtr(resolvedBy)
	ev.ResolutionNotes = strPtr(notes)
	ev.AutoRemediated = auto == 1
	ev.RemediationAction = strPtr(remediation)
	return ev, nil
}

func (s *Store) QuerySecurityEvents(ctx context.Context, f models.SecurityEventQuery) ([]models.SecurityEvent, int, error) {
	var w whereBuilder
	if f.EventType != "" {
		w.add("event_type=?", f.EventType)
	}
	if f.Severity != "" {
		w.add("severity=?", string(f.Severity))
	}
	if f.UserID != "" {
		w.add("user_id=?", f.UserID)
	}
	if f.Resolved != nil {
		w.add("resolved=?", boolToInt(*f.Resolved))
	}
	if !f.From.IsZero() {
		w.add("occurred_at >= ?", ms(f.From))
	}
	if !f.To.IsZero() {
		w.add("occurred_at <= ?", ms(f.To))
	}

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(1) FROM security_events`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := clampLimit(f.Limit, 50, 500)
	args := append(append([]any{}, w.args...), limit, max(f.Offset, 0))
	rows, err := s.query(ctx, `SELECT `+securityColumns+` FROM security_events`+w.sql()+` ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]models.SecurityEvent, 0)
	for rows.Next() {
		ev, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ev)
	}
	return out, total, rows.Err()
}

// ResolveSecurityEvent marks an open event resolved. Resolving an already
// resolved event returns ErrConflict.
func (s *Store) ResolveSecurityEvent(ctx context.Context, id, resolvedBy, notes string, at time.Time) error {
	n, err := s.execAffected(ctx,
		`UPDATE security_events SET resolved=1, resolved_at=?, resolved_by=?, resolution_notes=? WHERE id=? AND resolved=0`,
		ms(at), emptyToNull(resolvedBy), emptyToNull(notes), id,
	)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var resolved int
	err = s.queryRow(ctx, `SELECT resolved FROM security_events WHERE id=?`, id).Scan(&resolved)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func (s *Store) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.execAffected(ctx, `DELETE FROM audit_logs WHERE occurred_at < ?`, ms(cutoff))
}

// DeleteResolvedSecurityEventsBefore never touches unresolved events.
func (s *Store) DeleteResolvedSecurityEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.execAffected(ctx, `DELETE FROM security_events WHERE resolved=1 AND occurred_at < ?`, ms(cutoff))
}
