package audit

import (
	"context"
	"time"

	"memberportal/internal/ids"
	"memberportal/internal/logging"
	"memberportal/internal/models"
	"memberportal/internal/obs"
)

const (
	AuditRetention    = 365 * 24 * time.Hour
	SecurityRetention = 730 * 24 * time.Hour
)

type Store interface {
	InsertAuditLog(ctx context.Context, e models.AuditEntry) error
	InsertSecurityEvent(ctx context.Context, ev models.SecurityEvent) error
	QueryAuditLogs(ctx context.Context, q models.AuditQuery) ([]models.AuditEntry, int, error)
	QuerySecurityEvents(ctx context.Context, q models.SecurityEventQuery) ([]models.SecurityEvent, int, error)
	ResolveSecurityEvent(ctx context.Context, id, resolvedBy, notes string, at time.Time) error
	DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteResolvedSecurityEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Logger is the durable audit trail. Writes never fail the caller: datastore
// errors are logged and counted, then dropped.
type Logger struct {
	st  Store
	log logging.Logger
	now func() time.Time
}

type Option func(*Logger)

func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

func New(st Store, log logging.Logger, opts ...Option) *Logger {
	l := &Logger{st: st, log: log, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Logger) LogAuditEvent(ctx context.Context, e models.AuditEntry) {
	l.fillAudit(ctx, &e)
	if err := l.st.InsertAuditLog(ctx, e); err != nil {
		obs.AuditWriteFailures.WithLabelValues("audit").Inc()
		l.log.Error(ctx, "audit write failed", "event_type", e.EventType, "correlation_id", e.CorrelationID, "err", err)
	}
}

// LogSecurityEvent writes an audit mirror and then the security event. The
// writes are independent: if the second fails the mirror remains.
func (l *Logger) LogSecurityEvent(ctx context.Context, category models.AuditCategory, ev models.SecurityEvent) {
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = l.correlationID(ctx)
	}
	if ev.Severity == "" {
		ev.Severity = models.SeverityWarning
	}
	meta := RequestMetaFrom(ctx)
	if ev.IPAddress == nil {
		ev.IPAddress = optional(meta.IP)
	}
	if ev.UserAgent == nil {
		ev.UserAgent = optional(meta.UserAgent)
	}

	l.LogAuditEvent(ctx, models.AuditEntry{
		Timestamp:     ev.Timestamp,
		EventType:     ev.EventType,
		Category:      category,
		Severity:      ev.Severity,
		UserID:        ev.UserID,
		IPAddress:     ev.IPAddress,
		UserAgent:     ev.UserAgent,
		CorrelationID: ev.CorrelationID,
		Action:        ev.Description,
		Outcome:       models.OutcomeFailure,
		Details:       ev.Details,
	})
	if err := l.st.InsertSecurityEvent(ctx, ev); err != nil {
		obs.AuditWriteFailures.WithLabelValues("security").Inc()
		l.log.Error(ctx, "security event write failed", "event_type", ev.EventType, "correlation_id", ev.CorrelationID, "err", err)
	}
}

func (l *Logger) LogAuthentication(ctx context.Context, e models.AuditEntry) {
	l.logCategory(ctx, models.CategoryAuthentication, e)
}

func (l *Logger) LogAuthorization(ctx context.Context, e models.AuditEntry) {
	l.logCategory(ctx, models.CategoryAuthorization, e)
}

func (l *Logger) LogAdministrative(ctx context.Context, e models.AuditEntry) {
	l.logCategory(ctx, models.CategoryAdministrative, e)
}

func (l *Logger) logCategory(ctx context.Context, category models.AuditCategory, e models.AuditEntry) {
	e.Category = category
	if e.Severity == "" {
		e.Severity = SeverityFor(e.Outcome)
	}
	l.LogAuditEvent(ctx, e)
}

// SeverityFor maps an outcome onto the default severity.
func SeverityFor(o models.Outcome) models.Severity {
	switch o {
	case models.OutcomeFailure, models.OutcomeDenied:
		return models.SeverityWarning
	}
	return models.SeverityInfo
}

func (l *Logger) QueryAuditLogs(ctx context.Context, q models.AuditQuery) ([]models.AuditEntry, int) {
	out, total, err := l.st.QueryAuditLogs(ctx, q)
	if err != nil {
		l.log.Error(ctx, "query audit logs", "err", err)
		return []models.AuditEntry{}, 0
	}
	return out, total
}

func (l *Logger) QuerySecurityEvents(ctx context.Context, q models.SecurityEventQuery) ([]models.SecurityEvent, int) {
	out, total, err := l.st.QuerySecurityEvents(ctx, q)
	if err != nil {
		l.log.Error(ctx, "query security events", "err", err)
		return []models.SecurityEvent{}, 0
	}
	return out, total
}

func (l *Logger) ResolveSecurityEvent(ctx context.Context, id, resolverID, notes string) error {
	if err := l.st.ResolveSecurityEvent(ctx, id, resolverID, notes, l.now().UTC()); err != nil {
		return err
	}
	resType := "security_event"
	l.LogAdministrative(ctx, models.AuditEntry{
		EventType:    "security_event_resolved",
		UserID:       optional(resolverID),
		Action:       "resolve security event",
		Outcome:      models.OutcomeSuccess,
		ResourceType: &resType,
		ResourceID:   &id,
	})
	return nil
}

type RetentionResult struct {
	AuditDeleted    int64
	SecurityDeleted int64
}

// ApplyRetention purges audit rows past AuditRetention and resolved security
// events past SecurityRetention. Unresolved events are kept indefinitely.
func (l *Logger) ApplyRetention(ctx context.Context) (RetentionResult, error) {
	now := l.now().UTC()
	var res RetentionResult
	n, err := l.st.DeleteAuditLogsBefore(ctx, now.Add(-AuditRetention))
	if err != nil {
		return res, err
	}
	res.AuditDeleted = n
	n, err = l.st.DeleteResolvedSecurityEventsBefore(ctx, now.Add(-SecurityRetention))
	if err != nil {
		return res, err
	}
	res.SecurityDeleted = n
	return res, nil
}

func (l *Logger) fillAudit(ctx context.Context, e *models.AuditEntry) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = l.correlationID(ctx)
	}
	if e.Severity == "" {
		e.Severity = models.SeverityInfo
	}
	if e.Outcome == "" {
		e.Outcome = models.OutcomeSuccess
	}
	meta := RequestMetaFrom(ctx)
	if e.IPAddress == nil {
		e.IPAddress = optional(meta.IP)
	}
	if e.UserAgent == nil {
		e.UserAgent = optional(meta.UserAgent)
	}
}

func (l *Logger) correlationID(ctx context.Context) string {
	if id := CorrelationID(ctx); id != "" {
		return id
	}
	return ids.New()
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
