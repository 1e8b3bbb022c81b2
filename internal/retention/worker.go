package retention

import (
	"context"
	"time"

	"memberportal/internal/audit"
	"memberportal/internal/logging"
)

const rateAttemptRetention = 24 * time.Hour

type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context, retentionDays int) (int64, error)
}

type RatePurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type AuditRetainer interface {
	ApplyRetention(ctx context.Context) (audit.RetentionResult, error)
}

type TokenPurger interface {
	DeleteAccountTokensBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Worker struct {
	sessions      SessionCleaner
	rate          RatePurger
	audit         AuditRetainer
	tokens        TokenPurger
	log           logging.Logger
	interval      time.Duration
	retentionDays int
	now           func() time.Time
}

type Option func(*Worker)

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithTokenPurger also removes used or expired reset and setup tokens.
func WithTokenPurger(tp TokenPurger) Option {
	return func(w *Worker) { w.tokens = tp }
}

func NewWorker(sessions SessionCleaner, rate RatePurger, auditor AuditRetainer, log logging.Logger, interval time.Duration, retentionDays int, opts ...Option) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	w := &Worker{
		sessions:      sessions,
		rate:          rate,
		audit:         auditor,
		log:           log,
		interval:      interval,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	w.RunOnce(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

type Result struct {
	SessionsDeleted int64
	RateDeleted     int64
	AuditDeleted    int64
	SecurityDeleted int64
	TokensDeleted   int64
}

// RunOnce performs a single sweep. Each step is independent; a failing step
// is logged and the rest still run.
func (w *Worker) RunOnce(ctx context.Context) Result {
	var res Result
	now := w.now().UTC()

	n, err := w.sessions.CleanupExpiredSessions(ctx, w.retentionDays)
	if err != nil {
		w.log.Error(ctx, "retention: sessions", "err", err)
	}
	res.SessionsDeleted = n

	n, err = w.rate.PurgeBefore(ctx, now.Add(-rateAttemptRetention))
	if err != nil {
		w.log.Error(ctx, "retention: rate limit attempts", "err", err)
	}
	res.RateDeleted = n

	ar, err := w.audit.ApplyRetention(ctx)
	if err != nil {
		w.log.Error(ctx, "retention: audit logs", "err", err)
	}
	res.AuditDeleted = ar.AuditDeleted
	res.SecurityDeleted = ar.SecurityDeleted

	if w.tokens != nil {
		n, err = w.tokens.DeleteAccountTokensBefore(ctx, now.Add(-rateAttemptRetention))
		if err != nil {
			w.log.Error(ctx, "retention: account tokens", "err", err)
		}
		res.TokensDeleted = n
	}

	if res != (Result{}) {
		w.log.Info(ctx, "retention sweep",
			"sessions", res.SessionsDeleted,
			"rate_attempts", res.RateDeleted,
			"audit", res.AuditDeleted,
			"security_events", res.SecurityDeleted,
			"tokens", res.TokensDeleted,
		)
	}
	return res
}
