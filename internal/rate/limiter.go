package rate

import (
	"context"
	"strings"
	"time"

	"memberportal/internal/ids"
	"memberportal/internal/logging"
	"memberportal/internal/models"
	"memberportal/internal/obs"
)

type Type string

const (
	Login         Type = "login"
	PasswordReset Type = "password_reset"
	MFAVerify     Type = "mfa_verify"
	Setup         Type = "setup"
)

type Policy struct {
	Limit  int
	Window time.Duration
}

var DefaultPolicies = map[Type]Policy{
	Login:         {Limit: 5, Window: 15 * time.Minute},
	PasswordReset: {Limit: 3, Window: time.Hour},
	MFAVerify:     {Limit: 10, Window: 15 * time.Minute},
	Setup:         {Limit: 10, Window: time.Hour},
}

type Result struct {
	Limited    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

type Metadata struct {
	IP        string
	UserAgent string
}

type Store interface {
	InsertRateLimitAttempt(ctx context.Context, a models.RateLimitAttempt) error
	CountRateLimitAttempts(ctx context.Context, attemptType, identifier string, since time.Time) (int, *time.Time, error)
	DeleteRateLimitAttempts(ctx context.Context, attemptType, identifier string) error
	DeleteRateLimitAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Limiter is a sliding-window limiter over append-only attempt rows, so limits
// hold across restarts and across instances sharing one database.
type Limiter struct {
	st       Store
	log      logging.Logger
	now      func() time.Time
	policies map[Type]Policy
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithPolicy(t Type, p Policy) Option {
	return func(l *Limiter) { l.policies[t] = p }
}

func NewLimiter(st Store, log logging.Logger, opts ...Option) *Limiter {
	l := &Limiter{st: st, log: log, now: time.Now, policies: make(map[Type]Policy, len(DefaultPolicies))}
	for t, p := range DefaultPolicies {
		l.policies[t] = p
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Policy(t Type) (Policy, bool) {
	p, ok := l.policies[t]
	return p, ok
}

// CheckRateLimit reports whether identifier has used up its budget for t.
// Datastore errors fail open.
func (l *Limiter) CheckRateLimit(ctx context.Context, t Type, identifier string) Result {
	now := l.now().UTC()
	p, ok := l.policies[t]
	if !ok {
		l.log.Warn(ctx, "rate limit check for unknown type", "type", string(t))
		return Result{ResetAt: now}
	}
	count, oldest, err := l.st.CountRateLimitAttempts(ctx, string(t), normalize(identifier), now.Add(-p.Window))
	if err != nil {
		obs.RateLimitChecks.WithLabelValues(string(t), "fail_open").Inc()
		l.log.Warn(ctx, "rate limit check failed, allowing request", "type", string(t), "err", err)
		return Result{Remaining: p.Limit, ResetAt: now.Add(p.Window)}
	}

	res := Result{Remaining: max(0, p.Limit-count), ResetAt: now.Add(p.Window)}
	if oldest != nil {
		res.ResetAt = oldest.Add(p.Window)
	}
	if count < p.Limit {
		obs.RateLimitChecks.WithLabelValues(string(t), "allowed").Inc()
		return res
	}
	res.Limited = true
	res.RetryAfter = res.ResetAt.Sub(now)
	if res.RetryAfter < time.Second {
		res.RetryAfter = time.Second
	}
	obs.RateLimitChecks.WithLabelValues(string(t), "limited").Inc()
	return res
}

// RecordAttempt appends one attempt row. Failures are logged and dropped.
func (l *Limiter) RecordAttempt(ctx context.Context, t Type, identifier string, meta Metadata) {
	now := l.now().UTC()
	err := l.st.InsertRateLimitAttempt(ctx, models.RateLimitAttempt{
		ID:          ids.NewAt(now),
		Type:        string(t),
		Identifier:  normalize(identifier),
		AttemptedAt: now,
		IPAddress:   optional(meta.IP),
		UserAgent:   optional(meta.UserAgent),
	})
	if err != nil {
		l.log.Warn(ctx, "record rate limit attempt", "type", string(t), "err", err)
	}
}

func (l *Limiter) Reset(ctx context.Context, t Type, identifier string) {
	if err := l.st.DeleteRateLimitAttempts(ctx, string(t), normalize(identifier)); err != nil {
		l.log.Warn(ctx, "reset rate limit attempts", "type", string(t), "err", err)
	}
}

func (l *Limiter) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return l.st.DeleteRateLimitAttemptsBefore(ctx, cutoff)
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
