package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"memberportal/internal/audit"
	"memberportal/internal/auth"
	"memberportal/internal/config"
	"memberportal/internal/logging"
	"memberportal/internal/models"
	"memberportal/internal/notify"
	"memberportal/internal/pim"
	"memberportal/internal/rate"
	"memberportal/internal/rbac"
	"memberportal/internal/session"
	"memberportal/internal/store"
	"memberportal/internal/vault"
)

const (
	LockoutThreshold = 5
	LockoutDuration  = 15 * time.Minute
	PasswordHistory  = 5

	resetTokenTTL = time.Hour
	setupTokenTTL = 72 * time.Hour
	backupCodes   = 10
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrMFARequired        = errors.New("mfa code required")
	ErrInvalidMFA         = errors.New("invalid mfa code")
	ErrMFAAlreadyEnabled  = errors.New("mfa already enabled")
	ErrMFANotPending      = errors.New("no pending mfa enrollment")
	ErrPasswordReused     = errors.New("password was used recently")
	ErrWeakPassword       = errors.New("password does not meet policy")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrLastAdmin          = errors.New("cannot remove the last admin")
	ErrNotFound           = store.ErrNotFound
	ErrConflict           = store.ErrConflict
)

// TooManyAttemptsError carries how long the caller has to wait.
type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *TooManyAttemptsError) Is(target error) bool { return target == ErrTooManyAttempts }

type Service struct {
	cfg      config.Config
	st       *store.Store
	vault    vault.Vault
	sender   notify.Sender
	log      logging.Logger
	now      func() time.Time
	verify   func(hash, password string) bool
	audit    *audit.Logger
	limiter  *rate.Limiter
	sessions *session.Manager
	pim      *pim.Manager
	rbac     *rbac.Resolver

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*Service)

// WithClock drives every component built by New from the same clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg config.Config, st *store.Store, v vault.Vault, sender notify.Sender, log logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.Nop()
	}
	if sender == nil {
		sender = notify.NewSender(config.Config{}, log)
	}
	s := &Service{cfg: cfg, st: st, vault: v, sender: sender, log: log, now: time.Now, verify: auth.VerifyPassword}
	for _, opt := range opts {
		opt(s)
	}
	s.audit = audit.New(st, log, audit.WithClock(s.now))
	s.limiter = rate.NewLimiter(st, log, rate.WithClock(s.now))
	s.sessions = session.NewManager(st, s.audit, log, session.WithClock(s.now), session.WithTTL(cfg.SessionTTL()))
	s.pim = pim.NewManager(st, s.audit, log, pim.WithClock(s.now), pim.WithWindow(cfg.ElevationWindow()))
	s.rbac = rbac.NewResolver(st, log, nil)
	return s
}

func (s *Service) Store() *store.Store         { return s.st }
func (s *Service) Audit() *audit.Logger        { return s.audit }
func (s *Service) Limiter() *rate.Limiter      { return s.limiter }
func (s *Service) Sessions() *session.Manager  { return s.sessions }
func (s *Service) PIM() *pim.Manager           { return s.pim }
func (s *Service) Permissions() *rbac.Resolver { return s.rbac }
func (s *Service) Config() config.Config       { return s.cfg }

// Now reads the clock the service was built with.
func (s *Service) Now() time.Time { return s.now() }

// EnsureBootstrapAdmin creates or resets the configured admin account.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context) error {
	if s.cfg.BootstrapAdminEmail == "" || s.cfg.BootstrapAdminPassword == "" {
		return nil
	}
	hash, err := auth.HashPassword(s.cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin hash: %w", err)
	}
	if err := s.st.EnsureAdmin(ctx, s.cfg.BootstrapAdminEmail, hash); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	return nil
}

func (s *Service) ValidatePassword(pw string) error {
	if strings.TrimSpace(pw) == "" {
		return fmt.Errorf("%w: password is required", ErrWeakPassword)
	}
	if len(pw) < s.cfg.PasswordMinLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrWeakPassword, s.cfg.PasswordMinLength)
	}
	if len(pw) > s.cfg.PasswordMaxLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrWeakPassword, s.cfg.PasswordMaxLength)
	}
	classes := 0
	if strings.IndexFunc(pw, func(r rune) bool { return r >= 'a' && r <= 'z' }) >= 0 {
		classes++
	}
	if strings.IndexFunc(pw, func(r rune) bool { return r >= 'A' && r <= 'Z' }) >= 0 {
		classes++
	}
	if strings.IndexFunc(pw, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0 {
		classes++
	}
	if strings.IndexFunc(pw, func(r rune) bool {
		return (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126)
	}) >= 0 {
		classes++
	}
	if classes < 3 {
		return fmt.Errorf("%w: password must include at least 3 character classes (lower/upper/number/symbol)", ErrWeakPassword)
	}
	return nil
}

// dummyVerify burns roughly the same time as a real verification so unknown
// emails are not distinguishable by latency.
func (s *Service) dummyVerify(password string) {
	s.dummyOnce.Do(func() {
		h, err := auth.HashPassword("portal-timing-equalizer")
		if err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" {
		_ = s.verify(s.dummyHash, password)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Service) adminAudit(ctx context.Context, actor models.User, eventType, action, targetID string, details map[string]any) {
	uid := actor.ID
	e := models.AuditEntry{
		EventType:    eventType,
		UserID:       &uid,
		TargetUserID: strPtr(targetID),
		Action:       action,
		Outcome:      models.OutcomeSuccess,
		Details:      details,
	}
	s.audit.LogAdministrative(ctx, e)
}
