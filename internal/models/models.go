package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleMember   Role = "member"
	RoleARB      Role = "arb"
	RoleBoard    Role = "board"
	RoleARBBoard Role = "arb_board"
	RoleAdmin    Role = "admin"
)

var AllRoles = []Role{RoleMember, RoleARB, RoleBoard, RoleARBBoard, RoleAdmin}

func ParseRole(v string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(v)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleARB, RoleBoard, RoleARBBoard, RoleAdmin:
		return true
	}
	return false
}

type UserStatus string

const (
	UserActive       UserStatus = "active"
	UserLocked       UserStatus = "locked"
	UserDisabled     UserStatus = "disabled"
	UserPendingSetup UserStatus = "pending_setup"
)

// AccessLevel is ordered: none < read < write.
type AccessLevel string

const (
	AccessNone  AccessLevel = "none"
	AccessRead  AccessLevel = "read"
	AccessWrite AccessLevel = "write"
)

func ParseAccessLevel(v string) (AccessLevel, bool) {
	switch l := AccessLevel(strings.ToLower(strings.TrimSpace(v))); l {
	case AccessNone, AccessRead, AccessWrite:
		return l, true
	}
	return AccessNone, false
}

func (l AccessLevel) Rank() int {
	switch l {
	case AccessRead:
		return 1
	case AccessWrite:
		return 2
	}
	return 0
}

// Allows reports whether l satisfies required.
func (l AccessLevel) Allows(required AccessLevel) bool {
	return l.Rank() >= required.Rank()
}

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Role              Role
	Status            UserStatus
	MFAEnabled        bool
	FailedAttempts    int
	LockedUntil       *time.Time
	LastLoginAt       *time.Time
	LastLoginIP       *string
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
}

// LockedAt reports whether the lockout cooldown is still running at now.
func (u User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

type Session struct {
	ID               string
	UserID           string
	TokenHash        string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	LastActivity     time.Time
	Fingerprint      *string
	IsActive         bool
	Persistent       bool
	RevokedAt        *time.Time
	RevokedBy        *string
	RevocationReason *string
	ElevatedUntil    *time.Time
	AssumedRole      *Role
	AssumedAt        *time.Time
	AssumedUntil     *time.Time
}

func (s Session) HasElevationFields() bool {
	return s.AssumedRole != nil || s.AssumedAt != nil || s.AssumedUntil != nil || s.ElevatedUntil != nil
}

type RateLimitAttempt struct {
	ID          string
	Type        string
	Identifier  string
	AttemptedAt time.Time
	IPAddress   *string
	UserAgent   *string
}

type AuditCategory string

const (
	CategoryAuthentication AuditCategory = "authentication"
	CategoryAuthorization  AuditCategory = "authorization"
	CategoryAdministrative AuditCategory = "administrative"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

type AuditEntry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     string         `json:"event_type"`
	Category      AuditCategory  `json:"category"`
	Severity      Severity       `json:"severity"`
	UserID        *string        `json:"user_id,omitempty"`
	TargetUserID  *string        `json:"target_user_id,omitempty"`
	IPAddress     *string        `json:"ip_address,omitempty"`
	UserAgent     *string        `json:"user_agent,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Action        string         `json:"action"`
	Outcome       Outcome        `json:"outcome"`
	Details       map[string]any `json:"details,omitempty"`
	ResourceType  *string        `json:"resource_type,omitempty"`
	ResourceID    *string        `json:"resource_id,omitempty"`
}

type SecurityEvent struct {
	ID                string         `json:"id"`
	Timestamp         time.Time      `json:"timestamp"`
	EventType         string         `json:"event_type"`
	Severity          Severity       `json:"severity"`
	UserID            *string        `json:"user_id,omitempty"`
	IPAddress         *string        `json:"ip_address,omitempty"`
	UserAgent         *string        `json:"user_agent,omitempty"`
	CorrelationID     string         `json:"correlation_id"`
	Description       string         `json:"description"`
	Details           map[string]any `json:"details,omitempty"`
	Resolved          bool           `json:"resolved"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy        *string        `json:"resolved_by,omitempty"`
	ResolutionNotes   *string        `json:"resolution_notes,omitempty"`
	AutoRemediated    bool           `json:"auto_remediated"`
	RemediationAction *string        `json:"remediation_action,omitempty"`
}

type PermissionOverride struct {
	Path      string      `json:"path"`
	Role      Role        `json:"role"`
	Level     AccessLevel `json:"level"`
	UpdatedAt time.Time   `json:"updated_at"`
	UpdatedBy *string     `json:"updated_by,omitempty"`
}

type ElevationAction string

const (
	ElevationElevate ElevationAction = "elevate"
	ElevationDrop    ElevationAction = "drop"
)

type ElevationRecord struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
	Role      Role            `json:"role"`
	Action    ElevationAction `json:"action"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

type TokenPurpose string

const (
	TokenPasswordReset TokenPurpose = "reset"
	TokenAccountSetup  TokenPurpose = "setup"
)

type AccountToken struct {
	ID        string
	UserID    string
	Purpose   TokenPurpose
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

type BackupCode struct {
	ID        string
	UserID    string
	CodeHash  string
	UsedAt    *time.Time
	CreatedAt time.Time
}

type AuditQuery struct {
	EventType string
	Category  AuditCategory
	Severity  Severity
	Outcome   Outcome
	UserID    string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

type SecurityEventQuery struct {
	EventType string
	Severity  Severity
	UserID    string
	Resolved  *bool
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}
