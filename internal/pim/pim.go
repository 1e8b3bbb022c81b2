// Package pim implements just-in-time, time-bounded role elevation on a session.
//
// A session is either at its base role or elevated to an assumed role until a
// fixed deadline. Expiry is enforced by comparing the stored deadline with the
// current time on every read; ExpireStale only tidies the row afterwards.
package pim

import (
	"slices"
	"time"

	"memberportal/internal/models"
)

const (
	DefaultWindow = 30 * time.Minute
	MaxWindow     = time.Hour
)

var eligibility = map[models.Role][]models.Role{
	models.RoleAdmin:    {models.RoleBoard, models.RoleARB},
	models.RoleARBBoard: {models.RoleBoard, models.RoleARB},
}

// EligibleRoles lists the roles base may assume.
func EligibleRoles(base models.Role) []models.Role {
	return slices.Clone(eligibility[base])
}

func CanElevate(base, target models.Role) bool {
	return slices.Contains(eligibility[base], target)
}

// Elevated reports whether s carries an unexpired, well-formed elevation.
func Elevated(s models.Session, now time.Time) bool {
	if s.AssumedRole == nil || s.AssumedAt == nil || s.AssumedUntil == nil {
		return false
	}
	if s.AssumedUntil.Sub(*s.AssumedAt) > MaxWindow {
		return false
	}
	return now.Before(*s.AssumedUntil)
}

// EffectiveRole is the role used for authorization at now. It has no side
// effects. Outside an elevation, arb_board acts as a plain member.
func EffectiveRole(base models.Role, s models.Session, now time.Time) models.Role {
	if Elevated(s, now) && CanElevate(base, *s.AssumedRole) {
		return *s.AssumedRole
	}
	if base == models.RoleARBBoard {
		return models.RoleMember
	}
	return base
}
