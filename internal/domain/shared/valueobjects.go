package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

// Identifiers are opaque strings issued by other authorities (identity, catalog).
// A well-formed identifier is 1-128 characters from a conservative alphabet.
var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]{0,127}$`)

func validIdentifier(s string) bool {
	return identifierRegex.MatchString(s)
}

func parseIdentifier(kind, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", InvalidArgument("identifier", "Parse", "%s is required", kind)
	}
	if !validIdentifier(s) {
		return "", InvalidArgument("identifier", "Parse", "malformed %s %q", kind, s)
	}
	return s, nil
}

// TenantID identifies an isolated customer boundary.
type TenantID string

// NewTenantID validates and returns a TenantID.
func NewTenantID(raw string) (TenantID, error) {
	s, err := parseIdentifier("tenant id", raw)
	return TenantID(s), err
}

func (t TenantID) String() string { return string(t) }

// IsValid reports whether the id is well formed.
func (t TenantID) IsValid() bool { return validIdentifier(string(t)) }

// UserID identifies a learner inside a tenant.
type UserID string

// NewUserID validates and returns a UserID.
func NewUserID(raw string) (UserID, error) {
	s, err := parseIdentifier("user id", raw)
	return UserID(s), err
}

func (u UserID) String() string { return string(u) }

// IsValid reports whether the id is well formed.
func (u UserID) IsValid() bool { return validIdentifier(string(u)) }

// CourseID identifies a course owned by the catalog authority.
type CourseID string

// NewCourseID validates and returns a CourseID.
func NewCourseID(raw string) (CourseID, error) {
	s, err := parseIdentifier("course id", raw)
	return CourseID(s), err
}

func (c CourseID) String() string { return string(c) }

// IsValid reports whether the id is well formed.
func (c CourseID) IsValid() bool { return validIdentifier(string(c)) }

// ModuleID identifies a module of a course.
type ModuleID string

// NewModuleID validates and returns a ModuleID.
func NewModuleID(raw string) (ModuleID, error) {
	s, err := parseIdentifier("module id", raw)
	return ModuleID(s), err
}

func (m ModuleID) String() string { return string(m) }

// IsValid reports whether the id is well formed.
func (m ModuleID) IsValid() bool { return validIdentifier(string(m)) }

// CohortID is an optional grouping tag on an enrollment. Empty means none.
type CohortID string

// NewCohortID validates a non-empty cohort tag; the empty string is accepted as "no cohort".
func NewCohortID(raw string) (CohortID, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	s, err := parseIdentifier("cohort id", raw)
	return CohortID(s), err
}

func (c CohortID) String() string { return string(c) }

// ═══════════════════════════════════════════════════════════════════════════
// Identity
// ═══════════════════════════════════════════════════════════════════════════

// Role is the caller's privilege inside a tenant.
type Role string

const (
	RoleLearner Role = "learner"
	RoleAdmin   Role = "admin"
)

// Identity is the verified (tenant, user) pair attached to every inbound call.
type Identity struct {
	TenantID TenantID
	UserID   UserID
	Role     Role
}

// NewIdentity validates both halves of an identity. Any failure is Unauthorized.
func NewIdentity(tenant, user string, role Role) (Identity, error) {
	t, err := NewTenantID(tenant)
	if err != nil {
		return Identity{}, WrapError("identity", "Resolve", ErrUnauthorized, "invalid tenant claim", err)
	}
	u, err := NewUserID(user)
	if err != nil {
		return Identity{}, WrapError("identity", "Resolve", ErrUnauthorized, "invalid subject claim", err)
	}
	if role == "" {
		role = RoleLearner
	}
	return Identity{TenantID: t, UserID: u, Role: role}, nil
}

// IsZero reports whether no identity has been resolved.
func (i Identity) IsZero() bool {
	return i.TenantID == "" || i.UserID == ""
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
