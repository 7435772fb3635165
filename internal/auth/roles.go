package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Role is one of the fixed account roles. Roles are flat: holding ADMIN does
// not imply USER or anything else.
type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// AllRoles lists every recognized role in display order.
var AllRoles = []Role{RoleUser, RoleAdmin, RoleSuperAdmin}

// ParseRole normalizes s and maps it onto a known role. A "ROLE_" prefix is
// accepted so values coming from older clients keep working.
func ParseRole(s string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "ROLE_")
	for _, r := range AllRoles {
		if string(r) == name {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrRoleNotRecognized, s)
}

// ParseRoles parses every entry of values, failing on the first unknown role.
func ParseRoles(values []string) (RoleSet, error) {
	set := make(RoleSet, len(values))
	for _, v := range values {
		r, err := ParseRole(v)
		if err != nil {
			return nil, err
		}
		set[r] = struct{}{}
	}
	return set, nil
}

// RoleSet is an unordered set of roles.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from roles, dropping duplicates.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Has reports whether r is a member of the set.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// WithBase returns a copy of the set that always contains RoleUser.
func (s RoleSet) WithBase() RoleSet {
	out := make(RoleSet, len(s)+1)
	for r := range s {
		out[r] = struct{}{}
	}
	out[RoleUser] = struct{}{}
	return out
}

// Clone returns an independent copy.
func (s RoleSet) Clone() RoleSet {
	out := make(RoleSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

// Sorted returns the members ordered by name.
func (s RoleSet) Sorted() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted member names.
func (s RoleSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, r := range sorted {
		out[i] = string(r)
	}
	return out
}

// Equal reports whether both sets hold exactly the same roles.
func (s RoleSet) Equal(other RoleSet) bool {
	if len(s) != len(other) {
		return false
	}
	for r := range s {
		if !other.Has(r) {
			return false
		}
	}
	return true
}
