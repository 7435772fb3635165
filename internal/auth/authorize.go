package auth

// IsAuthorized reports whether held and required share at least one role.
// There is no hierarchy: SUPER_ADMIN does not satisfy an ADMIN requirement
// unless the account holds ADMIN as well. An empty requirement denies.
func IsAuthorized(held, required RoleSet) bool {
	small, large := held, required
	if len(large) < len(small) {
		small, large = large, small
	}
	for r := range small {
		if large.Has(r) {
			return true
		}
	}
	return false
}

// Authorize checks already verified claims against the required roles.
func Authorize(claims *Claims, required ...Role) error {
	if claims == nil {
		return ErrTokenInvalid
	}
	if !IsAuthorized(claims.RoleSet(), NewRoleSet(required...)) {
		return ErrForbidden
	}
	return nil
}
