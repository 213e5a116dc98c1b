package scopes

import "fmt"

type InvalidScopeError struct {
	Raw string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid scope %q", e.Raw)
}

// MissingScopeDependencyError reports a scope whose prerequisite is absent
// from the set being validated.
type MissingScopeDependencyError struct {
	Scope        Scope
	Prerequisite Scope
}

func (e *MissingScopeDependencyError) Error() string {
	return fmt.Sprintf("scope %q requires %q which is not present", e.Scope, e.Prerequisite)
}

// ProhibitedScopeError reports a scope that may not be assigned in the
// attempted grant.
type ProhibitedScopeError struct {
	Scope  Scope
	Reason string
}

func (e *ProhibitedScopeError) Error() string {
	return fmt.Sprintf("scope %q may not be assigned: %s", e.Scope, e.Reason)
}

// ValidateDependencies succeeds iff every scope's prerequisite is either
// absent or contained in the set itself.
func ValidateDependencies(set []Scope) error {
	present := make(map[Scope]struct{}, len(set))
	for _, s := range set {
		present[s] = struct{}{}
	}
	for _, s := range set {
		prereq, ok := s.Prerequisite()
		if !ok {
			continue
		}
		if _, held := present[prereq]; !held {
			return &MissingScopeDependencyError{Scope: s, Prerequisite: prereq}
		}
	}
	return nil
}

// CheckProhibitedUserScopes succeeds iff every user scope can be granted by
// an admin holding adminScopes. Account scopes, the refresh scope, and any
// admin scope are never assignable to users.
func CheckProhibitedUserScopes(userScopes, adminScopes []Scope) error {
	held := make(map[Scope]struct{}, len(adminScopes))
	for _, s := range adminScopes {
		held[s] = struct{}{}
	}
	for _, s := range userScopes {
		switch {
		case s.IsAccount():
			return &ProhibitedScopeError{Scope: s, Reason: "account scopes are never assignable"}
		case s == Refresh:
			return &ProhibitedScopeError{Scope: s, Reason: "refresh scope is never assignable"}
		case s.IsAdmin():
			return &ProhibitedScopeError{Scope: s, Reason: "admin scopes cannot be assigned to users"}
		}
		required, ok := s.RequiredAdmin()
		if !ok {
			return &ProhibitedScopeError{Scope: s, Reason: "scope declares no granting admin"}
		}
		if _, has := held[required]; !has {
			return &ProhibitedScopeError{
				Scope:  s,
				Reason: fmt.Sprintf("granter does not hold %q", required),
			}
		}
	}
	return nil
}

// CheckProhibitedAdminScopes succeeds iff the granter is the root admin and
// every target scope is a non-root admin scope. The root admin scope itself
// is never grantable.
func CheckProhibitedAdminScopes(targetScopes, granterScopes []Scope) error {
	isRoot := false
	for _, s := range granterScopes {
		if s == CuriAdmin {
			isRoot = true
			break
		}
	}
	for _, s := range targetScopes {
		if s == CuriAdmin {
			return &ProhibitedScopeError{Scope: s, Reason: "root admin scope cannot be granted"}
		}
		if !s.IsAdmin() || s.IsAccount() {
			return &ProhibitedScopeError{Scope: s, Reason: "not a grantable admin scope"}
		}
		if !isRoot {
			return &ProhibitedScopeError{
				Scope:  s,
				Reason: "only the root admin may grant admin scopes",
			}
		}
	}
	return nil
}
