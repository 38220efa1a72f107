package rbac

import "errors"

var ErrOutOfScope = errors.New("department outside staff scope")

// Scope is the set of departments a staff account may read and mutate.
type Scope struct {
	All          bool
	DepartmentID *int64
}

// ScopeFor resolves a staff account into its department scope. Super admins
// and accounts flagged can_view_all see every department; everyone else sees
// their own department, or nothing when they have none.
func ScopeFor(role Role, departmentID *int64, canViewAll bool) Scope {
	if role == RoleSuperAdmin || canViewAll {
		return Scope{All: true}
	}
	if departmentID == nil {
		return Scope{}
	}
	id := *departmentID
	return Scope{DepartmentID: &id}
}

// Empty reports a scope that matches no department at all.
func (s Scope) Empty() bool {
	return !s.All && s.DepartmentID == nil
}

func (s Scope) Allows(departmentID int64) bool {
	if s.All {
		return true
	}
	return s.DepartmentID != nil && *s.DepartmentID == departmentID
}

// Narrow combines the scope with a caller-requested department filter and
// returns the filter to query with. A nil result with a nil error means no
// department restriction. Requesting a department outside the scope fails
// rather than silently widening or narrowing the result.
func (s Scope) Narrow(requested *int64) (*int64, error) {
	if s.All {
		return requested, nil
	}
	if s.DepartmentID == nil {
		return nil, ErrOutOfScope
	}
	if requested != nil && *requested != *s.DepartmentID {
		return nil, ErrOutOfScope
	}
	id := *s.DepartmentID
	return &id, nil
}
