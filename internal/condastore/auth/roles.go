package auth

import (
	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

// Permission names one operation on one resource kind. The string form is
// what tokens and API responses carry.
type Permission string

const (
	PermBuildCancel Permission = "build::cancel"
	PermBuildDelete Permission = "build::delete"

	PermEnvironmentCreate Permission = "environment::create"
	PermEnvironmentRead   Permission = "environment::read"
	PermEnvironmentUpdate Permission = "environment::update"
	PermEnvironmentDelete Permission = "environment::delete"
	PermEnvironmentSolve  Permission = "environment::solve"

	PermNamespaceCreate Permission = "namespace::create"
	PermNamespaceRead   Permission = "namespace::read"
	PermNamespaceUpdate Permission = "namespace::update"
	PermNamespaceDelete Permission = "namespace::delete"

	PermNamespaceRoleMappingCreate Permission = "namespace-role-mapping::create"
	PermNamespaceRoleMappingRead   Permission = "namespace-role-mapping::read"
	PermNamespaceRoleMappingUpdate Permission = "namespace-role-mapping::update"
	PermNamespaceRoleMappingDelete Permission = "namespace-role-mapping::delete"

	PermSettingRead   Permission = "setting::read"
	PermSettingUpdate Permission = "setting::update"
)

// PermissionSet is a set of permissions keyed by name.
type PermissionSet map[Permission]struct{}

// Contains reports whether every permission in required is present.
func (s PermissionSet) Contains(required ...Permission) bool {
	for _, p := range required {
		if _, ok := s[p]; !ok {
			return false
		}
	}
	return true
}

// Add inserts the given permissions into the set.
func (s PermissionSet) Add(perms ...Permission) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

// List returns the permissions as a slice, unordered.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}

var viewerPermissions = []Permission{
	PermEnvironmentRead,
	PermNamespaceRead,
	PermNamespaceRoleMappingRead,
	PermSettingRead,
}

var editorPermissions = append([]Permission{
	PermBuildCancel,
	PermEnvironmentCreate,
	PermEnvironmentUpdate,
	PermEnvironmentSolve,
	PermSettingUpdate,
}, viewerPermissions...)

var adminPermissions = append([]Permission{
	PermBuildDelete,
	PermEnvironmentDelete,
	PermNamespaceCreate,
	PermNamespaceUpdate,
	PermNamespaceDelete,
	PermNamespaceRoleMappingCreate,
	PermNamespaceRoleMappingUpdate,
	PermNamespaceRoleMappingDelete,
}, editorPermissions...)

// rolePermissions is the fixed role to permission-set table.
var rolePermissions = map[storecommon.RoleName][]Permission{
	storecommon.RoleNameViewer: viewerPermissions,
	storecommon.RoleNameEditor: editorPermissions,
	storecommon.RoleNameAdmin:  adminPermissions,
}

// ParseRole validates a role name, folding the deprecated "developer" alias
// onto editor.
func ParseRole(name string) (storecommon.RoleName, apperrors.Error) {
	switch storecommon.RoleName(name) {
	case storecommon.RoleNameViewer:
		return storecommon.RoleNameViewer, nil
	case storecommon.RoleNameEditor, storecommon.RoleNameDeveloper:
		return storecommon.RoleNameEditor, nil
	case storecommon.RoleNameAdmin:
		return storecommon.RoleNameAdmin, nil
	}
	return "", ErrInvalidRole.Msg("invalid role=" + name)
}

// RolePermissions returns the permission set of a role. Unknown roles yield
// an empty set.
func RolePermissions(name storecommon.RoleName) PermissionSet {
	set := make(PermissionSet)
	role, err := ParseRole(string(name))
	if err != nil {
		return set
	}
	set.Add(rolePermissions[role]...)
	return set
}
