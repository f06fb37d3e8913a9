// Package auth implements the authorization engine of the conda-store
// server: role bindings matched by ARN pattern, role-to-permission
// expansion, namespace-to-namespace delegation, query-level visibility
// filtering, and API token mint/verify.
package auth

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

// Bindings maps an ARN pattern to a role name.
type Bindings map[string]storecommon.RoleName

func roleRank(r storecommon.RoleName) int {
	switch r {
	case storecommon.RoleNameViewer:
		return 1
	case storecommon.RoleNameEditor, storecommon.RoleNameDeveloper:
		return 2
	case storecommon.RoleNameAdmin:
		return 3
	}
	return 0
}

// merge adds a binding, keeping the stronger role when the pattern is
// already bound.
func (b Bindings) merge(pattern string, role storecommon.RoleName) {
	if existing, ok := b[pattern]; ok && roleRank(existing) >= roleRank(role) {
		return
	}
	b[pattern] = role
}

// GetEntityBindings computes the caller's effective bindings: the
// unauthenticated baseline from configuration, the entity's own bindings,
// and one hop of namespace-to-namespace delegation. A role mapping owned by
// namespace A with pattern B and role R grants R over B to every entity
// holding any role on A.
func GetEntityBindings(ctx context.Context) (Bindings, apperrors.Error) {
	bindings := make(Bindings)

	for pattern, roleName := range config.Config().Auth.UnauthenticatedRoles {
		role, err := ParseRole(roleName)
		if err != nil {
			log.Ctx(ctx).Error().Str("pattern", pattern).Str("role", roleName).Msg("invalid unauthenticated role binding in config")
			continue
		}
		bindings.merge(pattern, role)
	}

	entity := storecommon.GetEntity(ctx)
	if entity != nil {
		for pattern, role := range entity.RoleBindings {
			bindings.merge(pattern, role)
		}
	}

	mappings, err := delegatedMappings(ctx, bindings)
	if err != nil {
		return nil, err
	}
	for _, m := range mappings {
		memberArn, perr := ParseArn(m.Namespace)
		if perr != nil {
			continue
		}
		if !matchesAnyPattern(bindings, memberArn) {
			continue
		}
		role, rerr := ParseRole(m.Role)
		if rerr != nil {
			log.Ctx(ctx).Error().Str("role", m.Role).Int64("mapping_id", m.ID).Msg("stored role mapping has unknown role")
			continue
		}
		bindings.merge(m.OtherNamespace, role)
	}

	return bindings, nil
}

// delegatedMappings fetches the role mappings whose owning namespace the
// caller could be a member of. A wildcard namespace binding makes the caller
// a member of every namespace.
func delegatedMappings(ctx context.Context, bindings Bindings) ([]*models.NamespaceRoleMapping, apperrors.Error) {
	wildcard := false
	var names []string
	seen := make(map[string]bool)
	for pattern := range bindings {
		arn, err := ParseArn(pattern)
		if err != nil {
			continue
		}
		if arn.Namespace == "*" {
			wildcard = true
			break
		}
		if !seen[arn.Namespace] {
			seen[arn.Namespace] = true
			names = append(names, arn.Namespace)
		}
	}

	if wildcard {
		return db.DB(ctx).ListAllRoleMappings(ctx)
	}
	if len(names) == 0 {
		return nil, nil
	}
	return db.DB(ctx).GetRoleMappingsForNamespaces(ctx, names)
}

func matchesAnyPattern(bindings Bindings, target Arn) bool {
	for pattern := range bindings {
		arn, err := ParseArn(pattern)
		if err != nil {
			continue
		}
		if arn.Matches(target) {
			return true
		}
	}
	return false
}

// EffectivePermissions computes the union of permissions granted over the
// target ARN by every binding whose pattern matches it.
func EffectivePermissions(bindings Bindings, target string) (PermissionSet, apperrors.Error) {
	targetArn, err := ParseArn(target)
	if err != nil {
		return nil, err
	}

	perms := make(PermissionSet)
	for pattern, role := range bindings {
		arn, perr := ParseArn(pattern)
		if perr != nil {
			continue
		}
		if arn.Matches(targetArn) {
			perms.Add(RolePermissions(role).List()...)
		}
	}
	return perms, nil
}

// Authorize computes the caller's effective permissions over the target ARN
// and checks that they fully contain required. With require set, a missing
// permission fails with ErrDisallowedByPolicy; otherwise the result is
// reported without error. Authorization failures never name the missing
// permission.
func Authorize(ctx context.Context, target string, required []Permission, require bool) (bool, apperrors.Error) {
	bindings, err := GetEntityBindings(ctx)
	if err != nil {
		return false, err
	}

	perms, err := EffectivePermissions(bindings, target)
	if err != nil {
		return false, err
	}

	if perms.Contains(required...) {
		return true, nil
	}
	if require {
		return false, ErrDisallowedByPolicy
	}
	return false, nil
}

// FilterPatterns converts bindings into the visibility patterns pushed into
// listing queries: every pattern whose role grants at least read on
// environments.
func FilterPatterns(bindings Bindings) []models.ArnPattern {
	var patterns []models.ArnPattern
	for pattern, role := range bindings {
		if !RolePermissions(role).Contains(PermEnvironmentRead) {
			continue
		}
		arn, err := ParseArn(pattern)
		if err != nil {
			continue
		}
		patterns = append(patterns, models.ArnPattern{
			Namespace:   arn.Namespace,
			Environment: arn.Environment,
		})
	}
	return patterns
}

// VisibilityPatterns computes the caller's visibility patterns for listing
// queries.
func VisibilityPatterns(ctx context.Context) ([]models.ArnPattern, apperrors.Error) {
	bindings, err := GetEntityBindings(ctx)
	if err != nil {
		return nil, err
	}
	return FilterPatterns(bindings), nil
}

// IsSubsetEntityPermissions reports whether the requested bindings grant no
// more than the issuer's. The check is per pattern: for each requested
// binding, every permission of its role must be granted by the union of
// issuer bindings whose pattern covers the requested one. A broader pattern
// with fewer permissions is not comparable to a narrower pattern with more,
// so flattened unions are never compared.
func IsSubsetEntityPermissions(issuer, requested Bindings) bool {
	for pattern, role := range requested {
		requestedArn, err := ParseArn(pattern)
		if err != nil {
			return false
		}

		covering := make(PermissionSet)
		for issuerPattern, issuerRole := range issuer {
			issuerArn, err := ParseArn(issuerPattern)
			if err != nil {
				continue
			}
			if issuerArn.Covers(requestedArn) {
				covering.Add(RolePermissions(issuerRole).List()...)
			}
		}

		if !covering.Contains(RolePermissions(role).List()...) {
			return false
		}
	}
	return true
}
