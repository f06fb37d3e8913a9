package buildmanager

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

func TestEnsureNamespaceIdempotent(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_ensure")

	first, err := m.EnsureNamespace(ctx, "bm_ensure")
	require.NoError(t, err)
	second, err := m.EnsureNamespace(ctx, "bm_ensure")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestEnsureEnvironmentIdempotent(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_ensure_env")

	ns, err := m.EnsureNamespace(ctx, "bm_ensure_env")
	require.NoError(t, err)

	first, err := m.EnsureEnvironment(ctx, ns, "env1")
	require.NoError(t, err)
	second, err := m.EnsureEnvironment(ctx, ns, "env1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRoleMappingDuplicate(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_roles")

	_, err := m.CreateNamespaceRole(ctx, "bm_roles", "other/*", "viewer")
	require.NoError(t, err)

	_, err = m.CreateNamespaceRole(ctx, "bm_roles", "other/*", "editor")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberror.ErrAlreadyExists))

	// After deleting the first, the pair is free again.
	require.NoError(t, m.DeleteNamespaceRole(ctx, "bm_roles", "other/*"))
	_, err = m.CreateNamespaceRole(ctx, "bm_roles", "other/*", "editor")
	require.NoError(t, err)
}

func TestRoleMappingValidation(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_roleval")

	_, err := m.CreateNamespaceRole(ctx, "bm_roleval", "other/*", "owner")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid role=owner")

	_, err = m.CreateNamespaceRole(ctx, "bm_roleval", "justanamespace", "viewer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRoleMapping))

	_, err = m.CreateNamespaceRole(ctx, "bm_roleval", "a/b/c", "viewer")
	assert.Error(t, err)

	// The deprecated alias is accepted and stored verbatim.
	mapping, err := m.CreateNamespaceRole(ctx, "bm_roleval", "legacy/*", "developer")
	require.NoError(t, err)
	assert.Equal(t, "developer", mapping.Role)
}

func TestRoleMappingOrderAndUpdate(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_roleorder")

	ns, err := m.EnsureNamespace(ctx, "bm_roleorder")
	require.NoError(t, err)

	_, err = m.CreateNamespaceRole(ctx, "bm_roleorder", "first/*", "viewer")
	require.NoError(t, err)
	_, err = m.CreateNamespaceRole(ctx, "bm_roleorder", "second/*", "viewer")
	require.NoError(t, err)

	// Updating the first mapping changes the role but not its position.
	require.NoError(t, m.UpdateNamespaceRole(ctx, "bm_roleorder", "first/*", "admin"))

	mappings, err := db.DB(ctx).ListNamespaceRoles(ctx, ns.ID)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, "first/*", mappings[0].OtherNamespace)
	assert.Equal(t, "admin", mappings[0].Role)
	assert.Equal(t, "second/*", mappings[1].OtherNamespace)
	assert.Equal(t, "viewer", mappings[1].Role)
}

func TestEnvironmentVisibilityFilter(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "pytest1")
	createTestNamespace(t, ctx, m, "pytest2")

	ns1, err := m.EnsureNamespace(ctx, "pytest1")
	require.NoError(t, err)
	ns2, err := m.EnsureNamespace(ctx, "pytest2")
	require.NoError(t, err)

	_, err = m.EnsureEnvironment(ctx, ns1, "env1")
	require.NoError(t, err)
	_, err = m.EnsureEnvironment(ctx, ns2, "env2")
	require.NoError(t, err)

	// A caller bound to "*/env1" as viewer sees exactly env1.
	patterns := auth.FilterPatterns(auth.Bindings{"*/env1": storecommon.RoleNameViewer})
	envs, err := db.DB(ctx).ListEnvironments(ctx, models.EnvironmentFilter{Patterns: patterns})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "env1", envs[0].Name)
	assert.Equal(t, "pytest1", envs[0].Namespace)

	// No patterns means no visibility.
	envs, err = db.DB(ctx).ListEnvironments(ctx, models.EnvironmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestDeleteNamespaceSchedulesCleanup(t *testing.T) {
	ctx, m, tasks := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_nsdelete")

	require.NoError(t, m.DeleteNamespace(ctx, "bm_nsdelete"))

	// The namespace is no longer visible.
	_, err := db.DB(ctx).GetNamespace(ctx, "bm_nsdelete")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberror.ErrNotFound))

	require.Len(t, tasks.submitted, 1)
	assert.Equal(t, "cleanup-deleted-storage", string(tasks.submitted[0].Phase))

	// Deleting again is a NotFound, not a crash.
	err = m.DeleteNamespace(ctx, "bm_nsdelete")
	assert.True(t, errors.Is(err, dberror.ErrNotFound))
}
