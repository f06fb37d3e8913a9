package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

func TestEffectivePermissions(t *testing.T) {
	bindings := Bindings{
		"default/*":    storecommon.RoleNameViewer,
		"team/pytest1": storecommon.RoleNameEditor,
		"ops":          storecommon.RoleNameAdmin,
	}

	perms, err := EffectivePermissions(bindings, "default/env1")
	require.NoError(t, err)
	assert.True(t, perms.Contains(PermEnvironmentRead))
	assert.False(t, perms.Contains(PermEnvironmentCreate))

	perms, err = EffectivePermissions(bindings, "team/pytest1")
	require.NoError(t, err)
	assert.True(t, perms.Contains(PermEnvironmentCreate, PermBuildCancel))
	assert.False(t, perms.Contains(PermEnvironmentDelete))

	// Binding on another environment of the same namespace grants nothing.
	perms, err = EffectivePermissions(bindings, "team/pytest2")
	require.NoError(t, err)
	assert.Empty(t, perms)

	// Namespace-only binding grants over every environment in it.
	perms, err = EffectivePermissions(bindings, "ops/anything")
	require.NoError(t, err)
	assert.True(t, perms.Contains(PermEnvironmentDelete, PermNamespaceDelete))

	// Namespace-level target matched on the namespace segment alone.
	perms, err = EffectivePermissions(bindings, "team")
	require.NoError(t, err)
	assert.True(t, perms.Contains(PermNamespaceRead))

	_, err = EffectivePermissions(bindings, "a/b/c")
	assert.Error(t, err)
}

func TestEffectivePermissionsOverlap(t *testing.T) {
	// Multiple matching bindings union their permissions.
	bindings := Bindings{
		"*/*":          storecommon.RoleNameViewer,
		"team/pytest1": storecommon.RoleNameEditor,
	}

	perms, err := EffectivePermissions(bindings, "team/pytest1")
	require.NoError(t, err)
	assert.True(t, perms.Contains(PermEnvironmentRead, PermEnvironmentCreate))

	perms, err = EffectivePermissions(bindings, "other/env")
	require.NoError(t, err)
	assert.True(t, perms.Contains(PermEnvironmentRead))
	assert.False(t, perms.Contains(PermEnvironmentCreate))
}

func TestBindingsMerge(t *testing.T) {
	b := make(Bindings)
	b.merge("default/*", storecommon.RoleNameEditor)
	b.merge("default/*", storecommon.RoleNameViewer)
	assert.Equal(t, storecommon.RoleNameEditor, b["default/*"])

	b.merge("default/*", storecommon.RoleNameAdmin)
	assert.Equal(t, storecommon.RoleNameAdmin, b["default/*"])
}

func TestFilterPatterns(t *testing.T) {
	bindings := Bindings{
		"default/*":    storecommon.RoleNameViewer,
		"team/pytest1": storecommon.RoleNameAdmin,
		"broken//":     storecommon.RoleNameViewer,
	}

	patterns := FilterPatterns(bindings)
	assert.Len(t, patterns, 2)

	seen := make(map[string]string)
	for _, p := range patterns {
		seen[p.Namespace] = p.Environment
	}
	assert.Equal(t, "*", seen["default"])
	assert.Equal(t, "pytest1", seen["team"])
}

func TestIsSubsetEntityPermissions(t *testing.T) {
	tests := []struct {
		name      string
		issuer    Bindings
		requested Bindings
		want      bool
	}{
		{
			name:      "identical bindings",
			issuer:    Bindings{"default/*": storecommon.RoleNameEditor},
			requested: Bindings{"default/*": storecommon.RoleNameEditor},
			want:      true,
		},
		{
			name:      "narrower pattern same role",
			issuer:    Bindings{"default/*": storecommon.RoleNameEditor},
			requested: Bindings{"default/pytest1": storecommon.RoleNameEditor},
			want:      true,
		},
		{
			name:      "weaker role same pattern",
			issuer:    Bindings{"default/*": storecommon.RoleNameAdmin},
			requested: Bindings{"default/*": storecommon.RoleNameViewer},
			want:      true,
		},
		{
			name:      "role escalation",
			issuer:    Bindings{"default/*": storecommon.RoleNameViewer},
			requested: Bindings{"default/*": storecommon.RoleNameEditor},
			want:      false,
		},
		{
			name:      "pattern escalation",
			issuer:    Bindings{"default/pytest1": storecommon.RoleNameAdmin},
			requested: Bindings{"default/*": storecommon.RoleNameViewer},
			want:      false,
		},
		{
			name: "broader pattern with fewer permissions is incomparable",
			issuer: Bindings{
				"*/*":       storecommon.RoleNameViewer,
				"default/*": storecommon.RoleNameAdmin,
			},
			requested: Bindings{"team/*": storecommon.RoleNameEditor},
			want:      false,
		},
		{
			name: "covering bindings union their permissions",
			issuer: Bindings{
				"*/*":       storecommon.RoleNameViewer,
				"default/*": storecommon.RoleNameEditor,
			},
			requested: Bindings{"default/pytest1": storecommon.RoleNameEditor},
			want:      true,
		},
		{
			name:      "empty request is always a subset",
			issuer:    Bindings{},
			requested: Bindings{},
			want:      true,
		},
		{
			name:      "request against empty issuer",
			issuer:    Bindings{},
			requested: Bindings{"default/*": storecommon.RoleNameViewer},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSubsetEntityPermissions(tt.issuer, tt.requested))
		})
	}
}

func TestGetEntityBindingsDelegation(t *testing.T) {
	ctx := setupTest(t)

	ns := &models.Namespace{Name: "authteam"}
	require.NoError(t, ns.Metadata.Set([]byte(`{}`)))
	require.NoError(t, db.DB(ctx).CreateNamespace(ctx, ns))
	t.Cleanup(func() {
		_ = db.DB(ctx).HardDeleteNamespace(ctx, ns.ID)
	})

	require.NoError(t, db.DB(ctx).CreateNamespaceRole(ctx, &models.NamespaceRoleMapping{
		NamespaceID:    ns.ID,
		OtherNamespace: "authproj/*",
		Role:           "editor",
	}))

	// A member of authteam receives the delegated role on authproj.
	memberCtx := storecommon.WithEntity(ctx, &storecommon.Entity{
		Principal: "test_member",
		RoleBindings: map[string]storecommon.RoleName{
			"authteam/*": storecommon.RoleNameViewer,
		},
	})
	bindings, err := GetEntityBindings(memberCtx)
	require.NoError(t, err)
	assert.Equal(t, storecommon.RoleNameViewer, bindings["authteam/*"])
	assert.Equal(t, storecommon.RoleNameEditor, bindings["authproj/*"])

	// An entity with no role on authteam does not.
	outsiderCtx := storecommon.WithEntity(ctx, &storecommon.Entity{
		Principal: "test_outsider",
		RoleBindings: map[string]storecommon.RoleName{
			"elsewhere/*": storecommon.RoleNameAdmin,
		},
	})
	bindings, err = GetEntityBindings(outsiderCtx)
	require.NoError(t, err)
	_, ok := bindings["authproj/*"]
	assert.False(t, ok)

	// A wildcard namespace binding makes the entity a member of every
	// namespace.
	wildcardCtx := storecommon.WithEntity(ctx, &storecommon.Entity{
		Principal: "test_root",
		RoleBindings: map[string]storecommon.RoleName{
			"*/*": storecommon.RoleNameViewer,
		},
	})
	bindings, err = GetEntityBindings(wildcardCtx)
	require.NoError(t, err)
	assert.Equal(t, storecommon.RoleNameEditor, bindings["authproj/*"])
}

func TestGetEntityBindingsAnonymous(t *testing.T) {
	ctx := setupTest(t)

	// No entity on the context: only the configured unauthenticated
	// bindings apply.
	bindings, err := GetEntityBindings(ctx)
	require.NoError(t, err)
	assert.Equal(t, storecommon.RoleNameViewer, bindings["default/*"])
	_, ok := bindings["authproj/*"]
	assert.False(t, ok)
}
