package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
	"github.com/peytondmurray/conda-store/internal/condastore/task"
)

// cleanupNamespace registers hard-delete teardown for a namespace created
// during a test.
func cleanupNamespace(t *testing.T, ctx context.Context, name string) {
	ns, err := db.DB(ctx).GetNamespace(ctx, name)
	require.NoError(t, err)
	id := ns.ID
	t.Cleanup(func() {
		_ = db.DB(ctx).HardDeleteNamespace(ctx, id)
	})
}

func TestGetStatusAPI(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/", nil)
	rsp := ts.execute(req, "")
	require.Equal(t, http.StatusOK, rsp.Code)

	var data statusRsp
	decodeData(t, rsp.Body.Bytes(), &data)
	assert.Equal(t, ServerVersion, data.Version)
}

func TestGetReadiness(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, "/ready", nil)
	rsp := ts.execute(req, "")
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.JSONEq(t, `{"status": "ready"}`, rsp.Body.String())
}

func TestPermissionEndpoint(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/permission/", nil)
	rsp := ts.execute(req, "")
	require.Equal(t, http.StatusOK, rsp.Code)

	var data permissionRsp
	decodeData(t, rsp.Body.Bytes(), &data)
	assert.False(t, data.Authenticated)
	assert.Equal(t, "viewer", data.EntityRoles["default/*"])
	assert.Contains(t, data.EntityPermissions["default/*"], "environment::read")

	token := adminToken(t, ts.ctx)
	req, _ = http.NewRequest(http.MethodGet, "/api/v1/permission/", nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)

	decodeData(t, rsp.Body.Bytes(), &data)
	assert.True(t, data.Authenticated)
	assert.Equal(t, "test-admin", data.Principal)
	assert.Equal(t, "admin", data.EntityRoles["*/*"])
}

func TestNamespaceAPI(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t, ts.ctx)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/namespace/srv_api_ns/", nil)
	setRequestBody(t, req, map[string]any{})
	rsp := ts.execute(req, token)
	require.Equal(t, http.StatusCreated, rsp.Code)
	cleanupNamespace(t, ts.ctx, "srv_api_ns")

	// Anonymous callers only hold the default/* viewer binding.
	req, _ = http.NewRequest(http.MethodGet, "/api/v1/namespace/srv_api_ns/", nil)
	rsp = ts.execute(req, "")
	require.Equal(t, http.StatusForbidden, rsp.Code)

	req, _ = http.NewRequest(http.MethodGet, "/api/v1/namespace/srv_api_ns/", nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)
	var ns namespaceRsp
	decodeData(t, rsp.Body.Bytes(), &ns)
	assert.Equal(t, "srv_api_ns", ns.Name)

	req, _ = http.NewRequest(http.MethodPut, "/api/v1/namespace/srv_api_ns/", nil)
	setRequestBody(t, req, map[string]any{"team": "platform"})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)

	req, _ = http.NewRequest(http.MethodGet, "/api/v1/namespace/srv_api_ns/", nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)
	decodeData(t, rsp.Body.Bytes(), &ns)
	assert.Contains(t, string(ns.Metadata), "platform")

	req, _ = http.NewRequest(http.MethodDelete, "/api/v1/namespace/srv_api_ns/", nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)

	req, _ = http.NewRequest(http.MethodGet, "/api/v1/namespace/srv_api_ns/", nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusNotFound, rsp.Code)
}

func TestRoleMappingAPI(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t, ts.ctx)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/namespace/srv_api_roles/", nil)
	setRequestBody(t, req, map[string]any{})
	rsp := ts.execute(req, token)
	require.Equal(t, http.StatusCreated, rsp.Code)
	cleanupNamespace(t, ts.ctx, "srv_api_roles")

	req, _ = http.NewRequest(http.MethodPost, "/api/v1/namespace/srv_api_roles/role/", nil)
	setRequestBody(t, req, &roleMappingReq{OtherNamespace: "srv_other/*", Role: "viewer"})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusCreated, rsp.Code)

	// Unknown roles are rejected before anything is stored.
	req, _ = http.NewRequest(http.MethodPost, "/api/v1/namespace/srv_api_roles/role/", nil)
	setRequestBody(t, req, &roleMappingReq{OtherNamespace: "srv_bad/*", Role: "owner"})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusBadRequest, rsp.Code)

	req, _ = http.NewRequest(http.MethodPut, "/api/v1/namespace/srv_api_roles/role/", nil)
	setRequestBody(t, req, &roleMappingReq{OtherNamespace: "srv_other/*", Role: "developer"})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)

	req, _ = http.NewRequest(http.MethodGet,
		"/api/v1/namespace/srv_api_roles/role/?other_namespace="+url.QueryEscape("srv_other/*"), nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)
	var mapping roleMappingRsp
	decodeData(t, rsp.Body.Bytes(), &mapping)
	assert.Equal(t, "srv_other/*", mapping.OtherNamespace)
	assert.Equal(t, "developer", mapping.Role)

	req, _ = http.NewRequest(http.MethodGet, "/api/v1/namespace/srv_api_roles/roles/", nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)
	var mappings []roleMappingRsp
	decodeData(t, rsp.Body.Bytes(), &mappings)
	require.Len(t, mappings, 1)

	req, _ = http.NewRequest(http.MethodDelete, "/api/v1/namespace/srv_api_roles/roles/", nil)
	setRequestBody(t, req, map[string]any{})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)

	req, _ = http.NewRequest(http.MethodGet, "/api/v1/namespace/srv_api_roles/roles/", nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)
	decodeData(t, rsp.Body.Bytes(), &mappings)
	assert.Empty(t, mappings)
}

const testSpecification = `{"name": "env1", "channels": ["conda-forge"], "dependencies": ["python=3.12"]}`

func TestSpecificationBuildAPI(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t, ts.ctx)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/specification/", nil)
	setRequestBody(t, req, &createSpecificationReq{
		Namespace:     "srv_api_build",
		Specification: testSpecification,
	})
	rsp := ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)
	cleanupNamespace(t, ts.ctx, "srv_api_build")

	var created createSpecificationRsp
	decodeData(t, rsp.Body.Bytes(), &created)
	require.NotZero(t, created.BuildID)
	require.NotEmpty(t, ts.tasks.submitted)
	assert.Equal(t, task.PhaseBuildEnvironment, ts.tasks.submitted[0].Phase)

	// Identical content reuses the active build.
	req, _ = http.NewRequest(http.MethodPost, "/api/v1/specification/", nil)
	setRequestBody(t, req, &createSpecificationReq{
		Namespace:     "srv_api_build",
		Specification: testSpecification,
	})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)
	var again createSpecificationRsp
	decodeData(t, rsp.Body.Bytes(), &again)
	assert.Equal(t, created.BuildID, again.BuildID)

	buildPath := fmt.Sprintf("/api/v1/build/%d/", created.BuildID)
	req, _ = http.NewRequest(http.MethodGet, buildPath, nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)
	var build buildRsp
	decodeData(t, rsp.Body.Bytes(), &build)
	assert.Equal(t, string(storecommon.BuildQueued), build.Status)
	assert.Equal(t, "srv_api_build", build.Namespace)
	assert.Equal(t, "env1", build.Environment)

	// Anonymous callers cannot see this namespace's builds.
	req, _ = http.NewRequest(http.MethodGet, buildPath, nil)
	rsp = ts.execute(req, "")
	require.Equal(t, http.StatusForbidden, rsp.Code)

	req, _ = http.NewRequest(http.MethodPut, buildPath+"cancel/", nil)
	setRequestBody(t, req, map[string]any{})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, task.BuildTaskNames(created.BuildID), ts.tasks.revoked)

	// Deleting before the build reaches a terminal state is rejected.
	req, _ = http.NewRequest(http.MethodDelete, buildPath, nil)
	setRequestBody(t, req, map[string]any{})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusBadRequest, rsp.Code)

	require.NoError(t, db.DB(ts.ctx).SetBuildCanceled(ts.ctx, created.BuildID))

	req, _ = http.NewRequest(http.MethodDelete, buildPath, nil)
	setRequestBody(t, req, map[string]any{})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)

	req, _ = http.NewRequest(http.MethodGet, buildPath, nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusNotFound, rsp.Code)
}

func TestEnvironmentListTokenScoped(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t, ts.ctx)

	for _, ns := range []string{"srv_jwt1", "srv_jwt2"} {
		req, _ := http.NewRequest(http.MethodPost, "/api/v1/specification/", nil)
		setRequestBody(t, req, &createSpecificationReq{
			Namespace:     ns,
			Specification: testSpecification,
		})
		rsp := ts.execute(req, token)
		require.Equal(t, http.StatusOK, rsp.Code)
		cleanupNamespace(t, ts.ctx, ns)
	}

	// Mint a token narrowed to srv_jwt1 and list through its eyes.
	entity := &storecommon.Entity{
		Principal:    "test-admin",
		RoleBindings: map[string]storecommon.RoleName{"*/*": storecommon.RoleNameAdmin},
	}
	narrowed, _, err := auth.CreateToken(storecommon.WithEntity(ts.ctx, entity), "scoped",
		auth.Bindings{"srv_jwt1/*": storecommon.RoleNameViewer}, 0)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/environment/?jwt="+url.QueryEscape(narrowed), nil)
	rsp := ts.execute(req, "")
	require.Equal(t, http.StatusOK, rsp.Code)

	var environments []environmentRsp
	decodeData(t, rsp.Body.Bytes(), &environments)
	require.Len(t, environments, 1)
	assert.Equal(t, "srv_jwt1", environments[0].Namespace)
	assert.Equal(t, "env1", environments[0].Name)
}

func TestSettingsAPI(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t, ts.ctx)

	// Global settings are guarded by the wildcard namespace.
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/setting/", nil)
	rsp := ts.execute(req, "")
	require.Equal(t, http.StatusForbidden, rsp.Code)

	req, _ = http.NewRequest(http.MethodPut, "/api/v1/setting/", nil)
	setRequestBody(t, req, map[string]any{"conda_command": "conda"})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)

	req, _ = http.NewRequest(http.MethodGet, "/api/v1/setting/", nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)
	var settings map[string]any
	decodeData(t, rsp.Body.Bytes(), &settings)
	assert.Equal(t, "conda", settings["conda_command"])

	// Global-only keys cannot be set at namespace scope.
	req, _ = http.NewRequest(http.MethodPut, "/api/v1/setting/srv_settings_ns/", nil)
	setRequestBody(t, req, map[string]any{"conda_command": "mamba"})
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusBadRequest, rsp.Code)
}

func TestTokenEndpoint(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t, ts.ctx)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/token/", nil)
	setRequestBody(t, req, &createTokenReq{
		RoleBindings: map[string]string{"default/*": "viewer"},
		Validity:     "1h",
	})
	rsp := ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)

	var minted createTokenRsp
	decodeData(t, rsp.Body.Bytes(), &minted)
	require.NotEmpty(t, minted.Token)

	entity, err := auth.ParseAndValidateToken(ts.ctx, minted.Token)
	require.NoError(t, err)
	assert.Equal(t, storecommon.RoleNameViewer, entity.RoleBindings["default/*"])

	// An anonymous caller cannot mint beyond the unauthenticated baseline.
	req, _ = http.NewRequest(http.MethodPost, "/api/v1/token/", nil)
	setRequestBody(t, req, &createTokenReq{
		RoleBindings: map[string]string{"*/*": "admin"},
	})
	rsp = ts.execute(req, "")
	require.Equal(t, http.StatusBadRequest, rsp.Code)
}

func TestSolveStatusAPI(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t, ts.ctx)

	query := url.Values{"specification": {testSpecification}}
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/specification/?"+query.Encode(), nil)
	rsp := ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)

	var registered solveRsp
	decodeData(t, rsp.Body.Bytes(), &registered)
	require.NotZero(t, registered.SolveID)

	// The returned id is pollable; no worker ran, so the solve is queued.
	req, _ = http.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/specification/%d/", registered.SolveID), nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusOK, rsp.Code)

	var polled solveRsp
	decodeData(t, rsp.Body.Bytes(), &polled)
	assert.Equal(t, registered.SolveID, polled.SolveID)
	assert.Equal(t, "QUEUED", polled.Status)

	// Anonymous viewers cannot poll solves.
	req, _ = http.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/specification/%d/", registered.SolveID), nil)
	rsp = ts.execute(req, "")
	require.Equal(t, http.StatusForbidden, rsp.Code)

	req, _ = http.NewRequest(http.MethodGet, "/api/v1/specification/999999999/", nil)
	rsp = ts.execute(req, token)
	require.Equal(t, http.StatusNotFound, rsp.Code)
}

func TestRequestBodySizeLimit(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t, ts.ctx)

	limit := config.Config().MaxRequestBodySize
	require.Positive(t, limit)

	oversized := `{"role_bindings":{"default/*":"viewer"},"note":"` +
		strings.Repeat("x", int(limit)) + `"}`
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/token/", nil)
	setRequestBody(t, req, oversized)
	rsp := ts.execute(req, token)
	require.Equal(t, http.StatusRequestEntityTooLarge, rsp.Code)
}
