package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

type permissionRsp struct {
	Authenticated     bool                `json:"authenticated"`
	Principal         string              `json:"principal,omitempty"`
	EntityRoles       map[string]string   `json:"entity_roles"`
	EntityPermissions map[string][]string `json:"entity_permissions"`
	ExpiresAt         string              `json:"expiration,omitempty"`
}

// getPermission reports the caller's effective bindings and the permission
// set each binding expands to.
func (s *CondaStoreServer) getPermission(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()

	bindings, err := auth.GetEntityBindings(ctx)
	if err != nil {
		return nil, err
	}

	rsp := &permissionRsp{
		EntityRoles:       make(map[string]string, len(bindings)),
		EntityPermissions: make(map[string][]string, len(bindings)),
	}
	for pattern, role := range bindings {
		rsp.EntityRoles[pattern] = string(role)
		perms := auth.RolePermissions(role).List()
		names := make([]string, 0, len(perms))
		for _, p := range perms {
			names = append(names, string(p))
		}
		sort.Strings(names)
		rsp.EntityPermissions[pattern] = names
	}

	if entity := storecommon.GetEntity(ctx); entity != nil {
		rsp.Authenticated = true
		rsp.Principal = entity.Principal
		if !entity.ExpiresAt.IsZero() {
			rsp.ExpiresAt = entity.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}

	return okRsp(rsp), nil
}

type createTokenReq struct {
	Principal    string            `json:"primary_namespace,omitempty"`
	RoleBindings map[string]string `json:"role_bindings"`
	// Validity is a duration in the configuration format, e.g. "1d". Empty
	// uses the configured default.
	Validity string `json:"validity,omitempty"`
}

type createTokenRsp struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiration"`
}

// createToken mints a narrowed API token. The requested bindings must be a
// per-pattern subset of the caller's effective bindings.
func (s *CondaStoreServer) createToken(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()

	req := &createTokenReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}

	principal := req.Principal
	if principal == "" {
		principal = storecommon.GetPrincipal(ctx)
	}
	if principal == "" {
		principal = config.Config().DefaultNamespace
	}

	var validity time.Duration
	if req.Validity != "" {
		d, goerr := config.ParseDuration(req.Validity)
		if goerr != nil {
			return nil, httpx.ErrInvalidRequest("invalid validity: " + req.Validity)
		}
		validity = d
	}

	requested := make(auth.Bindings, len(req.RoleBindings))
	for pattern, role := range req.RoleBindings {
		requested[pattern] = storecommon.RoleName(role)
	}

	token, expiry, err := auth.CreateToken(ctx, principal, requested, validity)
	if err != nil {
		return nil, err
	}

	return okRsp(&createTokenRsp{
		Token:     token,
		ExpiresAt: expiry.UTC().Format(time.RFC3339),
	}), nil
}
