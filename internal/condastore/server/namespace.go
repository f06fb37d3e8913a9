package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgtype"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
)

type namespaceRsp struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Metadata json.RawMessage `json:"metadata_"`
}

func toNamespaceRsp(ns *models.Namespace) *namespaceRsp {
	rsp := &namespaceRsp{ID: ns.ID, Name: ns.Name}
	if ns.Metadata.Status == pgtype.Present {
		rsp.Metadata = json.RawMessage(ns.Metadata.Bytes)
	}
	return rsp
}

// listNamespaces returns the namespaces visible to the caller.
func (s *CondaStoreServer) listNamespaces(r *http.Request) (*httpx.Response, error) {
	patterns, err := auth.VisibilityPatterns(r.Context())
	if err != nil {
		return nil, err
	}

	namespaces, err := db.DB(r.Context()).ListNamespaces(r.Context(), false, patterns)
	if err != nil {
		return nil, err
	}

	out := make([]*namespaceRsp, 0, len(namespaces))
	for _, ns := range namespaces {
		out = append(out, toNamespaceRsp(ns))
	}
	return okRsp(out), nil
}

func (s *CondaStoreServer) getNamespace(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "namespace")
	if err := authorizeNamespace(r, name, auth.PermNamespaceRead); err != nil {
		return nil, err
	}

	ns, err := db.DB(r.Context()).GetNamespace(r.Context(), name)
	if err != nil {
		return nil, err
	}
	return okRsp(toNamespaceRsp(ns)), nil
}

func (s *CondaStoreServer) createNamespace(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "namespace")
	if err := authorizeNamespace(r, name, auth.PermNamespaceCreate); err != nil {
		return nil, err
	}

	ns := &models.Namespace{Name: name}
	if merr := ns.Metadata.Set([]byte(`{}`)); merr != nil {
		return nil, httpx.ErrApplicationError()
	}
	if err := db.DB(r.Context()).CreateNamespace(r.Context(), ns); err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Response:   &apiRsp{Status: "ok", Data: toNamespaceRsp(ns)},
	}, nil
}

// updateNamespace merges the request body into the namespace metadata.
func (s *CondaStoreServer) updateNamespace(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "namespace")
	if err := authorizeNamespace(r, name, auth.PermNamespaceUpdate); err != nil {
		return nil, err
	}

	var metadata map[string]any
	if err := httpx.GetRequestData(r, &metadata); err != nil {
		return nil, err
	}
	raw, goerr := json.Marshal(metadata)
	if goerr != nil {
		return nil, httpx.ErrUnableToParseReqData()
	}

	if err := db.DB(r.Context()).UpdateNamespaceMetadata(r.Context(), name, raw); err != nil {
		return nil, err
	}
	return okMsgRsp("namespace updated"), nil
}

// deleteNamespace soft-deletes the namespace and schedules storage cleanup.
func (s *CondaStoreServer) deleteNamespace(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "namespace")
	if err := authorizeNamespace(r, name, auth.PermNamespaceDelete); err != nil {
		return nil, err
	}

	if err := s.manager.DeleteNamespace(r.Context(), name); err != nil {
		return nil, err
	}
	return okMsgRsp("namespace deleted"), nil
}

type roleMappingRsp struct {
	ID             int64  `json:"id"`
	Namespace      string `json:"namespace"`
	OtherNamespace string `json:"other_namespace"`
	Role           string `json:"role"`
}

func toRoleMappingRsp(m *models.NamespaceRoleMapping) *roleMappingRsp {
	return &roleMappingRsp{
		ID:             m.ID,
		Namespace:      m.Namespace,
		OtherNamespace: m.OtherNamespace,
		Role:           m.Role,
	}
}

func (s *CondaStoreServer) listNamespaceRoles(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "namespace")
	if err := authorizeNamespace(r, name, auth.PermNamespaceRoleMappingRead); err != nil {
		return nil, err
	}

	ns, err := db.DB(r.Context()).GetNamespace(r.Context(), name)
	if err != nil {
		return nil, err
	}
	mappings, err := db.DB(r.Context()).ListNamespaceRoles(r.Context(), ns.ID)
	if err != nil {
		return nil, err
	}

	out := make([]*roleMappingRsp, 0, len(mappings))
	for _, m := range mappings {
		m.Namespace = ns.Name
		out = append(out, toRoleMappingRsp(m))
	}
	return okRsp(out), nil
}

func (s *CondaStoreServer) deleteNamespaceRoles(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "namespace")
	if err := authorizeNamespace(r, name, auth.PermNamespaceRoleMappingDelete); err != nil {
		return nil, err
	}

	ns, err := db.DB(r.Context()).GetNamespace(r.Context(), name)
	if err != nil {
		return nil, err
	}
	if err := db.DB(r.Context()).DeleteNamespaceRoles(r.Context(), ns.ID); err != nil {
		return nil, err
	}
	return okMsgRsp("role mappings deleted"), nil
}

func (s *CondaStoreServer) getNamespaceRole(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "namespace")
	other := r.URL.Query().Get("other_namespace")
	if other == "" {
		return nil, httpx.ErrInvalidRequest("other_namespace is required")
	}
	if err := authorizeNamespace(r, name, auth.PermNamespaceRoleMappingRead); err != nil {
		return nil, err
	}

	ns, err := db.DB(r.Context()).GetNamespace(r.Context(), name)
	if err != nil {
		return nil, err
	}
	mapping, err := db.DB(r.Context()).GetNamespaceRole(r.Context(), ns.ID, other)
	if err != nil {
		return nil, err
	}
	mapping.Namespace = ns.Name
	return okRsp(toRoleMappingRsp(mapping)), nil
}

type roleMappingReq struct {
	OtherNamespace string `json:"other_namespace"`
	Role           string `json:"role"`
}

func (s *CondaStoreServer) createNamespaceRole(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "namespace")
	if err := authorizeNamespace(r, name, auth.PermNamespaceRoleMappingCreate); err != nil {
		return nil, err
	}

	req := &roleMappingReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}

	mapping, err := s.manager.CreateNamespaceRole(r.Context(), name, req.OtherNamespace, req.Role)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Response:   &apiRsp{Status: "ok", Data: toRoleMappingRsp(mapping)},
	}, nil
}

func (s *CondaStoreServer) updateNamespaceRole(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "namespace")
	if err := authorizeNamespace(r, name, auth.PermNamespaceRoleMappingUpdate); err != nil {
		return nil, err
	}

	req := &roleMappingReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}

	if err := s.manager.UpdateNamespaceRole(r.Context(), name, req.OtherNamespace, req.Role); err != nil {
		return nil, err
	}
	return okMsgRsp("role mapping updated"), nil
}

func (s *CondaStoreServer) deleteNamespaceRole(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "namespace")
	if err := authorizeNamespace(r, name, auth.PermNamespaceRoleMappingDelete); err != nil {
		return nil, err
	}

	req := &roleMappingReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}

	if err := s.manager.DeleteNamespaceRole(r.Context(), name, req.OtherNamespace); err != nil {
		return nil, err
	}
	return okMsgRsp("role mapping deleted"), nil
}
