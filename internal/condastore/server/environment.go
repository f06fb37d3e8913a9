package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
)

type environmentRsp struct {
	ID             int64  `json:"id"`
	Namespace      string `json:"namespace"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	CurrentBuildID int64  `json:"current_build_id,omitempty"`
}

func toEnvironmentRsp(env *models.Environment) *environmentRsp {
	rsp := &environmentRsp{
		ID:        env.ID,
		Namespace: env.Namespace,
		Name:      env.Name,
	}
	if env.Description.Valid {
		rsp.Description = env.Description.String
	}
	if env.CurrentBuildID.Valid {
		rsp.CurrentBuildID = env.CurrentBuildID.Int64
	}
	return rsp
}

// listEnvironments returns the environments visible to the caller, narrowed
// by the query filters. With a "jwt" query parameter the listing is scoped to
// that token's bindings alone, so a token holder can introspect exactly what
// the token grants without the session's own bindings widening the result.
func (s *CondaStoreServer) listEnvironments(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	q := r.URL.Query()

	var patterns []models.ArnPattern
	if tokenString := q.Get("jwt"); tokenString != "" {
		entity, err := auth.ParseAndValidateToken(ctx, tokenString)
		if err != nil {
			return nil, err
		}
		bindings := make(auth.Bindings, len(entity.RoleBindings))
		for pattern, role := range entity.RoleBindings {
			bindings[pattern] = role
		}
		patterns = auth.FilterPatterns(bindings)
	} else {
		var err error
		patterns, err = auth.VisibilityPatterns(ctx)
		if err != nil {
			return nil, err
		}
	}

	filter := models.EnvironmentFilter{
		Search:    q.Get("search"),
		Namespace: q.Get("namespace"),
		Name:      q.Get("name"),
		Status:    q.Get("status"),
		Artifact:  q.Get("artifact"),
		Patterns:  patterns,
	}
	if packages := q.Get("packages"); packages != "" {
		filter.Packages = strings.Split(packages, ",")
	}

	environments, err := db.DB(ctx).ListEnvironments(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]*environmentRsp, 0, len(environments))
	for _, env := range environments {
		out = append(out, toEnvironmentRsp(env))
	}
	return okRsp(out), nil
}

func (s *CondaStoreServer) getEnvironment(r *http.Request) (*httpx.Response, error) {
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")
	if err := authorizeEnvironment(r, namespace, name, auth.PermEnvironmentRead); err != nil {
		return nil, err
	}

	env, err := db.DB(r.Context()).GetEnvironment(r.Context(), namespace, name)
	if err != nil {
		return nil, err
	}
	return okRsp(toEnvironmentRsp(env)), nil
}

type updateEnvironmentReq struct {
	BuildID     int64   `json:"build_id,omitempty"`
	Description *string `json:"description,omitempty"`
}

// updateEnvironment pins the environment to a completed build or updates its
// description.
func (s *CondaStoreServer) updateEnvironment(r *http.Request) (*httpx.Response, error) {
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")
	if err := authorizeEnvironment(r, namespace, name, auth.PermEnvironmentUpdate); err != nil {
		return nil, err
	}

	req := &updateEnvironmentReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}

	if req.BuildID != 0 {
		if err := s.manager.SetEnvironmentBuild(r.Context(), namespace, name, req.BuildID); err != nil {
			return nil, err
		}
	}
	if req.Description != nil {
		env, err := db.DB(r.Context()).GetEnvironment(r.Context(), namespace, name)
		if err != nil {
			return nil, err
		}
		if err := db.DB(r.Context()).UpdateEnvironmentDescription(r.Context(), env.ID, *req.Description); err != nil {
			return nil, err
		}
	}
	return okMsgRsp("environment updated"), nil
}

func (s *CondaStoreServer) deleteEnvironment(r *http.Request) (*httpx.Response, error) {
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")
	if err := authorizeEnvironment(r, namespace, name, auth.PermEnvironmentDelete); err != nil {
		return nil, err
	}

	if err := s.manager.DeleteEnvironment(r.Context(), namespace, name); err != nil {
		return nil, err
	}
	return okMsgRsp("environment deleted"), nil
}
