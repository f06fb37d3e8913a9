package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
)

// settingsTarget maps the setting scope onto an authorization target. Global
// settings are guarded by the wildcard namespace, so only sitewide bindings
// grant them.
func settingsTarget(namespace, environment string) string {
	if namespace == "" {
		return "*"
	}
	if environment == "" {
		return namespace
	}
	return namespace + "/" + environment
}

func (s *CondaStoreServer) getSettings(r *http.Request) (*httpx.Response, error) {
	namespace := chi.URLParam(r, "namespace")
	environment := chi.URLParam(r, "environment")

	if _, err := auth.Authorize(r.Context(), settingsTarget(namespace, environment),
		[]auth.Permission{auth.PermSettingRead}, true); err != nil {
		return nil, err
	}

	settings, err := s.manager.GetSettings(r.Context(), namespace, environment)
	if err != nil {
		return nil, err
	}
	return okRsp(settings), nil
}

func (s *CondaStoreServer) updateSettings(r *http.Request) (*httpx.Response, error) {
	namespace := chi.URLParam(r, "namespace")
	environment := chi.URLParam(r, "environment")

	if _, err := auth.Authorize(r.Context(), settingsTarget(namespace, environment),
		[]auth.Permission{auth.PermSettingUpdate}, true); err != nil {
		return nil, err
	}

	var values map[string]any
	if err := httpx.GetRequestData(r, &values); err != nil {
		return nil, err
	}

	if err := s.manager.SetSettings(r.Context(), namespace, environment, values); err != nil {
		return nil, err
	}
	return okMsgRsp("settings updated"), nil
}
