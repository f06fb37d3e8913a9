package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

// handlerParam binds one route to its handler. Authorization is enforced
// inside the handlers, where the target namespace and environment are known.
type handlerParam struct {
	Method  string
	Path    string
	Handler httpx.RequestHandler
}

func (s *CondaStoreServer) apiHandlers() []handlerParam {
	return []handlerParam{
		{http.MethodGet, "/", s.getStatus},
		{http.MethodGet, "/permission/", s.getPermission},
		{http.MethodPost, "/token/", s.createToken},

		{http.MethodGet, "/namespace/", s.listNamespaces},
		{http.MethodGet, "/namespace/{namespace}/", s.getNamespace},
		{http.MethodPost, "/namespace/{namespace}/", s.createNamespace},
		{http.MethodPut, "/namespace/{namespace}/", s.updateNamespace},
		{http.MethodDelete, "/namespace/{namespace}/", s.deleteNamespace},
		{http.MethodGet, "/namespace/{namespace}/roles/", s.listNamespaceRoles},
		{http.MethodDelete, "/namespace/{namespace}/roles/", s.deleteNamespaceRoles},
		{http.MethodGet, "/namespace/{namespace}/role/", s.getNamespaceRole},
		{http.MethodPost, "/namespace/{namespace}/role/", s.createNamespaceRole},
		{http.MethodPut, "/namespace/{namespace}/role/", s.updateNamespaceRole},
		{http.MethodDelete, "/namespace/{namespace}/role/", s.deleteNamespaceRole},

		{http.MethodGet, "/environment/", s.listEnvironments},
		{http.MethodGet, "/environment/{namespace}/{name}/", s.getEnvironment},
		{http.MethodPut, "/environment/{namespace}/{name}/", s.updateEnvironment},
		{http.MethodDelete, "/environment/{namespace}/{name}/", s.deleteEnvironment},

		{http.MethodPost, "/specification/", s.createSpecification},
		{http.MethodGet, "/specification/", s.getSpecificationSolve},
		{http.MethodGet, "/specification/{solveID}/", s.getSolveStatus},

		{http.MethodGet, "/build/", s.listBuilds},
		{http.MethodGet, "/build/{buildID}/", s.getBuild},
		{http.MethodPut, "/build/{buildID}/", s.rebuildBuild},
		{http.MethodPut, "/build/{buildID}/cancel/", s.cancelBuild},
		{http.MethodDelete, "/build/{buildID}/", s.deleteBuild},
		{http.MethodGet, "/build/{buildID}/logs/", s.buildArtifactRedirect(storecommon.ArtifactLogs)},
		{http.MethodGet, "/build/{buildID}/yaml/", s.buildArtifactRedirect(storecommon.ArtifactYaml)},
		{http.MethodGet, "/build/{buildID}/lockfile/", s.getBuildLockfile},
		{http.MethodGet, "/build/{buildID}/archive/", s.buildArtifactRedirect(storecommon.ArtifactCondaPack)},
		{http.MethodGet, "/build/{buildID}/installer/", s.buildArtifactRedirect(storecommon.ArtifactConstructorInstaller)},
		{http.MethodGet, "/build/{buildID}/packages/", s.listBuildPackages},
		{http.MethodGet, "/build/{buildID}/docker/", s.getBuildDockerManifest},

		{http.MethodGet, "/channel/", s.listChannels},
		{http.MethodGet, "/package/", s.listPackages},

		{http.MethodGet, "/setting/", s.getSettings},
		{http.MethodPut, "/setting/", s.updateSettings},
		{http.MethodGet, "/setting/{namespace}/", s.getSettings},
		{http.MethodPut, "/setting/{namespace}/", s.updateSettings},
		{http.MethodGet, "/setting/{namespace}/{environment}/", s.getSettings},
		{http.MethodPut, "/setting/{namespace}/{environment}/", s.updateSettings},

		{http.MethodGet, "/usage/", s.getUsage},
	}
}

func (s *CondaStoreServer) mountAPIHandlers(r chi.Router) {
	for _, handler := range s.apiHandlers() {
		r.Method(handler.Method, handler.Path, httpx.WrapHttpRsp(handler.Handler))
	}
	// Blob downloads stream directly instead of going through the JSON
	// response envelope.
	r.Get("/artifact/*", s.getArtifact)
}
