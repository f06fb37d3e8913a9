package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
)

// getArtifact streams a stored blob. The artifact redirect endpoints point
// here when the blob store is filesystem-backed. The key is resolved back to
// its build so the download is authorized like any other read of the
// environment.
func (s *CondaStoreServer) getArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "*")

	artifact, err := db.DB(ctx).GetBuildArtifactByKey(ctx, key)
	if err != nil {
		httpx.SendError(w, err)
		return
	}
	build, err := db.DB(ctx).GetBuild(ctx, artifact.BuildID)
	if err != nil {
		httpx.SendError(w, err)
		return
	}
	env, err := db.DB(ctx).GetEnvironmentByID(ctx, build.EnvironmentID)
	if err != nil {
		httpx.SendError(w, err)
		return
	}
	if _, err := auth.Authorize(ctx, env.Namespace+"/"+env.Name,
		[]auth.Permission{auth.PermEnvironmentRead}, true); err != nil {
		httpx.SendError(w, err)
		return
	}

	blob, err := s.manager.Storage().Get(ctx, key)
	if err != nil {
		httpx.SendError(w, err)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, goerr := io.Copy(w, blob); goerr != nil {
		log.Ctx(ctx).Error().Err(goerr).Str("key", key).Msg("artifact download interrupted")
	}
}
