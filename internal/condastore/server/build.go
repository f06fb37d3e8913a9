package server

import (
	"net/http"
	"time"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

type buildRsp struct {
	ID            int64  `json:"id"`
	EnvironmentID int64  `json:"environment_id"`
	Namespace     string `json:"namespace,omitempty"`
	Environment   string `json:"environment,omitempty"`
	Status        string `json:"status"`
	StatusInfo    string `json:"status_info,omitempty"`
	Size          int64  `json:"size"`
	ScheduledOn   string `json:"scheduled_on"`
	StartedOn     string `json:"started_on,omitempty"`
	EndedOn       string `json:"ended_on,omitempty"`
}

func toBuildRsp(b *models.Build) *buildRsp {
	rsp := &buildRsp{
		ID:            b.ID,
		EnvironmentID: b.EnvironmentID,
		Namespace:     b.Namespace,
		Environment:   b.Environment,
		Status:        string(b.Status),
		Size:          b.Size,
		ScheduledOn:   b.ScheduledOn.UTC().Format(time.RFC3339),
	}
	if b.StatusInfo.Valid {
		rsp.StatusInfo = b.StatusInfo.String
	}
	if b.StartedOn.Valid {
		rsp.StartedOn = b.StartedOn.Time.UTC().Format(time.RFC3339)
	}
	if b.EndedOn.Valid {
		rsp.EndedOn = b.EndedOn.Time.UTC().Format(time.RFC3339)
	}
	return rsp
}

// loadAuthorizedBuild resolves a build by its url param and authorizes the
// required permissions against the build's environment.
func (s *CondaStoreServer) loadAuthorizedBuild(r *http.Request, required ...auth.Permission) (*models.Build, error) {
	buildID, err := urlParamInt64(r, "buildID")
	if err != nil {
		return nil, err
	}

	build, aerr := db.DB(r.Context()).GetBuild(r.Context(), buildID)
	if aerr != nil {
		return nil, aerr
	}
	env, aerr := db.DB(r.Context()).GetEnvironmentByID(r.Context(), build.EnvironmentID)
	if aerr != nil {
		return nil, aerr
	}
	build.Namespace = env.Namespace
	build.Environment = env.Name

	if err := authorizeEnvironment(r, env.Namespace, env.Name, required...); err != nil {
		return nil, err
	}
	return build, nil
}

// listBuilds returns builds of environments visible to the caller.
func (s *CondaStoreServer) listBuilds(r *http.Request) (*httpx.Response, error) {
	patterns, err := auth.VisibilityPatterns(r.Context())
	if err != nil {
		return nil, err
	}

	filter := models.BuildFilter{
		Status:   r.URL.Query().Get("status"),
		Patterns: patterns,
	}
	builds, err := db.DB(r.Context()).ListBuilds(r.Context(), filter)
	if err != nil {
		return nil, err
	}

	out := make([]*buildRsp, 0, len(builds))
	for _, b := range builds {
		out = append(out, toBuildRsp(b))
	}
	return okRsp(out), nil
}

func (s *CondaStoreServer) getBuild(r *http.Request) (*httpx.Response, error) {
	build, err := s.loadAuthorizedBuild(r, auth.PermEnvironmentRead)
	if err != nil {
		return nil, err
	}
	return okRsp(toBuildRsp(build)), nil
}

// rebuildBuild queues a new build of the environment reusing the stored
// specification.
func (s *CondaStoreServer) rebuildBuild(r *http.Request) (*httpx.Response, error) {
	build, err := s.loadAuthorizedBuild(r, auth.PermEnvironmentUpdate)
	if err != nil {
		return nil, err
	}

	rebuilt, aerr := s.manager.Rebuild(r.Context(), build.ID)
	if aerr != nil {
		return nil, aerr
	}
	return okRsp(&createSpecificationRsp{BuildID: rebuilt.ID}), nil
}

func (s *CondaStoreServer) cancelBuild(r *http.Request) (*httpx.Response, error) {
	build, err := s.loadAuthorizedBuild(r, auth.PermBuildCancel)
	if err != nil {
		return nil, err
	}

	if aerr := s.manager.CancelBuild(r.Context(), build.ID); aerr != nil {
		return nil, aerr
	}
	return okMsgRsp("build cancelation requested"), nil
}

func (s *CondaStoreServer) deleteBuild(r *http.Request) (*httpx.Response, error) {
	build, err := s.loadAuthorizedBuild(r, auth.PermBuildDelete)
	if err != nil {
		return nil, err
	}

	if aerr := s.manager.DeleteBuild(r.Context(), build.ID); aerr != nil {
		return nil, aerr
	}
	return okMsgRsp("build deleted"), nil
}

// buildArtifactRedirect redirects to the blob-store URL of one artifact of
// the build.
func (s *CondaStoreServer) buildArtifactRedirect(artifactType storecommon.BuildArtifactType) httpx.RequestHandler {
	return func(r *http.Request) (*httpx.Response, error) {
		build, err := s.loadAuthorizedBuild(r, auth.PermEnvironmentRead)
		if err != nil {
			return nil, err
		}

		artifact, aerr := db.DB(r.Context()).GetBuildArtifact(r.Context(), build.ID, artifactType)
		if aerr != nil {
			return nil, aerr
		}
		if artifact.Key == "" {
			return nil, httpx.ErrNotFound("artifact has no stored content")
		}

		url, aerr := s.manager.Storage().GetURL(r.Context(), artifact.Key)
		if aerr != nil {
			return nil, aerr
		}
		return redirectRsp(url), nil
	}
}

// getBuildLockfile serves the build lockfile: stored lockfiles redirect to
// the blob store, legacy builds get the content reconstructed from the
// recorded package set.
func (s *CondaStoreServer) getBuildLockfile(r *http.Request) (*httpx.Response, error) {
	build, err := s.loadAuthorizedBuild(r, auth.PermEnvironmentRead)
	if err != nil {
		return nil, err
	}

	key, content, aerr := s.manager.GetBuildLockfile(r.Context(), build.ID)
	if aerr != nil {
		return nil, aerr
	}
	if key != "" {
		url, aerr := s.manager.Storage().GetURL(r.Context(), key)
		if aerr != nil {
			return nil, aerr
		}
		return redirectRsp(url), nil
	}
	return &httpx.Response{
		StatusCode:  http.StatusOK,
		ContentType: "text/plain",
		Response:    content,
	}, nil
}

type buildPackageRsp struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Channel     string `json:"channel"`
	Build       string `json:"build"`
	BuildNumber int    `json:"build_number"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size"`
}

func (s *CondaStoreServer) listBuildPackages(r *http.Request) (*httpx.Response, error) {
	build, err := s.loadAuthorizedBuild(r, auth.PermEnvironmentRead)
	if err != nil {
		return nil, err
	}

	packages, aerr := db.DB(r.Context()).ListBuildPackages(r.Context(), build.ID, r.URL.Query().Get("search"))
	if aerr != nil {
		return nil, aerr
	}

	out := make([]*buildPackageRsp, 0, len(packages))
	for _, p := range packages {
		out = append(out, &buildPackageRsp{
			Name:        p.Name,
			Version:     p.Version,
			Channel:     p.Channel,
			Build:       p.Build,
			BuildNumber: p.BuildNumber,
			SHA256:      p.SHA256,
			Size:        p.Size,
		})
	}
	return okRsp(out), nil
}

// getBuildDockerManifest reports whether a docker manifest was produced for
// the build. The registry protocol itself is not served here.
func (s *CondaStoreServer) getBuildDockerManifest(r *http.Request) (*httpx.Response, error) {
	build, err := s.loadAuthorizedBuild(r, auth.PermEnvironmentRead)
	if err != nil {
		return nil, err
	}

	if _, aerr := db.DB(r.Context()).GetBuildArtifact(r.Context(), build.ID, storecommon.ArtifactDockerManifest); aerr != nil {
		return nil, aerr
	}
	return okMsgRsp("docker manifest available"), nil
}
