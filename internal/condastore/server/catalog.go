package server

import (
	"net/http"
	"strconv"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
)

type channelRsp struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (s *CondaStoreServer) listChannels(r *http.Request) (*httpx.Response, error) {
	channels, err := db.DB(r.Context()).ListCondaChannels(r.Context())
	if err != nil {
		return nil, err
	}

	out := make([]*channelRsp, 0, len(channels))
	for _, c := range channels {
		out = append(out, &channelRsp{ID: c.ID, Name: c.Name})
	}
	return okRsp(out), nil
}

type packageRsp struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Channel string `json:"channel"`
	License string `json:"license,omitempty"`
	Summary string `json:"summary,omitempty"`
}

func (s *CondaStoreServer) listPackages(r *http.Request) (*httpx.Response, error) {
	q := r.URL.Query()
	filter := models.PackageFilter{
		Search:  q.Get("search"),
		Channel: q.Get("channel"),
	}
	if buildParam := q.Get("build"); buildParam != "" {
		buildID, goerr := strconv.ParseInt(buildParam, 10, 64)
		if goerr != nil {
			return nil, httpx.ErrInvalidRequest("invalid build: " + buildParam)
		}
		filter.BuildID = buildID
	}

	packages, err := db.DB(r.Context()).ListCondaPackages(r.Context(), filter)
	if err != nil {
		return nil, err
	}

	out := make([]*packageRsp, 0, len(packages))
	for _, p := range packages {
		rsp := &packageRsp{
			ID:      p.ID,
			Name:    p.Name,
			Version: p.Version,
			Channel: p.Channel,
		}
		if p.License.Valid {
			rsp.License = p.License.String
		}
		if p.Summary.Valid {
			rsp.Summary = p.Summary.String
		}
		out = append(out, rsp)
	}
	return okRsp(out), nil
}

type usageRsp struct {
	Namespace        string `json:"namespace"`
	EnvironmentCount int64  `json:"environment_count"`
	BuildCount       int64  `json:"build_count"`
	StorageBytes     int64  `json:"storage"`
}

// getUsage reports per-namespace consumption for the namespaces the caller
// can see.
func (s *CondaStoreServer) getUsage(r *http.Request) (*httpx.Response, error) {
	patterns, err := auth.VisibilityPatterns(r.Context())
	if err != nil {
		return nil, err
	}

	usage, err := db.DB(r.Context()).GetNamespaceUsage(r.Context(), patterns)
	if err != nil {
		return nil, err
	}

	out := make([]*usageRsp, 0, len(usage))
	for _, u := range usage {
		out = append(out, &usageRsp{
			Namespace:        u.Namespace,
			EnvironmentCount: u.EnvironmentCount,
			BuildCount:       u.BuildCount,
			StorageBytes:     u.StorageBytes,
		})
	}
	return okRsp(out), nil
}
