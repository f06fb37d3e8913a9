package server

import (
	"net/http"

	"github.com/peytondmurray/conda-store/internal/common/httpx"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/buildmanager"
	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
)

type createSpecificationReq struct {
	Namespace string `json:"namespace,omitempty"`
	// Specification is the environment definition, YAML or JSON.
	Specification string `json:"specification"`
	IsForce       bool   `json:"is_force,omitempty"`
}

type createSpecificationRsp struct {
	BuildID int64 `json:"build_id"`
}

// createSpecification registers an environment build from a submitted
// specification. Identical content on the same environment reuses the
// existing active build unless is_force is set.
func (s *CondaStoreServer) createSpecification(r *http.Request) (*httpx.Response, error) {
	req := &createSpecificationReq{}
	if err := httpx.GetRequestData(r, req); err != nil {
		return nil, err
	}

	spec, err := buildmanager.ParseSpecification([]byte(req.Specification))
	if err != nil {
		return nil, err
	}

	namespace := req.Namespace
	if namespace == "" {
		namespace = config.Config().DefaultNamespace
	}
	if err := authorizeEnvironment(r, namespace, spec.Name,
		auth.PermEnvironmentCreate, auth.PermEnvironmentUpdate); err != nil {
		return nil, err
	}

	build, err := s.manager.RegisterEnvironment(r.Context(), spec, namespace, req.IsForce)
	if err != nil {
		return nil, err
	}
	return okRsp(&createSpecificationRsp{BuildID: build.ID}), nil
}

type solveRsp struct {
	SolveID int64  `json:"solve_id"`
	Status  string `json:"status"`
}

// getSpecificationSolve runs a standalone solve of the specification passed
// in the "specification" query parameter. Identical content converges on one
// solve; the caller polls using the returned id.
func (s *CondaStoreServer) getSpecificationSolve(r *http.Request) (*httpx.Response, error) {
	raw := r.URL.Query().Get("specification")
	if raw == "" {
		return nil, httpx.ErrInvalidRequest("specification is required")
	}

	spec, err := buildmanager.ParseSpecification([]byte(raw))
	if err != nil {
		return nil, err
	}

	if err := authorizeNamespace(r, config.Config().DefaultNamespace, auth.PermEnvironmentSolve); err != nil {
		return nil, err
	}

	solve, err := s.manager.RegisterSolve(r.Context(), spec)
	if err != nil {
		return nil, err
	}
	return okRsp(&solveRsp{SolveID: solve.ID, Status: solveStatus(solve)}), nil
}

// getSolveStatus is the poll endpoint for a registered solve.
func (s *CondaStoreServer) getSolveStatus(r *http.Request) (*httpx.Response, error) {
	solveID, err := urlParamInt64(r, "solveID")
	if err != nil {
		return nil, err
	}

	if err := authorizeNamespace(r, config.Config().DefaultNamespace, auth.PermEnvironmentSolve); err != nil {
		return nil, err
	}

	solve, aerr := db.DB(r.Context()).GetSolve(r.Context(), solveID)
	if aerr != nil {
		return nil, aerr
	}
	return okRsp(&solveRsp{SolveID: solve.ID, Status: solveStatus(solve)}), nil
}

func solveStatus(solve *models.Solve) string {
	switch {
	case solve.EndedOn.Valid:
		return "COMPLETED"
	case solve.StartedOn.Valid:
		return "SOLVING"
	}
	return "QUEUED"
}
