package buildmanager

import (
	"net/http"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
)

var (
	ErrBuildManager apperrors.Error = apperrors.New("build manager error").SetStatusCode(http.StatusInternalServerError)

	ErrInvalidSpecification apperrors.Error = ErrBuildManager.New("invalid specification").SetStatusCode(http.StatusBadRequest)
	ErrInvalidRoleMapping   apperrors.Error = ErrBuildManager.New("invalid role mapping").SetStatusCode(http.StatusBadRequest)

	// ErrBuildPath is raised before any filesystem work when the computed
	// build path would exceed the portable length limit.
	ErrBuildPath apperrors.Error = ErrBuildManager.New("build path error").SetStatusCode(http.StatusBadRequest)

	ErrBuildNotCompleted apperrors.Error = ErrBuildManager.New("build is not completed").SetStatusCode(http.StatusBadRequest)
	ErrBuildWrongEnv     apperrors.Error = ErrBuildManager.New("build does not belong to this environment").SetStatusCode(http.StatusBadRequest)

	// ErrGlobalSetting is raised when a global-only settings key is written
	// at namespace or environment scope.
	ErrGlobalSetting apperrors.Error = ErrBuildManager.New("setting is global-only").SetStatusCode(http.StatusBadRequest)

	ErrInvalidSetting apperrors.Error = ErrBuildManager.New("invalid setting").SetStatusCode(http.StatusBadRequest)
)
