// Package task bridges the server to the worker fleet. The server enqueues
// build work by name and may revoke queued work; it never executes builds
// itself. Task names are derived from the build id so a cancel request can
// address every phase of a build without tracking broker-side ids.
package task

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
)

// Phase identifies one unit of build work.
type Phase string

const (
	PhaseBuildEnvironment      Phase = "environment"
	PhaseCondaEnvExport        Phase = "conda-env-export"
	PhaseCondaPack             Phase = "conda-pack"
	PhaseConstructorInstaller  Phase = "constructor-installer"
	PhaseSolve                 Phase = "solve"
	PhaseCleanupCanceledBuild  Phase = "cleanup-canceled-build"
	PhaseCleanupDeletedStorage Phase = "cleanup-deleted-storage"
)

var (
	ErrTask apperrors.Error = apperrors.New("task dispatch error").SetStatusCode(http.StatusInternalServerError)

	// ErrCancelationUnsupported is returned when the configured broker
	// cannot revoke queued work.
	ErrCancelationUnsupported apperrors.Error = ErrTask.New("build cancelation is not supported by the configured task broker").SetStatusCode(http.StatusConflict)

	ErrBrokerUnavailable apperrors.Error = ErrTask.New("task broker unavailable").SetStatusCode(http.StatusServiceUnavailable)
)

// Task is one unit of work handed to the broker.
type Task struct {
	Name    string
	Phase   Phase
	BuildID int64
	// Args carries phase-specific identifiers, e.g. the namespace id for a
	// storage cleanup task.
	Args map[string]string
	// Delay defers execution; zero runs the task immediately.
	Delay time.Duration
}

// BuildTaskName returns the broker name for one phase of a build, e.g.
// "build-42-environment". Revocation addresses tasks by these names.
func BuildTaskName(buildID int64, phase Phase) string {
	return fmt.Sprintf("build-%d-%s", buildID, phase)
}

// BuildTaskNames returns the names of every worker phase of a build, used
// when canceling.
func BuildTaskNames(buildID int64) []string {
	phases := []Phase{
		PhaseBuildEnvironment,
		PhaseCondaEnvExport,
		PhaseCondaPack,
		PhaseConstructorInstaller,
	}
	names := make([]string, 0, len(phases))
	for _, p := range phases {
		names = append(names, BuildTaskName(buildID, p))
	}
	return names
}

// Client is the broker interface the server dispatches through.
type Client interface {
	// Submit enqueues the task.
	Submit(ctx context.Context, t Task) apperrors.Error
	// Revoke removes a queued or running task by name. Revoking an unknown
	// name is not an error. Brokers without revocation support return
	// ErrCancelationUnsupported.
	Revoke(ctx context.Context, name string) apperrors.Error
	// Ping verifies the broker is reachable. Cancel requests ping first so
	// a revoke is never silently dropped.
	Ping(ctx context.Context) apperrors.Error
}
