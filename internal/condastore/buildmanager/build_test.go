package buildmanager

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
	"github.com/peytondmurray/conda-store/internal/condastore/task"
)

func testSpec(name string) *CondaSpecification {
	return &CondaSpecification{
		Name:         name,
		Channels:     []string{"conda-forge"},
		Dependencies: []any{"python=3.12", "numpy"},
	}
}

func TestParseSpecification(t *testing.T) {
	spec, err := ParseSpecification([]byte(`
name: env1
channels:
  - conda-forge
dependencies:
  - python=3.12
  - pip:
      - requests
`))
	require.NoError(t, err)
	assert.Equal(t, "env1", spec.Name)
	assert.Len(t, spec.Dependencies, 2)

	// JSON is accepted by the same decoder.
	spec, err = ParseSpecification([]byte(`{"name": "env2", "dependencies": ["python"]}`))
	require.NoError(t, err)
	assert.Equal(t, "env2", spec.Name)

	_, err = ParseSpecification([]byte(`{"dependencies": ["python"]}`))
	assert.Error(t, err)

	_, err = ParseSpecification([]byte(`{"name": "bad name!", "dependencies": ["python"]}`))
	assert.Error(t, err)

	_, err = ParseSpecification([]byte(`{"name": "env3", "dependencies": []}`))
	assert.Error(t, err)
}

func TestSpecificationSHA256Stable(t *testing.T) {
	a := testSpec("env1")
	b := &CondaSpecification{
		Dependencies: []any{"python=3.12", "numpy"},
		Channels:     []string{"conda-forge"},
		Name:         "env1",
	}

	shaA, err := a.SHA256()
	require.NoError(t, err)
	shaB, err := b.SHA256()
	require.NoError(t, err)
	assert.Equal(t, shaA, shaB)

	c := testSpec("env1")
	c.Dependencies = []any{"python=3.13"}
	shaC, err := c.SHA256()
	require.NoError(t, err)
	assert.NotEqual(t, shaA, shaC)
}

func TestRegisterEnvironmentIdempotent(t *testing.T) {
	ctx, m, tasks := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_register")

	build, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_register", false)
	require.NoError(t, err)
	assert.Equal(t, storecommon.BuildQueued, build.Status)
	require.Len(t, tasks.submitted, 1)
	assert.Equal(t, task.BuildTaskName(build.ID, task.PhaseBuildEnvironment), tasks.submitted[0].Name)

	// Identical content is deduplicated onto the existing build.
	again, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_register", false)
	require.NoError(t, err)
	assert.Equal(t, build.ID, again.ID)
	assert.Len(t, tasks.submitted, 1)

	// force always builds.
	forced, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_register", true)
	require.NoError(t, err)
	assert.NotEqual(t, build.ID, forced.ID)
}

func TestRegisterEnvironmentBuildPathTooLong(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_longpath")

	cfg := config.Config()
	saved := cfg.Build.StoreDirectory
	cfg.Build.StoreDirectory = "/" + strings.Repeat("x", 800)
	t.Cleanup(func() {
		cfg.Build.StoreDirectory = saved
	})

	_, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_longpath", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuildPath))
	assert.Contains(t, err.Error(), "must be <= 255 characters")
}

func TestBuildStatusReporting(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_status")

	build, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_status", false)
	require.NoError(t, err)

	require.NoError(t, m.BuildStarted(ctx, build.ID))
	got, err := db.DB(ctx).GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, storecommon.BuildBuilding, got.Status)
	assert.True(t, got.StartedOn.Valid)

	// Starting twice is an invalid transition.
	err = m.BuildStarted(ctx, build.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberror.ErrInvalidInput))

	require.NoError(t, m.BuildSucceeded(ctx, build.ID, 4096))
	got, err = db.DB(ctx).GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, storecommon.BuildCompleted, got.Status)
	assert.Equal(t, int64(4096), got.Size)
	assert.True(t, got.EndedOn.Valid)

	// Completion pinned the environment to this build.
	env, err := db.DB(ctx).GetEnvironment(ctx, "bm_status", "env1")
	require.NoError(t, err)
	require.True(t, env.CurrentBuildID.Valid)
	assert.Equal(t, build.ID, env.CurrentBuildID.Int64)

	// Terminal states accept no further transitions.
	err = m.BuildFailed(ctx, build.ID, "late failure")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberror.ErrInvalidInput))
}

func TestFailStaleQueuedBuilds(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_stale")

	build, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_stale", false)
	require.NoError(t, err)

	cfg := config.Config()
	saved := cfg.Build.QueuedTimeout
	t.Cleanup(func() {
		cfg.Build.QueuedTimeout = saved
	})

	// An unset timeout disables the sweep.
	cfg.Build.QueuedTimeout = ""
	failed, err := m.FailStaleQueuedBuilds(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)

	cfg.Build.QueuedTimeout = "50ms"
	time.Sleep(100 * time.Millisecond)
	failed, err = m.FailStaleQueuedBuilds(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, failed, 1)

	got, err := db.DB(ctx).GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, storecommon.BuildFailed, got.Status)
	require.True(t, got.StatusInfo.Valid)
	assert.Contains(t, got.StatusInfo.String, "timed out")
}

func TestCancelBuild(t *testing.T) {
	ctx, m, tasks := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_cancel")

	build, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_cancel", false)
	require.NoError(t, err)

	require.NoError(t, m.CancelBuild(ctx, build.ID))

	// Every phase of the build was revoked by name.
	assert.Equal(t, task.BuildTaskNames(build.ID), tasks.revoked)

	// The record is flagged but stays in its pre-cancel status until the
	// delayed cleanup task runs.
	got, err := db.DB(ctx).GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCanceled)
	assert.Equal(t, storecommon.BuildQueued, got.Status)

	last := tasks.submitted[len(tasks.submitted)-1]
	assert.Equal(t, task.PhaseCleanupCanceledBuild, last.Phase)
	assert.Equal(t, build.ID, last.BuildID)
	assert.Greater(t, int64(last.Delay), int64(0))

	// A worker that starts a cancel-requested build is refused.
	err = m.BuildStarted(ctx, build.ID)
	require.Error(t, err)

	// The cleanup transition itself is what lands CANCELED.
	require.NoError(t, db.DB(ctx).SetBuildCanceled(ctx, build.ID))
	got, err = db.DB(ctx).GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, storecommon.BuildCanceled, got.Status)

	// Canceling a terminal build fails.
	err = m.CancelBuild(ctx, build.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberror.ErrInvalidInput))
}

func TestCleanupCanceledBuildDiscardsArtifacts(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_cancelclean")

	build, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_cancelclean", false)
	require.NoError(t, err)

	key := "bm_cancelclean/logs/build.log"
	require.NoError(t, m.Storage().Put(ctx, key, strings.NewReader("partial"), "text/plain"))
	require.NoError(t, m.RegisterBuildArtifact(ctx, build.ID, storecommon.ArtifactLogs, key))

	require.NoError(t, m.CancelBuild(ctx, build.ID))
	require.NoError(t, m.cleanupCanceledBuild(ctx, build.ID))

	got, err := db.DB(ctx).GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, storecommon.BuildCanceled, got.Status)

	// The partial outputs are gone, blob and row both.
	artifacts, err := db.DB(ctx).ListBuildArtifacts(ctx, build.ID)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
	_, err = m.Storage().Get(ctx, key)
	assert.Error(t, err)

	// Re-running cleanup on the now-terminal build is a no-op.
	require.NoError(t, m.cleanupCanceledBuild(ctx, build.ID))
}

func TestCancelBuildBrokerFailures(t *testing.T) {
	ctx, m, tasks := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_cancelbroker")

	build, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_cancelbroker", false)
	require.NoError(t, err)

	tasks.pingErr = task.ErrBrokerUnavailable
	err = m.CancelBuild(ctx, build.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrBrokerUnavailable))

	tasks.pingErr = nil
	tasks.revokeErr = task.ErrCancelationUnsupported
	err = m.CancelBuild(ctx, build.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, task.ErrCancelationUnsupported))

	// Neither failure flagged the build.
	got, err := db.DB(ctx).GetBuild(ctx, build.ID)
	require.NoError(t, err)
	assert.False(t, got.IsCanceled)
}

func TestDeleteBuild(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_delete")

	build, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_delete", false)
	require.NoError(t, err)

	// Non-terminal builds cannot be deleted.
	err = m.DeleteBuild(ctx, build.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberror.ErrInvalidInput))

	require.NoError(t, m.BuildFailed(ctx, build.ID, "solver conflict"))

	key := "bm_delete/logs/build.log"
	require.NoError(t, m.Storage().Put(ctx, key, strings.NewReader("log"), "text/plain"))
	require.NoError(t, m.RegisterBuildArtifact(ctx, build.ID, storecommon.ArtifactLogs, key))

	require.NoError(t, m.DeleteBuild(ctx, build.ID))

	_, err = db.DB(ctx).GetBuild(ctx, build.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberror.ErrNotFound))

	_, err = m.Storage().Get(ctx, key)
	assert.Error(t, err)
}

func TestSetEnvironmentBuild(t *testing.T) {
	ctx, m, _ := setupTest(t)
	createTestNamespace(t, ctx, m, "bm_pin")

	first, err := m.RegisterEnvironment(ctx, testSpec("env1"), "bm_pin", false)
	require.NoError(t, err)
	other, err := m.RegisterEnvironment(ctx, testSpec("env2"), "bm_pin", false)
	require.NoError(t, err)

	// Pinning to a build of a different environment is refused.
	err = m.SetEnvironmentBuild(ctx, "bm_pin", "env1", other.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuildWrongEnv))

	// Pinning to a non-completed build is refused.
	err = m.SetEnvironmentBuild(ctx, "bm_pin", "env1", first.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBuildNotCompleted))

	require.NoError(t, m.BuildStarted(ctx, first.ID))
	require.NoError(t, m.BuildSucceeded(ctx, first.ID, 1))
	require.NoError(t, m.SetEnvironmentBuild(ctx, "bm_pin", "env1", first.ID))
}

func TestRegisterSolveDeduplicates(t *testing.T) {
	ctx, m, tasks := setupTest(t)

	spec := testSpec("bm_solve_env")
	first, err := m.RegisterSolve(ctx, spec)
	require.NoError(t, err)
	require.Len(t, tasks.submitted, 1)
	assert.Equal(t, task.PhaseSolve, tasks.submitted[0].Phase)

	again, err := m.RegisterSolve(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, tasks.submitted, 1)
}
