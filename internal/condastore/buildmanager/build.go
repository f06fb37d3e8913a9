package buildmanager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
	"github.com/peytondmurray/conda-store/internal/condastore/task"
)

// maxBuildPathLength is the portable filesystem path ceiling enforced before
// any build work is dispatched.
const maxBuildPathLength = 255

// BuildPath computes the on-disk location of a build under the configured
// store directory.
func BuildPath(namespace, environment string, buildID int64) string {
	key := fmt.Sprintf("%s-%d-%s", namespace, buildID, environment)
	return filepath.Join(config.Config().Build.StoreDirectory, key)
}

func validateBuildPath(namespace, environment string, buildID int64) apperrors.Error {
	path := BuildPath(namespace, environment, buildID)
	if len(path) > maxBuildPathLength {
		return ErrBuildPath.Msg(fmt.Sprintf(
			"build_path too long: must be <= %d characters, got %d", maxBuildPathLength, len(path)))
	}
	return nil
}

// RegisterEnvironment is the submission entry point: it ensures the
// namespace and environment exist, stores the specification content-addressed
// by its hash, and creates a QUEUED build. When a non-canceled build for the
// identical specification already exists on the environment, registration is
// idempotent and returns it, unless force is set.
func (m *Manager) RegisterEnvironment(ctx context.Context, spec *CondaSpecification, namespace string, force bool) (*models.Build, apperrors.Error) {
	if namespace == "" {
		namespace = config.Config().DefaultNamespace
	}

	ns, err := m.EnsureNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	env, err := m.EnsureEnvironment(ctx, ns, spec.Name)
	if err != nil {
		return nil, err
	}

	specRecord, err := m.ensureSpecification(ctx, spec)
	if err != nil {
		return nil, err
	}

	if !force {
		existing, err := db.DB(ctx).FindActiveBuildForSpec(ctx, env.ID, specRecord.SHA256)
		if err == nil {
			log.Ctx(ctx).Debug().Int64("build_id", existing.ID).Msg("specification unchanged, reusing build")
			return existing, nil
		}
		if !errors.Is(err, dberror.ErrNotFound) {
			return nil, err
		}
	}

	return m.createBuild(ctx, ns.Name, env, specRecord)
}

// Rebuild creates a new build of an environment reusing the stored
// specification of an earlier build.
func (m *Manager) Rebuild(ctx context.Context, buildID int64) (*models.Build, apperrors.Error) {
	prev, err := db.DB(ctx).GetBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}
	env, err := db.DB(ctx).GetEnvironmentByID(ctx, prev.EnvironmentID)
	if err != nil {
		return nil, err
	}
	spec, err := db.DB(ctx).GetSpecificationByID(ctx, prev.SpecificationID)
	if err != nil {
		return nil, err
	}
	return m.createBuild(ctx, env.Namespace, env, spec)
}

// createBuild inserts the QUEUED row, validates the resulting build path
// before any work is dispatched, and submits the build task. A dispatch
// failure leaves the row QUEUED, a valid state eligible for retry.
func (m *Manager) createBuild(ctx context.Context, namespace string, env *models.Environment, spec *models.Specification) (*models.Build, apperrors.Error) {
	build := &models.Build{
		EnvironmentID:   env.ID,
		SpecificationID: spec.ID,
		Namespace:       namespace,
		Environment:     env.Name,
		SpecSHA256:      spec.SHA256,
	}
	if err := db.DB(ctx).CreateBuild(ctx, build); err != nil {
		return nil, err
	}

	if err := validateBuildPath(namespace, env.Name, build.ID); err != nil {
		if ferr := db.DB(ctx).SetBuildFailed(ctx, build.ID, err.Error()); ferr != nil {
			log.Ctx(ctx).Error().Err(ferr).Int64("build_id", build.ID).Msg("unable to fail build")
		}
		return nil, err
	}

	if err := m.tasks.Submit(ctx, task.Task{
		Name:    task.BuildTaskName(build.ID, task.PhaseBuildEnvironment),
		Phase:   task.PhaseBuildEnvironment,
		BuildID: build.ID,
	}); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("build_id", build.ID).Msg("task dispatch failed, build stays queued")
		return nil, err
	}

	return build, nil
}

func (m *Manager) ensureSpecification(ctx context.Context, spec *CondaSpecification) (*models.Specification, apperrors.Error) {
	sha, err := spec.SHA256()
	if err != nil {
		return nil, err
	}

	existing, err := db.DB(ctx).GetSpecificationBySHA(ctx, sha)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, dberror.ErrNotFound) {
		return nil, err
	}

	canonical, err := spec.CanonicalJSON()
	if err != nil {
		return nil, err
	}
	record := &models.Specification{Name: spec.Name, SHA256: sha}
	if merr := record.Spec.Set(canonical); merr != nil {
		return nil, ErrInvalidSpecification.Err(merr)
	}
	if err := db.DB(ctx).CreateSpecification(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// CancelBuild requests cancellation of a non-terminal build. The broker is
// pinged first so a revoke is never silently dropped, every phase of the
// build is revoked by name, and cleanup is scheduled after a short delay to
// let in-flight task state settle before the record goes CANCELED.
func (m *Manager) CancelBuild(ctx context.Context, buildID int64) apperrors.Error {
	build, err := db.DB(ctx).GetBuild(ctx, buildID)
	if err != nil {
		return err
	}
	if build.Status.Terminal() {
		return dberror.ErrInvalidInput.Msg("build is already " + string(build.Status))
	}

	if err := m.tasks.Ping(ctx); err != nil {
		return task.ErrBrokerUnavailable.Err(err)
	}
	for _, name := range task.BuildTaskNames(buildID) {
		if err := m.tasks.Revoke(ctx, name); err != nil {
			return err
		}
	}

	if err := db.DB(ctx).SetBuildCancelRequested(ctx, buildID); err != nil {
		return err
	}

	if err := m.tasks.Submit(ctx, task.Task{
		Name:    task.BuildTaskName(buildID, task.PhaseCleanupCanceledBuild),
		Phase:   task.PhaseCleanupCanceledBuild,
		BuildID: buildID,
		Delay:   config.Config().Build.GetCleanupDelayOrDefault(),
	}); err != nil {
		return err
	}

	log.Ctx(ctx).Info().Int64("build_id", buildID).Msg("build cancelation requested")
	return nil
}

// cleanupCanceledBuild finalizes a cancel-requested build and discards the
// partial outputs its phases produced. Idempotent: a build that already
// reached a terminal state is left alone.
func (m *Manager) cleanupCanceledBuild(ctx context.Context, buildID int64) error {
	ctx, goerr := db.ConnCtx(ctx)
	if goerr != nil {
		return goerr
	}
	defer db.DB(ctx).Close(ctx)

	if err := db.DB(ctx).SetBuildCanceled(ctx, buildID); err != nil {
		if errors.Is(err, dberror.ErrInvalidInput) {
			log.Ctx(ctx).Debug().Int64("build_id", buildID).Msg("build already terminal, cleanup is a no-op")
			return nil
		}
		return err
	}

	artifacts, err := db.DB(ctx).ListBuildArtifacts(ctx, buildID)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		if a.Key != "" {
			if err := m.store.Delete(ctx, a.Key); err != nil {
				return err
			}
		}
		if err := db.DB(ctx).DeleteBuildArtifact(ctx, a.ID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteBuild hard-deletes a terminal build: blob artifacts first, row
// second, so an interrupted deletion can be retried without dangling keys.
func (m *Manager) DeleteBuild(ctx context.Context, buildID int64) apperrors.Error {
	build, err := db.DB(ctx).GetBuild(ctx, buildID)
	if err != nil {
		return err
	}
	if !build.Status.Terminal() {
		return dberror.ErrInvalidInput.Msg("cannot delete build in status " + string(build.Status))
	}

	artifacts, err := db.DB(ctx).ListBuildArtifacts(ctx, buildID)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		if a.Key == "" {
			continue
		}
		if err := m.store.Delete(ctx, a.Key); err != nil {
			return err
		}
	}

	return db.DB(ctx).DeleteBuild(ctx, buildID)
}

// FailStaleQueuedBuilds fails builds that have waited in QUEUED longer than
// the configured queued_timeout, so a dead worker fleet surfaces as failed
// builds instead of an ever-growing queue. An unset timeout disables the
// sweep.
func (m *Manager) FailStaleQueuedBuilds(ctx context.Context) (int, apperrors.Error) {
	timeoutStr := config.Config().Build.QueuedTimeout
	if timeoutStr == "" {
		return 0, nil
	}
	timeout, goerr := time.ParseDuration(timeoutStr)
	if goerr != nil {
		return 0, ErrBuildManager.Err(goerr)
	}

	stale, err := db.DB(ctx).ListQueuedBuildsOlderThan(ctx, time.Now().Add(-timeout))
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, b := range stale {
		if err := db.DB(ctx).SetBuildFailed(ctx, b.ID, "build timed out waiting for a worker"); err != nil {
			log.Ctx(ctx).Error().Err(err).Int64("build_id", b.ID).Msg("unable to fail stale build")
			continue
		}
		failed++
	}
	if failed > 0 {
		log.Ctx(ctx).Info().Int("count", failed).Msg("failed stale queued builds")
	}
	return failed, nil
}

// SetEnvironmentBuild pins an environment to a completed build of its own.
func (m *Manager) SetEnvironmentBuild(ctx context.Context, namespace, name string, buildID int64) apperrors.Error {
	env, err := db.DB(ctx).GetEnvironment(ctx, namespace, name)
	if err != nil {
		return err
	}
	build, err := db.DB(ctx).GetBuild(ctx, buildID)
	if err != nil {
		return err
	}
	if build.EnvironmentID != env.ID {
		return ErrBuildWrongEnv.Msg("build " + strconv.FormatInt(buildID, 10) + " does not belong to environment " + namespace + "/" + name)
	}
	if build.Status != storecommon.BuildCompleted {
		return ErrBuildNotCompleted.Msg("build " + strconv.FormatInt(buildID, 10) + " is " + string(build.Status))
	}
	return db.DB(ctx).UpdateEnvironmentBuild(ctx, env.ID, buildID)
}
