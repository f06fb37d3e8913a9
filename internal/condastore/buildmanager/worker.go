package buildmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
	"github.com/peytondmurray/conda-store/internal/condastore/task"
)

// The operations in this file are invoked by the worker fleet reporting
// phase results back; request handlers never advance BUILDING to a terminal
// state themselves.

// BuildStarted moves a queued build to BUILDING. A build whose cancelation
// was requested while queued is not started.
func (m *Manager) BuildStarted(ctx context.Context, buildID int64) apperrors.Error {
	build, err := db.DB(ctx).GetBuild(ctx, buildID)
	if err != nil {
		return err
	}
	if build.IsCanceled {
		return dberror.ErrInvalidInput.Msg("build cancelation was requested")
	}
	return db.DB(ctx).SetBuildStarted(ctx, buildID)
}

// BuildSucceeded records completion, the built size, and pins the
// environment to the new build.
func (m *Manager) BuildSucceeded(ctx context.Context, buildID int64, size int64) apperrors.Error {
	build, err := db.DB(ctx).GetBuild(ctx, buildID)
	if err != nil {
		return err
	}
	if err := db.DB(ctx).SetBuildCompleted(ctx, buildID, size); err != nil {
		return err
	}
	if err := db.DB(ctx).UpdateEnvironmentBuild(ctx, build.EnvironmentID, buildID); err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("build_id", buildID).Msg("unable to pin environment to completed build")
		return err
	}
	return nil
}

// BuildFailed records failure with diagnostic detail.
func (m *Manager) BuildFailed(ctx context.Context, buildID int64, statusInfo string) apperrors.Error {
	return db.DB(ctx).SetBuildFailed(ctx, buildID, statusInfo)
}

// RegisterBuildArtifact records one stored output of a build phase. Keys are
// opaque; an empty key is only meaningful for the legacy LOCKFILE sentinel.
func (m *Manager) RegisterBuildArtifact(ctx context.Context, buildID int64, artifactType storecommon.BuildArtifactType, key string) apperrors.Error {
	if !storecommon.ValidArtifactType(artifactType) {
		return dberror.ErrInvalidInput.Msg("invalid artifact type: " + string(artifactType))
	}
	if _, err := db.DB(ctx).GetBuild(ctx, buildID); err != nil {
		return err
	}
	return db.DB(ctx).RegisterBuildArtifact(ctx, &models.BuildArtifact{
		BuildID:      buildID,
		ArtifactType: artifactType,
		Key:          key,
	})
}

// RecordBuildPackages attaches the resolved package set to a build,
// upserting the channel and package catalog rows on the way.
func (m *Manager) RecordBuildPackages(ctx context.Context, buildID int64, packages []ResolvedPackage) apperrors.Error {
	ids, err := m.upsertPackages(ctx, packages)
	if err != nil {
		return err
	}
	return db.DB(ctx).AddBuildPackageBuilds(ctx, buildID, ids)
}

// ResolvedPackage is one solver result entry.
type ResolvedPackage struct {
	Channel     string `json:"channel"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Build       string `json:"build"`
	BuildNumber int    `json:"build_number"`
	SHA256      string `json:"sha256"`
	MD5         string `json:"md5,omitempty"`
	Size        int64  `json:"size"`
	Subdir      string `json:"subdir,omitempty"`
	License     string `json:"license,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

func (m *Manager) upsertPackages(ctx context.Context, packages []ResolvedPackage) ([]int64, apperrors.Error) {
	ids := make([]int64, 0, len(packages))
	channels := make(map[string]int64)

	for _, p := range packages {
		channelID, ok := channels[p.Channel]
		if !ok {
			channel, err := db.DB(ctx).EnsureCondaChannel(ctx, p.Channel)
			if err != nil {
				return nil, err
			}
			channelID = channel.ID
			channels[p.Channel] = channelID
		}

		pkg := &models.CondaPackage{ChannelID: channelID, Name: p.Name, Version: p.Version}
		if p.License != "" {
			pkg.License.String, pkg.License.Valid = p.License, true
		}
		if p.Summary != "" {
			pkg.Summary.String, pkg.Summary.Valid = p.Summary, true
		}
		if err := db.DB(ctx).UpsertCondaPackage(ctx, pkg); err != nil {
			return nil, err
		}

		pb := &models.CondaPackageBuild{
			PackageID:   pkg.ID,
			Build:       p.Build,
			BuildNumber: p.BuildNumber,
			SHA256:      p.SHA256,
			Size:        p.Size,
		}
		if p.MD5 != "" {
			pb.MD5.String, pb.MD5.Valid = p.MD5, true
		}
		if p.Subdir != "" {
			pb.Subdir.String, pb.Subdir.Valid = p.Subdir, true
		}
		if err := db.DB(ctx).UpsertCondaPackageBuild(ctx, pb); err != nil {
			return nil, err
		}
		ids = append(ids, pb.ID)
	}

	return ids, nil
}

// RegisterSolve stores the specification and returns its solve, dispatching
// the solve task only when no solve for the identical content exists.
// Concurrent identical requests converge on one solve id.
func (m *Manager) RegisterSolve(ctx context.Context, spec *CondaSpecification) (*models.Solve, apperrors.Error) {
	specRecord, err := m.ensureSpecification(ctx, spec)
	if err != nil {
		return nil, err
	}

	existing, err := db.DB(ctx).GetSolveForSpecification(ctx, specRecord.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, dberror.ErrNotFound) {
		return nil, err
	}

	solve := &models.Solve{SpecificationID: specRecord.ID}
	if err := db.DB(ctx).CreateSolve(ctx, solve); err != nil {
		return nil, err
	}

	if err := m.tasks.Submit(ctx, task.Task{
		Name:  fmt.Sprintf("solve-%d", solve.ID),
		Phase: task.PhaseSolve,
	}); err != nil {
		return nil, err
	}
	return solve, nil
}

// SolveStarted and SolveEnded are reported by the solver worker.
func (m *Manager) SolveStarted(ctx context.Context, solveID int64) apperrors.Error {
	return db.DB(ctx).SetSolveStarted(ctx, solveID)
}

// SolveEnded records completion along with the resolved package set.
func (m *Manager) SolveEnded(ctx context.Context, solveID int64, packages []ResolvedPackage) apperrors.Error {
	ids, err := m.upsertPackages(ctx, packages)
	if err != nil {
		return err
	}
	if err := db.DB(ctx).AddSolvePackageBuilds(ctx, solveID, ids); err != nil {
		return err
	}
	return db.DB(ctx).SetSolveEnded(ctx, solveID)
}

// GetBuildLockfile returns the lockfile content for a build. A LOCKFILE
// artifact with a non-empty key lives in the blob store and is returned by
// reference; the empty-key sentinel marks a legacy build whose lockfile is
// reconstructed from the recorded package set.
func (m *Manager) GetBuildLockfile(ctx context.Context, buildID int64) (key string, content []byte, err apperrors.Error) {
	artifact, err := db.DB(ctx).GetBuildArtifact(ctx, buildID, storecommon.ArtifactLockfile)
	if err != nil {
		return "", nil, err
	}
	if artifact.Key != "" {
		return artifact.Key, nil, nil
	}

	packages, err := db.DB(ctx).ListBuildPackages(ctx, buildID, "")
	if err != nil {
		return "", nil, err
	}

	entries := make([]map[string]any, 0, len(packages))
	for _, p := range packages {
		entries = append(entries, map[string]any{
			"channel":      p.Channel,
			"name":         p.Name,
			"version":      p.Version,
			"build":        p.Build,
			"build_number": p.BuildNumber,
			"sha256":       p.SHA256,
			"size":         p.Size,
		})
	}
	content, goerr := json.Marshal(map[string]any{
		"version": 1,
		"package": entries,
	})
	if goerr != nil {
		return "", nil, ErrBuildManager.Err(goerr)
	}
	return "", content, nil
}
