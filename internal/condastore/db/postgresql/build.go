package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

const buildSelectColumns = `
	b.id, b.environment_id, b.specification_id, b.status, b.status_info,
	b.size, b.is_canceled, b.scheduled_on, b.started_on, b.ended_on,
	n.name, e.name, s.sha256
`

const buildSelectJoins = `
	FROM builds b
	JOIN environments e ON e.id = b.environment_id
	JOIN namespaces n ON n.id = e.namespace_id
	JOIN specifications s ON s.id = b.specification_id
`

func scanBuild(row interface{ Scan(...any) error }) (*models.Build, error) {
	var b models.Build
	err := row.Scan(&b.ID, &b.EnvironmentID, &b.SpecificationID, &b.Status, &b.StatusInfo,
		&b.Size, &b.IsCanceled, &b.ScheduledOn, &b.StartedOn, &b.EndedOn,
		&b.Namespace, &b.Environment, &b.SpecSHA256)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (bm *buildManager) CreateBuild(ctx context.Context, b *models.Build) apperrors.Error {
	if b.Status == "" {
		b.Status = storecommon.BuildQueued
	}

	query := `
		INSERT INTO builds (environment_id, specification_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, scheduled_on
	`

	err := bm.conn().QueryRowContext(ctx, query, b.EnvironmentID, b.SpecificationID, b.Status).
		Scan(&b.ID, &b.ScheduledOn)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23503" {
			return dberror.ErrNotFound.Msg("environment or specification not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to insert build")
		return dberror.ErrDatabase.Err(err)
	}

	return nil
}

func (bm *buildManager) GetBuild(ctx context.Context, id int64) (*models.Build, apperrors.Error) {
	query := "SELECT " + buildSelectColumns + buildSelectJoins + " WHERE b.id = $1"

	b, err := scanBuild(bm.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg(fmt.Sprintf("build not found: %d", id))
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return b, nil
}

func (bm *buildManager) ListBuilds(ctx context.Context, filter models.BuildFilter) ([]*models.Build, apperrors.Error) {
	var args []any
	conds := []string{arnPatternPredicate("n.name", "e.name", filter.Patterns, &args)}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("b.status = $%d", len(args)))
	}
	if filter.EnvironmentID != 0 {
		args = append(args, filter.EnvironmentID)
		conds = append(conds, fmt.Sprintf("b.environment_id = $%d", len(args)))
	}

	query := "SELECT " + buildSelectColumns + buildSelectJoins +
		" WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY b.id ASC"

	rows, err := bm.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []*models.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}

// FindActiveBuildForSpec returns the most recent non-canceled build of the
// environment with the given specification content hash. Used for
// registration idempotence.
func (bm *buildManager) FindActiveBuildForSpec(ctx context.Context, environmentID int64, sha256 string) (*models.Build, apperrors.Error) {
	query := "SELECT " + buildSelectColumns + buildSelectJoins + `
		WHERE b.environment_id = $1 AND s.sha256 = $2
		  AND b.status != 'CANCELED' AND b.is_canceled = FALSE
		ORDER BY b.id DESC
		LIMIT 1
	`

	b, err := scanBuild(bm.conn().QueryRowContext(ctx, query, environmentID, sha256))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("no active build for specification")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return b, nil
}

// guardedTransition applies an UPDATE whose WHERE clause encodes the legal
// source states. Zero rows affected means the build is missing or in a state
// the transition does not allow; the two cases are distinguished for the
// caller.
func (bm *buildManager) guardedTransition(ctx context.Context, id int64, query string, args ...any) apperrors.Error {
	result, err := bm.conn().ExecContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Int64("build_id", id).Msg("failed to update build status")
		return dberror.ErrDatabase.Err(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		var exists bool
		if err := bm.conn().QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM builds WHERE id = $1)", id).Scan(&exists); err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		if !exists {
			return dberror.ErrNotFound.Msg(fmt.Sprintf("build not found: %d", id))
		}
		return dberror.ErrInvalidInput.Msg(fmt.Sprintf("invalid status transition for build %d", id))
	}

	return nil
}

// SetBuildStarted moves a queued build to BUILDING.
func (bm *buildManager) SetBuildStarted(ctx context.Context, id int64) apperrors.Error {
	return bm.guardedTransition(ctx, id, `
		UPDATE builds SET status = 'BUILDING', started_on = NOW()
		WHERE id = $1 AND status = 'QUEUED'
	`, id)
}

// SetBuildCompleted moves a building build to COMPLETED and records its size.
func (bm *buildManager) SetBuildCompleted(ctx context.Context, id int64, size int64) apperrors.Error {
	return bm.guardedTransition(ctx, id, `
		UPDATE builds SET status = 'COMPLETED', size = $2, ended_on = NOW()
		WHERE id = $1 AND status = 'BUILDING'
	`, id, size)
}

// SetBuildFailed moves a queued or building build to FAILED with detail.
func (bm *buildManager) SetBuildFailed(ctx context.Context, id int64, statusInfo string) apperrors.Error {
	info := sql.NullString{String: statusInfo, Valid: statusInfo != ""}
	return bm.guardedTransition(ctx, id, `
		UPDATE builds SET status = 'FAILED', status_info = $2, ended_on = NOW()
		WHERE id = $1 AND status IN ('QUEUED', 'BUILDING')
	`, id, info)
}

// SetBuildCancelRequested flags a non-terminal build as canceled without
// changing its status; the cleanup task performs the transition.
func (bm *buildManager) SetBuildCancelRequested(ctx context.Context, id int64) apperrors.Error {
	return bm.guardedTransition(ctx, id, `
		UPDATE builds SET is_canceled = TRUE
		WHERE id = $1 AND status IN ('QUEUED', 'BUILDING')
	`, id)
}

// SetBuildCanceled moves a non-terminal build to CANCELED. Idempotent with
// respect to builds already canceled: those yield an invalid-transition
// error the cleanup task ignores.
func (bm *buildManager) SetBuildCanceled(ctx context.Context, id int64) apperrors.Error {
	return bm.guardedTransition(ctx, id, `
		UPDATE builds SET status = 'CANCELED', ended_on = NOW()
		WHERE id = $1 AND status IN ('QUEUED', 'BUILDING')
	`, id)
}

// ListQueuedBuildsOlderThan returns queued builds scheduled before the
// cutoff, for stale-build cleanup.
func (bm *buildManager) ListQueuedBuildsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Build, apperrors.Error) {
	query := "SELECT " + buildSelectColumns + buildSelectJoins + `
		WHERE b.status = 'QUEUED' AND b.scheduled_on < $1
		ORDER BY b.id ASC
	`

	rows, err := bm.conn().QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []*models.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}

// DeleteBuild hard-deletes a build row. Artifact rows cascade.
func (bm *buildManager) DeleteBuild(ctx context.Context, id int64) apperrors.Error {
	result, err := bm.conn().ExecContext(ctx, "DELETE FROM builds WHERE id = $1", id)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		return dberror.ErrNotFound.Msg(fmt.Sprintf("build not found: %d", id))
	}

	return nil
}
