package postgresql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgconn"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
)

func (bm *buildManager) CreateSolve(ctx context.Context, s *models.Solve) apperrors.Error {
	query := `
		INSERT INTO solves (specification_id)
		VALUES ($1)
		RETURNING id, scheduled_on
	`

	err := bm.conn().QueryRowContext(ctx, query, s.SpecificationID).Scan(&s.ID, &s.ScheduledOn)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23503" {
			return dberror.ErrNotFound.Msg("specification not found")
		}
		return dberror.ErrDatabase.Err(err)
	}

	return nil
}

func (bm *buildManager) GetSolve(ctx context.Context, id int64) (*models.Solve, apperrors.Error) {
	query := `
		SELECT id, specification_id, scheduled_on, started_on, ended_on
		FROM solves
		WHERE id = $1
	`

	var s models.Solve
	err := bm.conn().QueryRowContext(ctx, query, id).
		Scan(&s.ID, &s.SpecificationID, &s.ScheduledOn, &s.StartedOn, &s.EndedOn)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg(fmt.Sprintf("solve not found: %d", id))
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &s, nil
}

// GetSolveForSpecification returns the most recent solve of a specification.
// Concurrent identical solve requests deduplicate through this lookup.
func (bm *buildManager) GetSolveForSpecification(ctx context.Context, specificationID int64) (*models.Solve, apperrors.Error) {
	query := `
		SELECT id, specification_id, scheduled_on, started_on, ended_on
		FROM solves
		WHERE specification_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	var s models.Solve
	err := bm.conn().QueryRowContext(ctx, query, specificationID).
		Scan(&s.ID, &s.SpecificationID, &s.ScheduledOn, &s.StartedOn, &s.EndedOn)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("no solve for specification")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &s, nil
}

func (bm *buildManager) SetSolveStarted(ctx context.Context, id int64) apperrors.Error {
	_, err := bm.conn().ExecContext(ctx, `
		UPDATE solves SET started_on = NOW() WHERE id = $1 AND started_on IS NULL
	`, id)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (bm *buildManager) SetSolveEnded(ctx context.Context, id int64) apperrors.Error {
	_, err := bm.conn().ExecContext(ctx, `
		UPDATE solves SET ended_on = NOW() WHERE id = $1 AND ended_on IS NULL
	`, id)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}
