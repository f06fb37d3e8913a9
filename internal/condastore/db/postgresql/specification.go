package postgresql

import (
	"context"
	"database/sql"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
)

func (mm *metadataManager) CreateSpecification(ctx context.Context, spec *models.Specification) apperrors.Error {
	query := `
		INSERT INTO specifications (name, spec, sha256)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := mm.conn().QueryRowContext(ctx, query, spec.Name, spec.Spec, spec.SHA256).
		Scan(&spec.ID, &spec.CreatedAt)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}

	return nil
}

func (mm *metadataManager) GetSpecificationByID(ctx context.Context, id int64) (*models.Specification, apperrors.Error) {
	query := `
		SELECT id, name, spec, sha256, created_at
		FROM specifications
		WHERE id = $1
	`

	var spec models.Specification
	err := mm.conn().QueryRowContext(ctx, query, id).
		Scan(&spec.ID, &spec.Name, &spec.Spec, &spec.SHA256, &spec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("specification not found")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &spec, nil
}

// GetSpecificationBySHA returns the most recent specification with the given
// content hash.
func (mm *metadataManager) GetSpecificationBySHA(ctx context.Context, sha256 string) (*models.Specification, apperrors.Error) {
	query := `
		SELECT id, name, spec, sha256, created_at
		FROM specifications
		WHERE sha256 = $1
		ORDER BY id DESC
		LIMIT 1
	`

	var spec models.Specification
	err := mm.conn().QueryRowContext(ctx, query, sha256).
		Scan(&spec.ID, &spec.Name, &spec.Spec, &spec.SHA256, &spec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("specification not found")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &spec, nil
}
