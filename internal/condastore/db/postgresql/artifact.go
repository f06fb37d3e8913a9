package postgresql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgconn"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

func (bm *buildManager) RegisterBuildArtifact(ctx context.Context, a *models.BuildArtifact) apperrors.Error {
	query := `
		INSERT INTO build_artifacts (build_id, artifact_type, key)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	err := bm.conn().QueryRowContext(ctx, query, a.BuildID, a.ArtifactType, a.Key).Scan(&a.ID)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23503" {
			return dberror.ErrNotFound.Msg(fmt.Sprintf("build not found: %d", a.BuildID))
		}
		return dberror.ErrDatabase.Err(err)
	}

	return nil
}

func (bm *buildManager) ListBuildArtifacts(ctx context.Context, buildID int64) ([]models.BuildArtifact, apperrors.Error) {
	query := `
		SELECT id, build_id, artifact_type, key
		FROM build_artifacts
		WHERE build_id = $1
		ORDER BY id ASC
	`

	rows, err := bm.conn().QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []models.BuildArtifact
	for rows.Next() {
		var a models.BuildArtifact
		if err := rows.Scan(&a.ID, &a.BuildID, &a.ArtifactType, &a.Key); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}

// GetBuildArtifact returns the first artifact of the given type registered
// for the build.
func (bm *buildManager) GetBuildArtifact(ctx context.Context, buildID int64, artifactType storecommon.BuildArtifactType) (*models.BuildArtifact, apperrors.Error) {
	query := `
		SELECT id, build_id, artifact_type, key
		FROM build_artifacts
		WHERE build_id = $1 AND artifact_type = $2
		ORDER BY id ASC
		LIMIT 1
	`

	var a models.BuildArtifact
	err := bm.conn().QueryRowContext(ctx, query, buildID, artifactType).
		Scan(&a.ID, &a.BuildID, &a.ArtifactType, &a.Key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("artifact not found: " + string(artifactType))
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &a, nil
}

// GetBuildArtifactByKey resolves a storage key back to its artifact row, for
// authorizing artifact downloads.
func (bm *buildManager) GetBuildArtifactByKey(ctx context.Context, key string) (*models.BuildArtifact, apperrors.Error) {
	query := `
		SELECT id, build_id, artifact_type, key
		FROM build_artifacts
		WHERE key = $1
		ORDER BY id ASC
		LIMIT 1
	`

	var a models.BuildArtifact
	err := bm.conn().QueryRowContext(ctx, query, key).
		Scan(&a.ID, &a.BuildID, &a.ArtifactType, &a.Key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("artifact not found: " + key)
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &a, nil
}

func (bm *buildManager) DeleteBuildArtifact(ctx context.Context, id int64) apperrors.Error {
	_, err := bm.conn().ExecContext(ctx, "DELETE FROM build_artifacts WHERE id = $1", id)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// ListArtifactsForNamespace returns all artifacts of all builds under a
// namespace, for blob cleanup on namespace deletion.
func (bm *buildManager) ListArtifactsForNamespace(ctx context.Context, namespaceID int64) ([]models.BuildArtifact, apperrors.Error) {
	query := `
		SELECT a.id, a.build_id, a.artifact_type, a.key
		FROM build_artifacts a
		JOIN builds b ON b.id = a.build_id
		JOIN environments e ON e.id = b.environment_id
		WHERE e.namespace_id = $1
		ORDER BY a.id ASC
	`

	rows, err := bm.conn().QueryContext(ctx, query, namespaceID)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []models.BuildArtifact
	for rows.Next() {
		var a models.BuildArtifact
		if err := rows.Scan(&a.ID, &a.BuildID, &a.ArtifactType, &a.Key); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}
