package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
)

func (mm *metadataManager) CreateEnvironment(ctx context.Context, env *models.Environment) apperrors.Error {
	query := `
		INSERT INTO environments (namespace_id, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	err := mm.conn().QueryRowContext(ctx, query, env.NamespaceID, env.Name, env.Description).
		Scan(&env.ID, &env.CreatedAt, &env.UpdatedAt)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok {
			switch {
			case pgErr.Code == "23505":
				return dberror.ErrAlreadyExists.Msg("environment already exists: " + env.Name)
			case pgErr.Code == "23514" && pgErr.ConstraintName == "environments_name_check":
				log.Ctx(ctx).Error().Str("name", env.Name).Msg("invalid environment name format")
				return dberror.ErrInvalidInput.Msg("invalid environment name format")
			case pgErr.Code == "23503":
				return dberror.ErrNotFound.Msg("namespace not found")
			}
		}
		log.Ctx(ctx).Error().Err(err).Str("name", env.Name).Msg("failed to insert environment")
		return dberror.ErrDatabase.Err(err)
	}

	return nil
}

func (mm *metadataManager) GetEnvironment(ctx context.Context, namespace, name string) (*models.Environment, apperrors.Error) {
	if namespace == "" || name == "" {
		return nil, dberror.ErrInvalidInput.Msg("namespace and environment name cannot be empty")
	}

	query := `
		SELECT e.id, e.namespace_id, e.name, e.description, e.current_build_id,
		       e.created_at, e.updated_at, e.deleted_at, n.name
		FROM environments e
		JOIN namespaces n ON n.id = e.namespace_id
		WHERE n.name = $1 AND e.name = $2
		  AND n.deleted_at IS NULL AND e.deleted_at IS NULL
	`

	var env models.Environment
	err := mm.conn().QueryRowContext(ctx, query, namespace, name).
		Scan(&env.ID, &env.NamespaceID, &env.Name, &env.Description, &env.CurrentBuildID,
			&env.CreatedAt, &env.UpdatedAt, &env.DeletedAt, &env.Namespace)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("environment not found: " + namespace + "/" + name)
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &env, nil
}

func (mm *metadataManager) GetEnvironmentByID(ctx context.Context, id int64) (*models.Environment, apperrors.Error) {
	query := `
		SELECT e.id, e.namespace_id, e.name, e.description, e.current_build_id,
		       e.created_at, e.updated_at, e.deleted_at, n.name
		FROM environments e
		JOIN namespaces n ON n.id = e.namespace_id
		WHERE e.id = $1
	`

	var env models.Environment
	err := mm.conn().QueryRowContext(ctx, query, id).
		Scan(&env.ID, &env.NamespaceID, &env.Name, &env.Description, &env.CurrentBuildID,
			&env.CreatedAt, &env.UpdatedAt, &env.DeletedAt, &env.Namespace)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("environment not found")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &env, nil
}

// arnPatternPredicate builds the visibility predicate over namespace and
// environment name columns. A pattern matches when each segment is "*" or
// equals the column value; an empty environment segment is a namespace-level
// binding and matches any environment.
func arnPatternPredicate(nsColumn, envColumn string, patterns []models.ArnPattern, args *[]any) string {
	if len(patterns) == 0 {
		return "FALSE"
	}
	clauses := make([]string, 0, len(patterns))
	for _, p := range patterns {
		*args = append(*args, p.Namespace)
		nsIdx := len(*args)
		*args = append(*args, p.Environment)
		envIdx := len(*args)
		clauses = append(clauses, fmt.Sprintf(
			"(($%d = '*' OR %s = $%d) AND ($%d = '*' OR $%d = '' OR %s = $%d))",
			nsIdx, nsColumn, nsIdx, envIdx, envIdx, envColumn, envIdx))
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

// ListEnvironments returns live environments matching the filter, restricted
// to the caller's visibility patterns. The visibility predicate is part of
// the query so large result sets are never materialized before filtering.
func (mm *metadataManager) ListEnvironments(ctx context.Context, filter models.EnvironmentFilter) ([]*models.Environment, apperrors.Error) {
	var args []any
	conds := []string{
		"n.deleted_at IS NULL",
		"e.deleted_at IS NULL",
		arnPatternPredicate("n.name", "e.name", filter.Patterns, &args),
	}

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("(n.name || '/' || e.name) ILIKE $%d", len(args)))
	}
	if filter.Namespace != "" {
		args = append(args, filter.Namespace)
		conds = append(conds, fmt.Sprintf("n.name = $%d", len(args)))
	}
	if filter.Name != "" {
		args = append(args, filter.Name)
		conds = append(conds, fmt.Sprintf("e.name = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM builds b WHERE b.id = e.current_build_id AND b.status = $%d)", len(args)))
	}
	if filter.Artifact != "" {
		args = append(args, filter.Artifact)
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM build_artifacts a WHERE a.build_id = e.current_build_id AND a.artifact_type = $%d)", len(args)))
	}
	for _, pkg := range filter.Packages {
		args = append(args, pkg)
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM build_conda_package_builds bc
			JOIN conda_package_builds pb ON pb.id = bc.conda_package_build_id
			JOIN conda_packages p ON p.id = pb.package_id
			WHERE bc.build_id = e.current_build_id AND p.name = $%d)`, len(args)))
	}

	query := `
		SELECT e.id, e.namespace_id, e.name, e.description, e.current_build_id,
		       e.created_at, e.updated_at, e.deleted_at, n.name
		FROM environments e
		JOIN namespaces n ON n.id = e.namespace_id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY n.name ASC, e.name ASC
	`

	rows, err := mm.conn().QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list environments")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []*models.Environment
	for rows.Next() {
		var env models.Environment
		err := rows.Scan(&env.ID, &env.NamespaceID, &env.Name, &env.Description, &env.CurrentBuildID,
			&env.CreatedAt, &env.UpdatedAt, &env.DeletedAt, &env.Namespace)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, &env)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}

// UpdateEnvironmentBuild pins the environment's current build.
func (mm *metadataManager) UpdateEnvironmentBuild(ctx context.Context, id int64, buildID int64) apperrors.Error {
	query := `
		UPDATE environments
		SET current_build_id = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := mm.conn().ExecContext(ctx, query, id, buildID)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23503" {
			return dberror.ErrNotFound.Msg("build not found")
		}
		return dberror.ErrDatabase.Err(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		return dberror.ErrNotFound.Msg("environment not found")
	}

	return nil
}

func (mm *metadataManager) UpdateEnvironmentDescription(ctx context.Context, id int64, description string) apperrors.Error {
	desc := sql.NullString{String: description, Valid: description != ""}

	query := `
		UPDATE environments
		SET description = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := mm.conn().ExecContext(ctx, query, id, desc)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		return dberror.ErrNotFound.Msg("environment not found")
	}

	return nil
}

// HardDeleteEnvironment removes the environment row; builds cascade. Run
// after blob artifacts are removed. Idempotent.
func (mm *metadataManager) HardDeleteEnvironment(ctx context.Context, id int64) apperrors.Error {
	_, err := mm.conn().ExecContext(ctx, "DELETE FROM environments WHERE id = $1", id)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (mm *metadataManager) SoftDeleteEnvironment(ctx context.Context, id int64) apperrors.Error {
	query := `
		UPDATE environments SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := mm.conn().ExecContext(ctx, query, id)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		return dberror.ErrNotFound.Msg("environment not found")
	}

	return nil
}
