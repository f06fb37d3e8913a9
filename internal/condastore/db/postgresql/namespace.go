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

func (mm *metadataManager) CreateNamespace(ctx context.Context, ns *models.Namespace) apperrors.Error {
	query := `
		INSERT INTO namespaces (name, metadata)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`

	err := mm.conn().QueryRowContext(ctx, query, ns.Name, ns.Metadata).
		Scan(&ns.ID, &ns.CreatedAt, &ns.UpdatedAt)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok {
			switch {
			case pgErr.Code == "23505":
				return dberror.ErrAlreadyExists.Msg("namespace already exists: " + ns.Name)
			case pgErr.Code == "23514" && pgErr.ConstraintName == "namespaces_name_check":
				log.Ctx(ctx).Error().Str("name", ns.Name).Msg("invalid namespace name format")
				return dberror.ErrInvalidInput.Msg("invalid namespace name format")
			}
		}
		log.Ctx(ctx).Error().Err(err).Str("name", ns.Name).Msg("failed to insert namespace")
		return dberror.ErrDatabase.Err(err)
	}

	return nil
}

func (mm *metadataManager) GetNamespace(ctx context.Context, name string) (*models.Namespace, apperrors.Error) {
	if name == "" {
		return nil, dberror.ErrInvalidInput.Msg("namespace name cannot be empty")
	}

	query := `
		SELECT id, name, metadata, created_at, updated_at, deleted_at
		FROM namespaces
		WHERE name = $1 AND deleted_at IS NULL
	`

	var ns models.Namespace
	err := mm.conn().QueryRowContext(ctx, query, name).
		Scan(&ns.ID, &ns.Name, &ns.Metadata, &ns.CreatedAt, &ns.UpdatedAt, &ns.DeletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("namespace not found: " + name)
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &ns, nil
}

func (mm *metadataManager) GetNamespaceByID(ctx context.Context, id int64) (*models.Namespace, apperrors.Error) {
	query := `
		SELECT id, name, metadata, created_at, updated_at, deleted_at
		FROM namespaces
		WHERE id = $1
	`

	var ns models.Namespace
	err := mm.conn().QueryRowContext(ctx, query, id).
		Scan(&ns.ID, &ns.Name, &ns.Metadata, &ns.CreatedAt, &ns.UpdatedAt, &ns.DeletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("namespace not found")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &ns, nil
}

// namespacePatternPredicate builds the visibility predicate for the caller's
// patterns over a namespace name column. A pattern matches the namespace when
// its namespace segment is "*" or equals the name; the environment segment is
// not consulted at namespace granularity.
func namespacePatternPredicate(column string, patterns []models.ArnPattern, args *[]any) string {
	if len(patterns) == 0 {
		return "FALSE"
	}
	clauses := make([]string, 0, len(patterns))
	for _, p := range patterns {
		*args = append(*args, p.Namespace)
		i := len(*args)
		clauses = append(clauses, fmt.Sprintf("($%d = '*' OR %s = $%d)", i, column, i))
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

func (mm *metadataManager) ListNamespaces(ctx context.Context, showDeleted bool, patterns []models.ArnPattern) ([]*models.Namespace, apperrors.Error) {
	var args []any
	conds := []string{namespacePatternPredicate("name", patterns, &args)}
	if !showDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}

	query := `
		SELECT id, name, metadata, created_at, updated_at, deleted_at
		FROM namespaces
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY name ASC
	`

	rows, err := mm.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []*models.Namespace
	for rows.Next() {
		var ns models.Namespace
		err := rows.Scan(&ns.ID, &ns.Name, &ns.Metadata, &ns.CreatedAt, &ns.UpdatedAt, &ns.DeletedAt)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan namespace row")
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, &ns)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}

// UpdateNamespaceMetadata merges the given JSON document into the stored
// metadata; existing keys not named in metadata are preserved.
func (mm *metadataManager) UpdateNamespaceMetadata(ctx context.Context, name string, metadata []byte) apperrors.Error {
	if name == "" {
		return dberror.ErrInvalidInput.Msg("namespace name cannot be empty")
	}

	query := `
		UPDATE namespaces
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE name = $1 AND deleted_at IS NULL
	`

	result, err := mm.conn().ExecContext(ctx, query, name, metadata)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to update namespace metadata")
		return dberror.ErrDatabase.Err(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		return dberror.ErrNotFound.Msg("namespace not found: " + name)
	}

	return nil
}

// SoftDeleteNamespace marks the namespace and its live environments deleted
// and returns the namespace id for artifact cleanup.
func (mm *metadataManager) SoftDeleteNamespace(ctx context.Context, name string) (int64, apperrors.Error) {
	if name == "" {
		return 0, dberror.ErrInvalidInput.Msg("namespace name cannot be empty")
	}

	tx, errStd := mm.conn().BeginTx(ctx, nil)
	if errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to begin transaction")
		return 0, dberror.ErrDatabase.Err(errStd)
	}
	committed := false
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	var id int64
	err := tx.QueryRowContext(ctx, `
		UPDATE namespaces SET deleted_at = NOW()
		WHERE name = $1 AND deleted_at IS NULL
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, dberror.ErrNotFound.Msg("namespace not found: " + name)
		}
		return 0, dberror.ErrDatabase.Err(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE environments SET deleted_at = NOW()
		WHERE namespace_id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return 0, dberror.ErrDatabase.Err(err)
	}

	if errStd := tx.Commit(); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to commit transaction")
		return 0, dberror.ErrDatabase.Err(errStd)
	}
	committed = true

	return id, nil
}

// GetNamespaceUsage aggregates live environment counts, build counts, and
// completed-build storage per visible namespace.
func (mm *metadataManager) GetNamespaceUsage(ctx context.Context, patterns []models.ArnPattern) ([]models.NamespaceUsage, apperrors.Error) {
	var args []any
	predicate := namespacePatternPredicate("n.name", patterns, &args)

	query := `
		SELECT n.name,
		       COUNT(DISTINCT e.id) AS environment_count,
		       COUNT(b.id) AS build_count,
		       COALESCE(SUM(b.size) FILTER (WHERE b.status = 'COMPLETED'), 0) AS storage_bytes
		FROM namespaces n
		LEFT JOIN environments e ON e.namespace_id = n.id AND e.deleted_at IS NULL
		LEFT JOIN builds b ON b.environment_id = e.id
		WHERE n.deleted_at IS NULL AND ` + predicate + `
		GROUP BY n.name
		ORDER BY n.name ASC
	`

	rows, err := mm.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []models.NamespaceUsage
	for rows.Next() {
		var u models.NamespaceUsage
		if err := rows.Scan(&u.Namespace, &u.EnvironmentCount, &u.BuildCount, &u.StorageBytes); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}

// HardDeleteNamespace removes the namespace row; environments, builds, and
// role mappings cascade. Run after blob artifacts are removed. Deleting an
// absent namespace is not an error so cleanup can be retried.
func (mm *metadataManager) HardDeleteNamespace(ctx context.Context, id int64) apperrors.Error {
	_, err := mm.conn().ExecContext(ctx, "DELETE FROM namespaces WHERE id = $1", id)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}
