package postgresql

import (
	"context"
	"database/sql"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
)

// CreateNamespaceRole inserts a role mapping inside a savepoint so that a
// uniqueness conflict rolls back only the insert, not any surrounding work on
// the same connection.
func (mm *metadataManager) CreateNamespaceRole(ctx context.Context, m *models.NamespaceRoleMapping) (err apperrors.Error) {
	tx, errStd := mm.conn().BeginTx(ctx, nil)
	if errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to begin transaction")
		return dberror.ErrDatabase.Err(errStd)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback transaction")
			}
		}
	}()

	if _, errStd := tx.ExecContext(ctx, "SAVEPOINT create_namespace_role"); errStd != nil {
		return dberror.ErrDatabase.Err(errStd)
	}

	errStd = tx.QueryRowContext(ctx, `
		INSERT INTO namespace_role_mappings (namespace_id, other_namespace, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, m.NamespaceID, m.OtherNamespace, m.Role).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if errStd != nil {
		if pgErr, ok := errStd.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT create_namespace_role"); rbErr != nil {
				log.Ctx(ctx).Error().Err(rbErr).Msg("failed to rollback to savepoint")
			}
			return dberror.ErrAlreadyExists.Msg("role mapping already exists: " + m.OtherNamespace)
		}
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to insert role mapping")
		return dberror.ErrDatabase.Err(errStd)
	}

	if errStd := tx.Commit(); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errStd)
	}

	return nil
}

func (mm *metadataManager) GetNamespaceRole(ctx context.Context, namespaceID int64, otherNamespace string) (*models.NamespaceRoleMapping, apperrors.Error) {
	query := `
		SELECT id, namespace_id, other_namespace, role, created_at, updated_at
		FROM namespace_role_mappings
		WHERE namespace_id = $1 AND other_namespace = $2
	`

	var m models.NamespaceRoleMapping
	err := mm.conn().QueryRowContext(ctx, query, namespaceID, otherNamespace).
		Scan(&m.ID, &m.NamespaceID, &m.OtherNamespace, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("role mapping not found: " + otherNamespace)
		}
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &m, nil
}

// ListNamespaceRoles returns the mappings of a namespace in insertion order.
func (mm *metadataManager) ListNamespaceRoles(ctx context.Context, namespaceID int64) ([]*models.NamespaceRoleMapping, apperrors.Error) {
	query := `
		SELECT id, namespace_id, other_namespace, role, created_at, updated_at
		FROM namespace_role_mappings
		WHERE namespace_id = $1
		ORDER BY id ASC
	`

	rows, err := mm.conn().QueryContext(ctx, query, namespaceID)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []*models.NamespaceRoleMapping
	for rows.Next() {
		var m models.NamespaceRoleMapping
		err := rows.Scan(&m.ID, &m.NamespaceID, &m.OtherNamespace, &m.Role, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan role mapping row")
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}

// UpdateNamespaceRole replaces the role of an existing mapping in place. The
// mapping keeps its id, so listing order does not change.
func (mm *metadataManager) UpdateNamespaceRole(ctx context.Context, namespaceID int64, otherNamespace string, role string) apperrors.Error {
	query := `
		UPDATE namespace_role_mappings
		SET role = $3, updated_at = NOW()
		WHERE namespace_id = $1 AND other_namespace = $2
	`

	result, err := mm.conn().ExecContext(ctx, query, namespaceID, otherNamespace, role)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to update role mapping")
		return dberror.ErrDatabase.Err(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		return dberror.ErrNotFound.Msg("role mapping not found: " + otherNamespace)
	}

	return nil
}

func (mm *metadataManager) DeleteNamespaceRole(ctx context.Context, namespaceID int64, otherNamespace string) apperrors.Error {
	query := `
		DELETE FROM namespace_role_mappings
		WHERE namespace_id = $1 AND other_namespace = $2
	`

	result, err := mm.conn().ExecContext(ctx, query, namespaceID, otherNamespace)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rowsAffected == 0 {
		return dberror.ErrNotFound.Msg("role mapping not found: " + otherNamespace)
	}

	return nil
}

// DeleteNamespaceRoles removes all mappings of a namespace.
func (mm *metadataManager) DeleteNamespaceRoles(ctx context.Context, namespaceID int64) apperrors.Error {
	_, err := mm.conn().ExecContext(ctx, `
		DELETE FROM namespace_role_mappings WHERE namespace_id = $1
	`, namespaceID)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// ListAllRoleMappings returns every mapping of every live namespace, with
// the owning namespace name joined in. Used when an entity holds a wildcard
// namespace binding and is therefore a member of every namespace.
func (mm *metadataManager) ListAllRoleMappings(ctx context.Context) ([]*models.NamespaceRoleMapping, apperrors.Error) {
	query := `
		SELECT m.id, m.namespace_id, m.other_namespace, m.role, m.created_at, m.updated_at, n.name
		FROM namespace_role_mappings m
		JOIN namespaces n ON n.id = m.namespace_id
		WHERE n.deleted_at IS NULL
		ORDER BY m.id ASC
	`

	rows, err := mm.conn().QueryContext(ctx, query)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []*models.NamespaceRoleMapping
	for rows.Next() {
		var m models.NamespaceRoleMapping
		err := rows.Scan(&m.ID, &m.NamespaceID, &m.OtherNamespace, &m.Role, &m.CreatedAt, &m.UpdatedAt, &m.Namespace)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}

// GetRoleMappingsForNamespaces returns the mappings owned by any of the named
// namespaces, with the owning namespace name joined in. Used to project
// namespace-to-namespace delegation into an entity's effective bindings.
func (mm *metadataManager) GetRoleMappingsForNamespaces(ctx context.Context, names []string) ([]*models.NamespaceRoleMapping, apperrors.Error) {
	if len(names) == 0 {
		return nil, nil
	}

	query := `
		SELECT m.id, m.namespace_id, m.other_namespace, m.role, m.created_at, m.updated_at, n.name
		FROM namespace_role_mappings m
		JOIN namespaces n ON n.id = m.namespace_id
		WHERE n.deleted_at IS NULL AND n.name = ANY($1::text[])
		ORDER BY m.id ASC
	`

	rows, err := mm.conn().QueryContext(ctx, query, pq.Array(names))
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []*models.NamespaceRoleMapping
	for rows.Next() {
		var m models.NamespaceRoleMapping
		err := rows.Scan(&m.ID, &m.NamespaceID, &m.OtherNamespace, &m.Role, &m.CreatedAt, &m.UpdatedAt, &m.Namespace)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}
