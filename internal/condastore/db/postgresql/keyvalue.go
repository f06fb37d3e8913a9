package postgresql

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
)

// SetKeyValues upserts values under a prefix. With update=false, existing
// keys keep their current value and only absent keys are inserted.
func (mm *metadataManager) SetKeyValues(ctx context.Context, prefix string, values map[string][]byte, update bool) (err apperrors.Error) {
	if prefix == "" {
		return dberror.ErrInvalidInput.Msg("prefix cannot be empty")
	}
	if len(values) == 0 {
		return nil
	}

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

	query := `
		INSERT INTO keyvaluestore (prefix, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (prefix, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if !update {
		query = `
			INSERT INTO keyvaluestore (prefix, key, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (prefix, key) DO NOTHING
		`
	}

	for key, value := range values {
		if _, errStd := tx.ExecContext(ctx, query, prefix, key, value); errStd != nil {
			log.Ctx(ctx).Error().Err(errStd).Str("prefix", prefix).Str("key", key).Msg("failed to set key value")
			return dberror.ErrDatabase.Err(errStd)
		}
	}

	if errStd := tx.Commit(); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errStd)
	}

	return nil
}

// GetKeyValues returns all keys stored under a prefix.
func (mm *metadataManager) GetKeyValues(ctx context.Context, prefix string) (map[string][]byte, apperrors.Error) {
	if prefix == "" {
		return nil, dberror.ErrInvalidInput.Msg("prefix cannot be empty")
	}

	query := `
		SELECT key, value
		FROM keyvaluestore
		WHERE prefix = $1
	`

	rows, err := mm.conn().QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}
