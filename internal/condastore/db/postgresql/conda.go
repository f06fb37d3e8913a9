package postgresql

import (
	"context"
	"fmt"
	"strings"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
)

// EnsureCondaChannel creates the channel if absent and returns the row either
// way.
func (bm *buildManager) EnsureCondaChannel(ctx context.Context, name string) (*models.CondaChannel, apperrors.Error) {
	if name == "" {
		return nil, dberror.ErrInvalidInput.Msg("channel name cannot be empty")
	}

	query := `
		INSERT INTO conda_channels (name, last_update)
		VALUES ($1, NOW())
		ON CONFLICT (name) DO UPDATE SET last_update = NOW()
		RETURNING id, name, last_update
	`

	var ch models.CondaChannel
	err := bm.conn().QueryRowContext(ctx, query, name).Scan(&ch.ID, &ch.Name, &ch.LastUpdate)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return &ch, nil
}

func (bm *buildManager) ListCondaChannels(ctx context.Context) ([]*models.CondaChannel, apperrors.Error) {
	rows, err := bm.conn().QueryContext(ctx, `
		SELECT id, name, last_update FROM conda_channels ORDER BY name ASC
	`)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []*models.CondaChannel
	for rows.Next() {
		var ch models.CondaChannel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.LastUpdate); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}

func (bm *buildManager) UpsertCondaPackage(ctx context.Context, p *models.CondaPackage) apperrors.Error {
	query := `
		INSERT INTO conda_packages (channel_id, name, version, license, summary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel_id, name, version)
		DO UPDATE SET license = EXCLUDED.license, summary = EXCLUDED.summary
		RETURNING id
	`

	err := bm.conn().QueryRowContext(ctx, query, p.ChannelID, p.Name, p.Version, p.License, p.Summary).Scan(&p.ID)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}

	return nil
}

func (bm *buildManager) UpsertCondaPackageBuild(ctx context.Context, pb *models.CondaPackageBuild) apperrors.Error {
	query := `
		INSERT INTO conda_package_builds (package_id, build, build_number, sha256, md5, size, subdir)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (package_id, build, sha256)
		DO UPDATE SET size = EXCLUDED.size
		RETURNING id
	`

	err := bm.conn().QueryRowContext(ctx, query,
		pb.PackageID, pb.Build, pb.BuildNumber, pb.SHA256, pb.MD5, pb.Size, pb.Subdir).Scan(&pb.ID)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}

	return nil
}

// AddBuildPackageBuilds links resolved package builds to a build. Existing
// links are kept, so re-reporting a solve result is idempotent.
func (bm *buildManager) AddBuildPackageBuilds(ctx context.Context, buildID int64, packageBuildIDs []int64) apperrors.Error {
	query := `
		INSERT INTO build_conda_package_builds (build_id, conda_package_build_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`

	for _, pbID := range packageBuildIDs {
		if _, err := bm.conn().ExecContext(ctx, query, buildID, pbID); err != nil {
			return dberror.ErrDatabase.Err(err)
		}
	}

	return nil
}

func (bm *buildManager) AddSolvePackageBuilds(ctx context.Context, solveID int64, packageBuildIDs []int64) apperrors.Error {
	query := `
		INSERT INTO solve_conda_package_builds (solve_id, conda_package_build_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`

	for _, pbID := range packageBuildIDs {
		if _, err := bm.conn().ExecContext(ctx, query, solveID, pbID); err != nil {
			return dberror.ErrDatabase.Err(err)
		}
	}

	return nil
}

// ListBuildPackages returns the package builds pinned by a build, joined
// with package and channel names.
func (bm *buildManager) ListBuildPackages(ctx context.Context, buildID int64, search string) ([]models.CondaPackageBuild, apperrors.Error) {
	var args []any
	args = append(args, buildID)
	conds := []string{"bc.build_id = $1"}
	if search != "" {
		args = append(args, "%"+search+"%")
		conds = append(conds, fmt.Sprintf("p.name ILIKE $%d", len(args)))
	}

	query := `
		SELECT pb.id, pb.package_id, pb.build, pb.build_number, pb.sha256, pb.md5,
		       pb.size, pb.subdir, p.name, p.version, c.name
		FROM build_conda_package_builds bc
		JOIN conda_package_builds pb ON pb.id = bc.conda_package_build_id
		JOIN conda_packages p ON p.id = pb.package_id
		JOIN conda_channels c ON c.id = p.channel_id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY p.name ASC
	`

	rows, err := bm.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []models.CondaPackageBuild
	for rows.Next() {
		var pb models.CondaPackageBuild
		err := rows.Scan(&pb.ID, &pb.PackageID, &pb.Build, &pb.BuildNumber, &pb.SHA256, &pb.MD5,
			&pb.Size, &pb.Subdir, &pb.Name, &pb.Version, &pb.Channel)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, pb)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}

// ListCondaPackages returns the package catalog, optionally filtered.
func (bm *buildManager) ListCondaPackages(ctx context.Context, filter models.PackageFilter) ([]*models.CondaPackage, apperrors.Error) {
	var args []any
	conds := []string{"TRUE"}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("p.name ILIKE $%d", len(args)))
	}
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		conds = append(conds, fmt.Sprintf("c.name = $%d", len(args)))
	}

	query := `
		SELECT p.id, p.channel_id, p.name, p.version, p.license, p.summary, c.name
		FROM conda_packages p
		JOIN conda_channels c ON c.id = p.channel_id
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY p.name ASC, p.version ASC
	`

	rows, err := bm.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var result []*models.CondaPackage
	for rows.Next() {
		var p models.CondaPackage
		err := rows.Scan(&p.ID, &p.ChannelID, &p.Name, &p.Version, &p.License, &p.Summary, &p.Channel)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}

	return result, nil
}
