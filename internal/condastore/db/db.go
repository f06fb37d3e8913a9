// Package db provides database interfaces and implementations for the
// conda-store server. It defines three interfaces:
// - MetadataManager: namespaces, role mappings, environments, specifications, settings
// - BuildManager: builds, artifacts, solves, conda package catalog
// - ConnectionManager: connection lifecycle
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dbmanager"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
	"github.com/peytondmurray/conda-store/internal/condastore/db/postgresql"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

// MetadataManager handles registry operations: namespaces, role mappings,
// environments, specifications, and the settings key-value store.
// All operations require a valid context and may return apperrors.Error for
// various failure cases.
type MetadataManager interface {
	// Namespace
	CreateNamespace(ctx context.Context, ns *models.Namespace) apperrors.Error
	GetNamespace(ctx context.Context, name string) (*models.Namespace, apperrors.Error)
	GetNamespaceByID(ctx context.Context, id int64) (*models.Namespace, apperrors.Error)
	ListNamespaces(ctx context.Context, showDeleted bool, patterns []models.ArnPattern) ([]*models.Namespace, apperrors.Error)
	UpdateNamespaceMetadata(ctx context.Context, name string, metadata []byte) apperrors.Error
	SoftDeleteNamespace(ctx context.Context, name string) (int64, apperrors.Error)
	HardDeleteNamespace(ctx context.Context, id int64) apperrors.Error
	GetNamespaceUsage(ctx context.Context, patterns []models.ArnPattern) ([]models.NamespaceUsage, apperrors.Error)

	// Namespace role mappings
	CreateNamespaceRole(ctx context.Context, m *models.NamespaceRoleMapping) apperrors.Error
	GetNamespaceRole(ctx context.Context, namespaceID int64, otherNamespace string) (*models.NamespaceRoleMapping, apperrors.Error)
	ListNamespaceRoles(ctx context.Context, namespaceID int64) ([]*models.NamespaceRoleMapping, apperrors.Error)
	UpdateNamespaceRole(ctx context.Context, namespaceID int64, otherNamespace string, role string) apperrors.Error
	DeleteNamespaceRole(ctx context.Context, namespaceID int64, otherNamespace string) apperrors.Error
	DeleteNamespaceRoles(ctx context.Context, namespaceID int64) apperrors.Error
	GetRoleMappingsForNamespaces(ctx context.Context, names []string) ([]*models.NamespaceRoleMapping, apperrors.Error)
	ListAllRoleMappings(ctx context.Context) ([]*models.NamespaceRoleMapping, apperrors.Error)

	// Environment
	CreateEnvironment(ctx context.Context, env *models.Environment) apperrors.Error
	GetEnvironment(ctx context.Context, namespace, name string) (*models.Environment, apperrors.Error)
	GetEnvironmentByID(ctx context.Context, id int64) (*models.Environment, apperrors.Error)
	ListEnvironments(ctx context.Context, filter models.EnvironmentFilter) ([]*models.Environment, apperrors.Error)
	UpdateEnvironmentBuild(ctx context.Context, id int64, buildID int64) apperrors.Error
	UpdateEnvironmentDescription(ctx context.Context, id int64, description string) apperrors.Error
	SoftDeleteEnvironment(ctx context.Context, id int64) apperrors.Error
	HardDeleteEnvironment(ctx context.Context, id int64) apperrors.Error

	// Specification
	CreateSpecification(ctx context.Context, spec *models.Specification) apperrors.Error
	GetSpecificationByID(ctx context.Context, id int64) (*models.Specification, apperrors.Error)
	GetSpecificationBySHA(ctx context.Context, sha256 string) (*models.Specification, apperrors.Error)

	// Settings key-value store
	SetKeyValues(ctx context.Context, prefix string, values map[string][]byte, update bool) apperrors.Error
	GetKeyValues(ctx context.Context, prefix string) (map[string][]byte, apperrors.Error)
}

// BuildManager handles build lifecycle state: build rows, status
// transitions, artifacts, solves, and the conda package catalog.
type BuildManager interface {
	// Build
	CreateBuild(ctx context.Context, b *models.Build) apperrors.Error
	GetBuild(ctx context.Context, id int64) (*models.Build, apperrors.Error)
	ListBuilds(ctx context.Context, filter models.BuildFilter) ([]*models.Build, apperrors.Error)
	FindActiveBuildForSpec(ctx context.Context, environmentID int64, sha256 string) (*models.Build, apperrors.Error)
	SetBuildStarted(ctx context.Context, id int64) apperrors.Error
	SetBuildCompleted(ctx context.Context, id int64, size int64) apperrors.Error
	SetBuildFailed(ctx context.Context, id int64, statusInfo string) apperrors.Error
	SetBuildCancelRequested(ctx context.Context, id int64) apperrors.Error
	SetBuildCanceled(ctx context.Context, id int64) apperrors.Error
	ListQueuedBuildsOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Build, apperrors.Error)
	DeleteBuild(ctx context.Context, id int64) apperrors.Error

	// Build artifacts
	RegisterBuildArtifact(ctx context.Context, a *models.BuildArtifact) apperrors.Error
	ListBuildArtifacts(ctx context.Context, buildID int64) ([]models.BuildArtifact, apperrors.Error)
	GetBuildArtifact(ctx context.Context, buildID int64, artifactType storecommon.BuildArtifactType) (*models.BuildArtifact, apperrors.Error)
	GetBuildArtifactByKey(ctx context.Context, key string) (*models.BuildArtifact, apperrors.Error)
	DeleteBuildArtifact(ctx context.Context, id int64) apperrors.Error
	ListArtifactsForNamespace(ctx context.Context, namespaceID int64) ([]models.BuildArtifact, apperrors.Error)

	// Conda package catalog
	EnsureCondaChannel(ctx context.Context, name string) (*models.CondaChannel, apperrors.Error)
	ListCondaChannels(ctx context.Context) ([]*models.CondaChannel, apperrors.Error)
	UpsertCondaPackage(ctx context.Context, p *models.CondaPackage) apperrors.Error
	UpsertCondaPackageBuild(ctx context.Context, pb *models.CondaPackageBuild) apperrors.Error
	AddBuildPackageBuilds(ctx context.Context, buildID int64, packageBuildIDs []int64) apperrors.Error
	AddSolvePackageBuilds(ctx context.Context, solveID int64, packageBuildIDs []int64) apperrors.Error
	ListBuildPackages(ctx context.Context, buildID int64, search string) ([]models.CondaPackageBuild, apperrors.Error)
	ListCondaPackages(ctx context.Context, filter models.PackageFilter) ([]*models.CondaPackage, apperrors.Error)

	// Solve
	CreateSolve(ctx context.Context, s *models.Solve) apperrors.Error
	GetSolve(ctx context.Context, id int64) (*models.Solve, apperrors.Error)
	GetSolveForSpecification(ctx context.Context, specificationID int64) (*models.Solve, apperrors.Error)
	SetSolveStarted(ctx context.Context, id int64) apperrors.Error
	SetSolveEnded(ctx context.Context, id int64) apperrors.Error
}

// ConnectionManager handles the database connection lifecycle.
type ConnectionManager interface {
	// Close returns the connection to the pool.
	Close(ctx context.Context)
}

// Database interface combines the three managers into a single interface.
type Database interface {
	MetadataManager
	BuildManager
	ConnectionManager
}

var pool dbmanager.Db

// Init initializes the database connection pool.
func Init() {
	ctx := log.Logger.WithContext(context.Background())
	pg := dbmanager.NewDb(ctx, "postgresql")
	if pg == nil {
		panic("unable to create db pool")
	}
	pool = pg
}

// Conn returns a new database connection from the pool.
func Conn(ctx context.Context) (dbmanager.Conn, error) {
	if pool != nil {
		conn, err := pool.Conn(ctx)
		if err == nil {
			return conn, nil
		}
		log.Ctx(ctx).Error().Err(err).Msg("unable to get db connection")
		return nil, err
	}
	return nil, fmt.Errorf("database pool not initialized")
}

type ctxDbKeyType string

const ctxDbKey ctxDbKeyType = "CondaStoreDb"

// ConnCtx adds a database connection to the context.
func ConnCtx(ctx context.Context) (context.Context, error) {
	conn, err := Conn(ctx)
	if err != nil {
		return nil, err
	}
	return context.WithValue(ctx, ctxDbKey, conn), nil
}

type condaStoreDb struct {
	MetadataManager
	BuildManager
	ConnectionManager
}

// DB returns a new database instance from the context. It expects a valid
// database connection in the context. Returns nil if none is found.
func DB(ctx context.Context) Database {
	if conn, ok := ctx.Value(ctxDbKey).(dbmanager.Conn); ok {
		mm, bm, cm := postgresql.NewCondaStoreDb(conn)
		return &condaStoreDb{
			MetadataManager:   mm,
			BuildManager:      bm,
			ConnectionManager: cm,
		}
	}
	log.Ctx(ctx).Error().Msg("unable to get db connection from context")
	return nil
}
