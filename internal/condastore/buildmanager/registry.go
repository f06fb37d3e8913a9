package buildmanager

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/db/dberror"
	"github.com/peytondmurray/conda-store/internal/condastore/db/models"
	"github.com/peytondmurray/conda-store/internal/condastore/task"
)

// otherNamespaceRegex validates role-mapping target patterns: exactly two
// segments, each a literal or containing "*".
var otherNamespaceRegex = regexp.MustCompile(`^[A-Za-z0-9_*-]+/[A-Za-z0-9_*-]+$`)

// EnsureNamespace returns the named namespace, creating it if absent. Racing
// creators are resolved by the unique constraint: a loser's conflict is
// retried as a read.
func (m *Manager) EnsureNamespace(ctx context.Context, name string) (*models.Namespace, apperrors.Error) {
	var ns *models.Namespace
	goerr := retry.Do(func() error {
		existing, err := db.DB(ctx).GetNamespace(ctx, name)
		if err == nil {
			ns = existing
			return nil
		}
		if !errors.Is(err, dberror.ErrNotFound) {
			return retry.Unrecoverable(err)
		}

		created := &models.Namespace{Name: name}
		if merr := created.Metadata.Set([]byte(`{}`)); merr != nil {
			return retry.Unrecoverable(merr)
		}
		err = db.DB(ctx).CreateNamespace(ctx, created)
		if err == nil {
			ns = created
			return nil
		}
		if errors.Is(err, dberror.ErrAlreadyExists) {
			// Lost the race; re-read.
			return err
		}
		return retry.Unrecoverable(err)
	}, retry.Attempts(3), retry.LastErrorOnly(true))

	if goerr != nil {
		var aerr apperrors.Error
		if errors.As(goerr, &aerr) {
			return nil, aerr
		}
		return nil, ErrBuildManager.Err(goerr)
	}
	return ns, nil
}

// EnsureEnvironment returns the environment, creating it if absent.
func (m *Manager) EnsureEnvironment(ctx context.Context, namespace *models.Namespace, name string) (*models.Environment, apperrors.Error) {
	var env *models.Environment
	goerr := retry.Do(func() error {
		existing, err := db.DB(ctx).GetEnvironment(ctx, namespace.Name, name)
		if err == nil {
			env = existing
			return nil
		}
		if !errors.Is(err, dberror.ErrNotFound) {
			return retry.Unrecoverable(err)
		}

		created := &models.Environment{NamespaceID: namespace.ID, Name: name, Namespace: namespace.Name}
		err = db.DB(ctx).CreateEnvironment(ctx, created)
		if err == nil {
			env = created
			return nil
		}
		if errors.Is(err, dberror.ErrAlreadyExists) {
			return err
		}
		return retry.Unrecoverable(err)
	}, retry.Attempts(3), retry.LastErrorOnly(true))

	if goerr != nil {
		var aerr apperrors.Error
		if errors.As(goerr, &aerr) {
			return nil, aerr
		}
		return nil, ErrBuildManager.Err(goerr)
	}
	return env, nil
}

// DeleteNamespace soft-deletes the namespace and its environments and
// schedules storage cleanup for the orphaned artifacts.
func (m *Manager) DeleteNamespace(ctx context.Context, name string) apperrors.Error {
	id, err := db.DB(ctx).SoftDeleteNamespace(ctx, name)
	if err != nil {
		return err
	}

	if err := m.tasks.Submit(ctx, task.Task{
		Name:  "namespace-" + strconv.FormatInt(id, 10) + "-cleanup",
		Phase: task.PhaseCleanupDeletedStorage,
		Args:  map[string]string{"namespace_id": strconv.FormatInt(id, 10)},
	}); err != nil {
		// The namespace is already soft-deleted and invisible; cleanup can
		// be re-run later.
		log.Ctx(ctx).Error().Err(err).Str("namespace", name).Msg("failed to schedule storage cleanup")
	}
	return nil
}

// DeleteEnvironment soft-deletes one environment. Its blob artifacts are
// removed when builds are deleted or namespace cleanup runs.
func (m *Manager) DeleteEnvironment(ctx context.Context, namespace, name string) apperrors.Error {
	env, err := db.DB(ctx).GetEnvironment(ctx, namespace, name)
	if err != nil {
		return err
	}
	return db.DB(ctx).SoftDeleteEnvironment(ctx, env.ID)
}

// CreateNamespaceRole validates and inserts a role mapping for the
// namespace. The role is validated against the known set; the stored string
// is kept verbatim so legacy "developer" rows round-trip.
func (m *Manager) CreateNamespaceRole(ctx context.Context, namespace string, otherNamespace string, role string) (*models.NamespaceRoleMapping, apperrors.Error) {
	ns, err := db.DB(ctx).GetNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if err := validateRoleMapping(otherNamespace, role); err != nil {
		return nil, err
	}

	mapping := &models.NamespaceRoleMapping{
		NamespaceID:    ns.ID,
		OtherNamespace: otherNamespace,
		Role:           role,
		Namespace:      ns.Name,
	}
	if err := db.DB(ctx).CreateNamespaceRole(ctx, mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

// UpdateNamespaceRole replaces the role of an existing mapping in place; the
// mapping keeps its position in listings.
func (m *Manager) UpdateNamespaceRole(ctx context.Context, namespace string, otherNamespace string, role string) apperrors.Error {
	ns, err := db.DB(ctx).GetNamespace(ctx, namespace)
	if err != nil {
		return err
	}
	if err := validateRoleMapping(otherNamespace, role); err != nil {
		return err
	}
	return db.DB(ctx).UpdateNamespaceRole(ctx, ns.ID, otherNamespace, role)
}

func (m *Manager) DeleteNamespaceRole(ctx context.Context, namespace string, otherNamespace string) apperrors.Error {
	ns, err := db.DB(ctx).GetNamespace(ctx, namespace)
	if err != nil {
		return err
	}
	return db.DB(ctx).DeleteNamespaceRole(ctx, ns.ID, otherNamespace)
}

func validateRoleMapping(otherNamespace string, role string) apperrors.Error {
	if !otherNamespaceRegex.MatchString(otherNamespace) {
		return ErrInvalidRoleMapping.Msg("invalid namespace pattern: " + otherNamespace)
	}
	if _, err := auth.ParseRole(role); err != nil {
		return err
	}
	return nil
}

// cleanupNamespaceStorage removes the blob artifacts of a soft-deleted
// namespace and then hard-deletes its rows. Idempotent; safe to re-run.
func (m *Manager) cleanupNamespaceStorage(ctx context.Context, namespaceID int64) error {
	ctx, goerr := db.ConnCtx(ctx)
	if goerr != nil {
		return goerr
	}
	defer db.DB(ctx).Close(ctx)

	artifacts, err := db.DB(ctx).ListArtifactsForNamespace(ctx, namespaceID)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		if a.Key == "" {
			continue
		}
		if err := m.store.Delete(ctx, a.Key); err != nil {
			return err
		}
	}

	return db.DB(ctx).HardDeleteNamespace(ctx, namespaceID)
}
