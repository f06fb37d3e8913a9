// Package buildmanager implements the registry and build lifecycle: it
// ensures namespaces and environments, deduplicates specifications by
// content hash, drives builds through their status transitions, dispatches
// worker tasks, and owns the hierarchical settings store.
package buildmanager

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/condastore/storage"
	"github.com/peytondmurray/conda-store/internal/condastore/task"
)

// Manager coordinates the relational state with the task broker and blob
// store. The collaborators are injected so tests can substitute doubles and
// deployments can swap brokers.
type Manager struct {
	tasks task.Client
	store storage.Storage
}

func NewManager(tasks task.Client, store storage.Storage) *Manager {
	return &Manager{tasks: tasks, store: store}
}

// Storage exposes the blob store for artifact URL resolution.
func (m *Manager) Storage() storage.Storage {
	return m.store
}

// RegisterTaskHandlers installs the server-side handlers on an in-process
// broker: cleanup of canceled builds and of soft-deleted namespace or
// environment storage. Build and solve phases are executed by the worker
// fleet, not registered here.
func (m *Manager) RegisterTaskHandlers(c *task.InProcessClient) {
	c.Register(task.PhaseCleanupCanceledBuild, func(ctx context.Context, t task.Task) error {
		return m.cleanupCanceledBuild(ctx, t.BuildID)
	})
	c.Register(task.PhaseCleanupDeletedStorage, func(ctx context.Context, t task.Task) error {
		nsID, err := strconv.ParseInt(t.Args["namespace_id"], 10, 64)
		if err != nil {
			log.Ctx(ctx).Error().Str("task", t.Name).Msg("cleanup task missing namespace id")
			return err
		}
		return m.cleanupNamespaceStorage(ctx, nsID)
	})
}
