package buildmanager

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/storage"
	"github.com/peytondmurray/conda-store/internal/condastore/task"
)

func newDb() context.Context {
	config.TestInit()
	db.Init()
	ctx := log.Logger.WithContext(context.Background())
	ctx, err := db.ConnCtx(ctx)
	if err != nil {
		log.Ctx(ctx).Fatal().Err(err).Msg("unable to get db connection")
	}
	return ctx
}

// stubTaskClient records dispatches and fails on demand, standing in for the
// broker.
type stubTaskClient struct {
	mu        sync.Mutex
	submitted []task.Task
	revoked   []string
	submitErr apperrors.Error
	revokeErr apperrors.Error
	pingErr   apperrors.Error
}

func (c *stubTaskClient) Submit(ctx context.Context, t task.Task) apperrors.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return c.submitErr
	}
	c.submitted = append(c.submitted, t)
	return nil
}

func (c *stubTaskClient) Revoke(ctx context.Context, name string) apperrors.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revokeErr != nil {
		return c.revokeErr
	}
	c.revoked = append(c.revoked, name)
	return nil
}

func (c *stubTaskClient) Ping(ctx context.Context) apperrors.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func setupTest(t *testing.T) (context.Context, *Manager, *stubTaskClient) {
	ctx := newDb()
	t.Cleanup(func() {
		db.DB(ctx).Close(ctx)
	})

	store, err := storage.NewLocalStorage(t.TempDir(), "/api/v1/artifact")
	require.NoError(t, err)

	tasks := &stubTaskClient{}
	return ctx, NewManager(tasks, store), tasks
}

// createTestNamespace ensures a namespace and registers hard-delete
// teardown.
func createTestNamespace(t *testing.T, ctx context.Context, m *Manager, name string) {
	ns, err := m.EnsureNamespace(ctx, name)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.DB(ctx).HardDeleteNamespace(ctx, ns.ID)
	})
}
