package task

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
)

// Handler executes one phase of work.
type Handler func(ctx context.Context, t Task) error

// InProcessClient runs tasks on goroutines inside the server process. It is
// the default broker for single-node deployments and the broker used in
// tests. Revocation is supported: queued delays are canceled outright and
// running handlers get their context canceled.
type InProcessClient struct {
	mu       sync.Mutex
	handlers map[Phase]Handler
	running  map[string]context.CancelFunc
	wg       sync.WaitGroup
}

var _ Client = (*InProcessClient)(nil)

func NewInProcessClient() *InProcessClient {
	return &InProcessClient{
		handlers: make(map[Phase]Handler),
		running:  make(map[string]context.CancelFunc),
	}
}

// Register installs the handler for a phase. Phases without a handler are
// still accepted by Submit; they belong to the external worker fleet.
func (c *InProcessClient) Register(phase Phase, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[phase] = h
}

func (c *InProcessClient) Submit(ctx context.Context, t Task) apperrors.Error {
	c.mu.Lock()
	h, ok := c.handlers[t.Phase]
	if !ok {
		c.mu.Unlock()
		// Accepted but not executed here: the record stays QUEUED until a
		// worker picks it up or the queued-timeout sweep fails it.
		log.Ctx(ctx).Debug().Str("task", t.Name).Str("phase", string(t.Phase)).Msg("no local handler, task left for workers")
		return nil
	}

	taskCtx, cancel := context.WithCancel(log.Ctx(ctx).WithContext(context.Background()))
	c.running[t.Name] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.running, t.Name)
			c.mu.Unlock()
			cancel()
		}()

		if t.Delay > 0 {
			select {
			case <-taskCtx.Done():
				return
			case <-time.After(t.Delay):
			}
		}
		if taskCtx.Err() != nil {
			return
		}

		if err := h(taskCtx, t); err != nil {
			log.Ctx(taskCtx).Error().Err(err).Str("task", t.Name).Msg("task failed")
		}
	}()

	return nil
}

func (c *InProcessClient) Revoke(ctx context.Context, name string) apperrors.Error {
	c.mu.Lock()
	cancel, ok := c.running[name]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (c *InProcessClient) Ping(ctx context.Context) apperrors.Error {
	return nil
}

// Wait blocks until every submitted task has finished. Used in tests and
// during shutdown.
func (c *InProcessClient) Wait() {
	c.wg.Wait()
}
