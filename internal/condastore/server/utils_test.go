package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
	"github.com/peytondmurray/conda-store/internal/condastore/auth"
	"github.com/peytondmurray/conda-store/internal/condastore/buildmanager"
	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/storage"
	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
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

// recordingTaskClient stands in for the broker in API tests.
type recordingTaskClient struct {
	mu        sync.Mutex
	submitted []task.Task
	revoked   []string
}

func (c *recordingTaskClient) Submit(ctx context.Context, t task.Task) apperrors.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, t)
	return nil
}

func (c *recordingTaskClient) Revoke(ctx context.Context, name string) apperrors.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked = append(c.revoked, name)
	return nil
}

func (c *recordingTaskClient) Ping(ctx context.Context) apperrors.Error {
	return nil
}

type testServer struct {
	server *CondaStoreServer
	tasks  *recordingTaskClient
	ctx    context.Context
}

func newTestServer(t *testing.T) *testServer {
	ctx := newDb()
	t.Cleanup(func() {
		db.DB(ctx).Close(ctx)
	})

	store, err := storage.NewLocalStorage(t.TempDir(), "/api/v1/artifact")
	require.NoError(t, err)

	tasks := &recordingTaskClient{}
	s, goerr := CreateNewServer(buildmanager.NewManager(tasks, store))
	require.NoError(t, goerr)
	s.MountHandlers()

	return &testServer{server: s, tasks: tasks, ctx: ctx}
}

func (ts *testServer) execute(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.server.Router.ServeHTTP(rr, req)
	return rr
}

// adminToken mints a sitewide admin token for write operations in tests.
func adminToken(t *testing.T, ctx context.Context) string {
	entity := &storecommon.Entity{
		Principal:    "test-admin",
		RoleBindings: map[string]storecommon.RoleName{"*/*": storecommon.RoleNameAdmin},
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	token, _, err := auth.CreateToken(storecommon.WithEntity(ctx, entity), "test-admin",
		auth.Bindings{"*/*": storecommon.RoleNameAdmin}, 30*time.Minute)
	require.NoError(t, err)
	return token
}

func setRequestBody(t *testing.T, req *http.Request, data any) {
	var jsonData []byte
	if s, ok := data.(string); ok && json.Valid([]byte(s)) {
		jsonData = []byte(s)
	} else {
		var err error
		jsonData, err = json.Marshal(data)
		require.NoError(t, err)
	}
	req.Body = io.NopCloser(bytes.NewReader(jsonData))
	req.ContentLength = int64(len(jsonData))
	req.Header.Set("Content-Type", "application/json")
}

// decodeData unmarshals the "data" member of the response envelope into out.
func decodeData(t *testing.T, body []byte, out any) {
	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.Equal(t, "ok", envelope.Status)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}
