package postgresql

import (
	"context"
	"database/sql"

	"github.com/peytondmurray/conda-store/internal/condastore/db/dbmanager"
)

// Metadata Manager: namespaces, role mappings, environments, specifications,
// settings key-value store.
type metadataManager struct {
	c dbmanager.Conn
}

func (mm *metadataManager) conn() *sql.Conn {
	return mm.c.Conn()
}

func newMetadataManager(c dbmanager.Conn) *metadataManager {
	return &metadataManager{c: c}
}

// Build Manager: builds, artifacts, solves, conda package catalog.
type buildManager struct {
	c dbmanager.Conn
}

func (bm *buildManager) conn() *sql.Conn {
	return bm.c.Conn()
}

func newBuildManager(c dbmanager.Conn) *buildManager {
	return &buildManager{c: c}
}

// Connection Manager
type connectionManager struct {
	c dbmanager.Conn
}

func newConnectionManager(c dbmanager.Conn) *connectionManager {
	return &connectionManager{c: c}
}

func (cm *connectionManager) Close(ctx context.Context) {
	cm.c.Close(ctx)
}

// NewCondaStoreDb wires the three managers over a single checked-out
// connection.
func NewCondaStoreDb(c dbmanager.Conn) (*metadataManager, *buildManager, *connectionManager) {
	return newMetadataManager(c), newBuildManager(c), newConnectionManager(c)
}
