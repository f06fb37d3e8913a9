package models

import (
	"database/sql"
	"time"

	"github.com/jackc/pgtype"
)

/*
   Column    |           Type           | Collation | Nullable |                Default
-------------+--------------------------+-----------+----------+----------------------------------------
 id          | bigint                   |           | not null | nextval('namespaces_id_seq'::regclass)
 name        | character varying(255)   |           | not null |
 metadata    | jsonb                    |           |          |
 created_at  | timestamp with time zone |           |          | now()
 updated_at  | timestamp with time zone |           |          | now()
 deleted_at  | timestamp with time zone |           |          |
Indexes:
    "namespaces_pkey" PRIMARY KEY, btree (id)
    "namespaces_name_live_key" UNIQUE, btree (name) WHERE deleted_at IS NULL
Check constraints:
    "namespaces_name_check" CHECK (name::text ~ '^[A-Za-z0-9_-]+$'::text)
*/

type Namespace struct {
	ID        int64        `db:"id"`
	Name      string       `db:"name"`
	Metadata  pgtype.JSONB `db:"metadata"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
	DeletedAt sql.NullTime `db:"deleted_at"`
}

/*
     Column      |           Type           | Collation | Nullable |                      Default
-----------------+--------------------------+-----------+----------+----------------------------------------------------
 id              | bigint                   |           | not null | nextval('namespace_role_mappings_id_seq'::regclass)
 namespace_id    | bigint                   |           | not null |
 other_namespace | character varying(255)   |           | not null |
 role            | character varying(32)    |           | not null |
 created_at      | timestamp with time zone |           |          | now()
 updated_at      | timestamp with time zone |           |          | now()
Indexes:
    "namespace_role_mappings_pkey" PRIMARY KEY, btree (id)
    "namespace_role_mappings_pair_key" UNIQUE, btree (namespace_id, other_namespace)
Foreign-key constraints:
    "namespace_role_mappings_namespace_id_fkey" FOREIGN KEY (namespace_id) REFERENCES namespaces(id) ON DELETE CASCADE
*/

// NamespaceUsage aggregates per-namespace consumption for the usage API:
// live environments, total builds, and bytes of completed builds.
type NamespaceUsage struct {
	Namespace        string `db:"name"`
	EnvironmentCount int64  `db:"environment_count"`
	BuildCount       int64  `db:"build_count"`
	StorageBytes     int64  `db:"storage_bytes"`
}

type NamespaceRoleMapping struct {
	ID             int64     `db:"id"`
	NamespaceID    int64     `db:"namespace_id"`
	OtherNamespace string    `db:"other_namespace"`
	Role           string    `db:"role"`
	Namespace      string    `db:"-"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}
