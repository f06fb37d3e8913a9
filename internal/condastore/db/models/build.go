package models

import (
	"database/sql"
	"time"

	"github.com/jackc/pgtype"

	"github.com/peytondmurray/conda-store/internal/condastore/storecommon"
)

/*
      Column      |           Type           | Collation | Nullable |                   Default
------------------+--------------------------+-----------+----------+--------------------------------------------
 id               | bigint                   |           | not null | nextval('specifications_id_seq'::regclass)
 name             | character varying(255)   |           | not null |
 spec             | jsonb                    |           | not null |
 sha256           | character varying(64)    |           | not null |
 created_at       | timestamp with time zone |           |          | now()
Indexes:
    "specifications_pkey" PRIMARY KEY, btree (id)
    "specifications_sha256_idx" btree (sha256)
*/

type Specification struct {
	ID        int64        `db:"id"`
	Name      string       `db:"name"`
	Spec      pgtype.JSONB `db:"spec"`
	SHA256    string       `db:"sha256"`
	CreatedAt time.Time    `db:"created_at"`
}

/*
      Column       |           Type           | Collation | Nullable |               Default
-------------------+--------------------------+-----------+----------+-------------------------------------
 id                | bigint                   |           | not null | nextval('builds_id_seq'::regclass)
 environment_id    | bigint                   |           | not null |
 specification_id  | bigint                   |           | not null |
 status            | character varying(16)    |           | not null | 'QUEUED'
 status_info       | text                     |           |          |
 size              | bigint                   |           | not null | 0
 is_canceled       | boolean                  |           | not null | false
 scheduled_on      | timestamp with time zone |           |          | now()
 started_on        | timestamp with time zone |           |          |
 ended_on          | timestamp with time zone |           |          |
Indexes:
    "builds_pkey" PRIMARY KEY, btree (id)
    "builds_environment_id_idx" btree (environment_id)
Foreign-key constraints:
    "builds_environment_id_fkey" FOREIGN KEY (environment_id) REFERENCES environments(id) ON DELETE CASCADE
    "builds_specification_id_fkey" FOREIGN KEY (specification_id) REFERENCES specifications(id)
*/

type Build struct {
	ID              int64                   `db:"id"`
	EnvironmentID   int64                   `db:"environment_id"`
	SpecificationID int64                   `db:"specification_id"`
	Status          storecommon.BuildStatus `db:"status"`
	StatusInfo      sql.NullString          `db:"status_info"`
	Size            int64                   `db:"size"`
	IsCanceled      bool                    `db:"is_canceled"`
	ScheduledOn     time.Time               `db:"scheduled_on"`
	StartedOn       sql.NullTime            `db:"started_on"`
	EndedOn         sql.NullTime            `db:"ended_on"`
	// Joined names for path computation and API responses.
	Namespace   string `db:"-"`
	Environment string `db:"-"`
	SpecSHA256  string `db:"-"`
}

/*
    Column     |         Type          | Collation | Nullable |                   Default
---------------+-----------------------+-----------+----------+----------------------------------------------
 id            | bigint                |           | not null | nextval('build_artifacts_id_seq'::regclass)
 build_id      | bigint                |           | not null |
 artifact_type | character varying(32) |           | not null |
 key           | character varying(1024)|          | not null | ''
Indexes:
    "build_artifacts_pkey" PRIMARY KEY, btree (id)
    "build_artifacts_build_id_idx" btree (build_id)
Foreign-key constraints:
    "build_artifacts_build_id_fkey" FOREIGN KEY (build_id) REFERENCES builds(id) ON DELETE CASCADE
*/

// BuildArtifact ties one stored output to a build. A LOCKFILE artifact with
// an empty key marks a legacy build whose lockfile is reconstructed from the
// stored specification instead of fetched from the blob store.
type BuildArtifact struct {
	ID           int64                         `db:"id"`
	BuildID      int64                         `db:"build_id"`
	ArtifactType storecommon.BuildArtifactType `db:"artifact_type"`
	Key          string                        `db:"key"`
}

// BuildFilter narrows build listings.
type BuildFilter struct {
	Status        string
	EnvironmentID int64
	Patterns      []ArnPattern
}
