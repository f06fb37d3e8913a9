package models

import (
	"database/sql"
	"time"
)

/*
      Column      |           Type           | Collation | Nullable |                 Default
------------------+--------------------------+-----------+----------+------------------------------------------
 id               | bigint                   |           | not null | nextval('environments_id_seq'::regclass)
 namespace_id     | bigint                   |           | not null |
 name             | character varying(255)   |           | not null |
 description      | text                     |           |          |
 current_build_id | bigint                   |           |          |
 created_at       | timestamp with time zone |           |          | now()
 updated_at       | timestamp with time zone |           |          | now()
 deleted_at       | timestamp with time zone |           |          |
Indexes:
    "environments_pkey" PRIMARY KEY, btree (id)
    "environments_namespace_name_live_key" UNIQUE, btree (namespace_id, name) WHERE deleted_at IS NULL
Check constraints:
    "environments_name_check" CHECK (name::text ~ '^[A-Za-z0-9_-]+$'::text)
Foreign-key constraints:
    "environments_namespace_id_fkey" FOREIGN KEY (namespace_id) REFERENCES namespaces(id) ON DELETE CASCADE
    "environments_current_build_id_fkey" FOREIGN KEY (current_build_id) REFERENCES builds(id) ON DELETE SET NULL
*/

type Environment struct {
	ID             int64          `db:"id"`
	NamespaceID    int64          `db:"namespace_id"`
	Name           string         `db:"name"`
	Description    sql.NullString `db:"description"`
	CurrentBuildID sql.NullInt64  `db:"current_build_id"`
	Namespace      string         `db:"-"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	DeletedAt      sql.NullTime   `db:"deleted_at"`
}

// ArnPattern is one visibility pattern pushed into listing queries. Each
// segment is a literal or "*"; an empty Environment matches any environment
// (namespace-level binding).
type ArnPattern struct {
	Namespace   string
	Environment string
}

// EnvironmentFilter narrows environment listings. Patterns carries the
// caller's visibility; an empty Patterns slice yields no rows.
type EnvironmentFilter struct {
	// Search matches a substring of "namespace/name".
	Search string
	// Namespace and Name match exactly when non-empty.
	Namespace string
	Name      string
	// Status restricts to environments whose current build has this status.
	Status string
	// Packages restricts to environments whose current build contains all
	// named packages.
	Packages []string
	// Artifact restricts to environments whose current build registered an
	// artifact of this type.
	Artifact string
	// Patterns is the caller's visibility set.
	Patterns []ArnPattern
}
