package models

import (
	"time"
)

/*
   Column   |           Type           | Collation | Nullable | Default
------------+--------------------------+-----------+----------+---------
 prefix     | character varying(255)   |           | not null |
 key        | character varying(255)   |           | not null |
 value      | jsonb                    |           | not null |
 created_at | timestamp with time zone |           |          | now()
 updated_at | timestamp with time zone |           |          | now()
Indexes:
    "keyvaluestore_pkey" PRIMARY KEY, btree (prefix, key)
*/

// KeyValue is one entry of the hierarchical settings store. Prefix is a
// '/'-delimited scope ("setting", "setting/team", "setting/team/env1");
// Value is a JSON document.
type KeyValue struct {
	Prefix    string    `db:"prefix"`
	Key       string    `db:"key"`
	Value     []byte    `db:"value"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
