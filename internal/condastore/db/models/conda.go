package models

import (
	"database/sql"
	"time"
)

/*
 conda_channels: id bigserial PK, name varchar(255) UNIQUE not null, last_update timestamptz
 conda_packages: id bigserial PK, channel_id bigint FK conda_channels not null,
                 name varchar(255) not null, version varchar(64) not null,
                 license text, summary text,
                 UNIQUE (channel_id, name, version)
 conda_package_builds: id bigserial PK, package_id bigint FK conda_packages not null,
                 build varchar(255) not null, build_number int not null default 0,
                 sha256 varchar(64) not null, md5 varchar(32), size bigint not null default 0,
                 subdir varchar(64),
                 UNIQUE (package_id, build, sha256)
 build_conda_package_builds: build_id bigint FK builds ON DELETE CASCADE,
                 conda_package_build_id bigint FK conda_package_builds,
                 PRIMARY KEY (build_id, conda_package_build_id)
 solve_conda_package_builds: solve_id bigint FK solves ON DELETE CASCADE,
                 conda_package_build_id bigint FK conda_package_builds,
                 PRIMARY KEY (solve_id, conda_package_build_id)
*/

type CondaChannel struct {
	ID         int64        `db:"id"`
	Name       string       `db:"name"`
	LastUpdate sql.NullTime `db:"last_update"`
}

type CondaPackage struct {
	ID        int64          `db:"id"`
	ChannelID int64          `db:"channel_id"`
	Name      string         `db:"name"`
	Version   string         `db:"version"`
	License   sql.NullString `db:"license"`
	Summary   sql.NullString `db:"summary"`
	Channel   string         `db:"-"`
}

type CondaPackageBuild struct {
	ID          int64          `db:"id"`
	PackageID   int64          `db:"package_id"`
	Build       string         `db:"build"`
	BuildNumber int            `db:"build_number"`
	SHA256      string         `db:"sha256"`
	MD5         sql.NullString `db:"md5"`
	Size        int64          `db:"size"`
	Subdir      sql.NullString `db:"subdir"`
	// Joined package fields for listings.
	Name    string `db:"-"`
	Version string `db:"-"`
	Channel string `db:"-"`
}

/*
 solves: id bigserial PK, specification_id bigint FK specifications not null,
         scheduled_on timestamptz default now(), started_on timestamptz, ended_on timestamptz
 Indexes: "solves_specification_id_idx" btree (specification_id)
*/

type Solve struct {
	ID              int64        `db:"id"`
	SpecificationID int64        `db:"specification_id"`
	ScheduledOn     time.Time    `db:"scheduled_on"`
	StartedOn       sql.NullTime `db:"started_on"`
	EndedOn         sql.NullTime `db:"ended_on"`
}

// PackageFilter narrows package catalog listings.
type PackageFilter struct {
	Search  string
	Channel string
	BuildID int64
}
