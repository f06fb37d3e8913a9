package storecommon

// DefaultNamespace is the namespace created at startup and used when a
// specification does not name one.
const DefaultNamespace = "default"

// RoleName is a named authorization level bound to a namespace/environment
// pattern. Role semantics live in the auth package; this is the wire-level
// name carried in tokens and role mappings.
type RoleName string

const (
	RoleNameViewer RoleName = "viewer"
	RoleNameEditor RoleName = "editor"
	RoleNameAdmin  RoleName = "admin"
	// RoleNameDeveloper is a deprecated alias for editor, kept for older
	// clients and stored role mappings.
	RoleNameDeveloper RoleName = "developer"
)

// BuildStatus is the lifecycle state of a build.
type BuildStatus string

const (
	BuildQueued    BuildStatus = "QUEUED"
	BuildBuilding  BuildStatus = "BUILDING"
	BuildCompleted BuildStatus = "COMPLETED"
	BuildFailed    BuildStatus = "FAILED"
	BuildCanceled  BuildStatus = "CANCELED"
)

// ValidBuildStatus reports whether s is a known build status.
func ValidBuildStatus(s BuildStatus) bool {
	switch s {
	case BuildQueued, BuildBuilding, BuildCompleted, BuildFailed, BuildCanceled:
		return true
	}
	return false
}

// Terminal reports whether the status is a terminal state.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildCompleted, BuildFailed, BuildCanceled:
		return true
	}
	return false
}

// CanTransition reports whether a build may move from s to next.
// QUEUED -> BUILDING -> {COMPLETED, FAILED}; QUEUED and BUILDING may also
// move to CANCELED. Terminal states accept no transitions.
func (s BuildStatus) CanTransition(next BuildStatus) bool {
	switch s {
	case BuildQueued:
		return next == BuildBuilding || next == BuildFailed || next == BuildCanceled
	case BuildBuilding:
		return next == BuildCompleted || next == BuildFailed || next == BuildCanceled
	}
	return false
}

// BuildArtifactType classifies stored build outputs.
type BuildArtifactType string

const (
	ArtifactDirectory            BuildArtifactType = "DIRECTORY"
	ArtifactLockfile             BuildArtifactType = "LOCKFILE"
	ArtifactLogs                 BuildArtifactType = "LOGS"
	ArtifactYaml                 BuildArtifactType = "YAML"
	ArtifactCondaPack            BuildArtifactType = "CONDA_PACK"
	ArtifactDockerBlob           BuildArtifactType = "DOCKER_BLOB"
	ArtifactDockerManifest       BuildArtifactType = "DOCKER_MANIFEST"
	ArtifactContainerRegistry    BuildArtifactType = "CONTAINER_REGISTRY"
	ArtifactConstructorInstaller BuildArtifactType = "CONSTRUCTOR_INSTALLER"
)

// ValidArtifactType reports whether t is a known artifact type.
func ValidArtifactType(t BuildArtifactType) bool {
	switch t {
	case ArtifactDirectory, ArtifactLockfile, ArtifactLogs, ArtifactYaml,
		ArtifactCondaPack, ArtifactDockerBlob, ArtifactDockerManifest,
		ArtifactContainerRegistry, ArtifactConstructorInstaller:
		return true
	}
	return false
}
