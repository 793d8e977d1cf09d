package morph

import (
	"context"
	"io"
)

// Repo is a single cached git repository, addressed by content rather than
// by branch state. It is an external collaborator: spec.md §1 places raw
// git operations out of scope, §6 names the operations the driver needs.
type Repo interface {
	// URL is the resolved fetch URL of the repository (after repo-alias
	// expansion), used when recursing into submodules.
	URL() string

	// ReadFile returns the contents of filename as it exists at sha1.
	// Returns a *RecipeNotFoundError if the file does not exist at that
	// commit.
	ReadFile(ctx context.Context, sha1, filename string) ([]byte, error)

	// ResolveRef resolves ref (a branch, tag, or commit-ish) to an
	// absolute sha1. It must not perform network I/O: callers that want a
	// refreshed view call Update first.
	ResolveRef(ctx context.Context, ref string) (string, error)

	// Update fetches new history from the remote.
	Update(ctx context.Context) error

	// CacheSubmodules recursively ensures that every submodule reachable
	// from sha1 is cloned into the same RepoCache. done tracks repo URLs
	// already visited during this call, to avoid infinite recursion on
	// circular submodule references.
	CacheSubmodules(ctx context.Context, sha1 string, done map[string]bool) error
}

// RepoCache is the local git cache the SourceLoader and ensure_sources
// read from (spec.md §6). Implementations may consult a remote mirror
// transparently; from the core's point of view there is one RepoCache.
type RepoCache interface {
	HasRepo(repoName string) bool
	GetRepo(repoName string) (Repo, error)
	CacheRepo(ctx context.Context, repoName string) (Repo, error)
}

// ArtifactCache stores and retrieves built artifact blobs by cache key,
// plus parallel sidecar metadata blobs (spec.md §4.5).
type ArtifactCache interface {
	Has(a *Artifact) bool
	Get(a *Artifact) (io.ReadCloser, error)
	Put(a *Artifact) (io.WriteCloser, error)

	HasArtifactMetadata(a *Artifact, kind string) bool
	GetArtifactMetadata(a *Artifact, kind string) (io.ReadCloser, error)
	PutArtifactMetadata(a *Artifact, kind string) (io.WriteCloser, error)

	// ArtifactFilename returns the local filesystem location of a's blob,
	// for display and for read-only consumers (spec.md §6).
	ArtifactFilename(a *Artifact) string
}

// StagingArea is a temporary build root scoped to one artifact build
// (spec.md §4.6).
type StagingArea interface {
	// Dir is the filesystem path of the staging root.
	Dir() string

	// InstallArtifact unpacks a chunk artifact blob into the area.
	InstallArtifact(r io.Reader) error

	// Abort tears the area down after a mid-setup failure.
	Abort() error

	// Remove tears the area down after normal completion.
	Remove() error
}

// StagingAreaOptions configures a new StagingArea (spec.md §4.6 table).
type StagingAreaOptions struct {
	UseChroot bool
	ExtraEnv  map[string]string
	ExtraPath []string
}

// StagingAreaFactory creates staging areas. It is the core's only handle
// on the filesystem layout described in spec.md §9
// ("{tempdir}/staging/<random>").
type StagingAreaFactory interface {
	Create(ctx context.Context, env *BuildEnvironment, opts StagingAreaOptions) (StagingArea, error)
}

// Builder runs the actual configure/build/install sequence for an
// artifact inside a staging area and writes the result through the local
// artifact cache. It is the one piece of the system spec.md explicitly
// assumes is a library (§1, §6).
type Builder interface {
	BuildAndCache(ctx context.Context, area StagingArea, a *Artifact, setupMounts bool) error
}

// Ldconfig refreshes the dynamic linker cache inside a staging area's
// root. Named directly in spec.md §6 as an external collaborator.
type Ldconfig func(ctx context.Context, stagingRoot string) error

// MinDiskSizeSetter is implemented by StagingAreaFactory backends that
// can reject area creation ahead of time when free space is short of a
// system morphology's disk-size (spec.md's distillation dropped
// disk-size; see SPEC_FULL.md). Optional: a factory that doesn't
// implement it is simply never disk-space-checked.
type MinDiskSizeSetter interface {
	SetMinDiskSize(diskSize string)
}
