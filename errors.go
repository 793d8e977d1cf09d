package morph

import "fmt"

// RecipeNotFoundError is returned by a SourceLoader when a referenced
// morphology file does not exist in the named (repo, ref).
type RecipeNotFoundError struct {
	RepoName string
	Ref      string
	Filename string
}

func (e *RecipeNotFoundError) Error() string {
	return fmt.Sprintf("recipe not found: %s:%s:%s", e.RepoName, e.Ref, e.Filename)
}

// RecipeMalformedError is returned by a SourceLoader when a morphology
// file exists but fails to parse.
type RecipeMalformedError struct {
	RepoName string
	Ref      string
	Filename string
	Err      error
}

func (e *RecipeMalformedError) Error() string {
	return fmt.Sprintf("recipe malformed: %s:%s:%s: %s", e.RepoName, e.Ref, e.Filename, e.Err)
}

func (e *RecipeMalformedError) Unwrap() error { return e.Err }

// CrossRefKindMismatchError is raised by the CrossRefValidator when a
// stratum-slot or chunk-slot reference resolves to a Source of the wrong
// kind.
type CrossRefKindMismatchError struct {
	FromKind Kind
	FromName string
	RepoName string
	Ref      string
	Filename string
	Expected Kind
	Got      Kind
}

func (e *CrossRefKindMismatchError) Error() string {
	return fmt.Sprintf(
		"%s %s references %s:%s:%s which is a %s, instead of a %s",
		e.FromKind, e.FromName, e.RepoName, e.Ref, e.Filename, e.Got, e.Expected)
}

// ConflictingStrataError is raised by the CrossRefValidator when two
// distinct Sources both declare a stratum morphology with the same name.
type ConflictingStrataError struct {
	Name string
}

func (e *ConflictingStrataError) Error() string {
	return fmt.Sprintf(
		"conflicting versions of stratum %q appear in the build; "+
			"check the contents of the system against the build-depends of the strata", e.Name)
}

// UnsupportedRootKindError is raised by the BuildDriver when the resolved
// root artifact is not a system.
type UnsupportedRootKindError struct {
	Kind Kind
}

func (e *UnsupportedRootKindError) Error() string {
	return fmt.Sprintf("building a %s directly is not supported", e.Kind)
}

// NoRootsError and MultipleRootsError replace the reference
// implementation's bare assertion that exactly one root artifact exists
// (spec.md's "Open Questions": turn the assertion into a typed error).
type NoRootsError struct{}

func (e *NoRootsError) Error() string {
	return "artifact graph has no root artifact (every artifact has an incoming dependency edge)"
}

type MultipleRootsError struct {
	Names []string
}

func (e *MultipleRootsError) Error() string {
	return fmt.Sprintf("artifact graph has more than one root artifact: %v", e.Names)
}

// CycleError is raised during artifact resolution when the dependency
// graph contains a cycle. spec.md §9 asks implementations to detect and
// reject cycles during resolution rather than relying on walk() to
// terminate.
type CycleError struct {
	Names []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("artifact dependency cycle: %v", e.Names)
}

// SourceFetchFailedError wraps a failure to clone or fetch a repository
// during ensure_sources.
type SourceFetchFailedError struct {
	RepoName string
	Err      error
}

func (e *SourceFetchFailedError) Error() string {
	return fmt.Sprintf("failed to fetch sources for repo %s: %s", e.RepoName, e.Err)
}

func (e *SourceFetchFailedError) Unwrap() error { return e.Err }

// ArtifactFetchFailedError wraps a failure to stream an artifact from the
// remote cache into the local cache.
type ArtifactFetchFailedError struct {
	ArtifactName string
	Err          error
}

func (e *ArtifactFetchFailedError) Error() string {
	return fmt.Sprintf("failed to fetch artifact %s from remote cache: %s", e.ArtifactName, e.Err)
}

func (e *ArtifactFetchFailedError) Unwrap() error { return e.Err }

// BuildFailedError wraps a non-zero exit from the external Builder.
type BuildFailedError struct {
	ArtifactName string
	Err          error
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("build failed for %s: %s", e.ArtifactName, e.Err)
}

func (e *BuildFailedError) Unwrap() error { return e.Err }

// StagingSetupFailedError wraps a mid-installation failure in
// install_dependencies. The driver guarantees StagingArea.Abort runs
// before this error surfaces.
type StagingSetupFailedError struct {
	ArtifactName string
	Err          error
}

func (e *StagingSetupFailedError) Error() string {
	return fmt.Sprintf("staging setup failed for %s: %s", e.ArtifactName, e.Err)
}

func (e *StagingSetupFailedError) Unwrap() error { return e.Err }
