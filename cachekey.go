package morph

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// CacheID is the canonical, deterministic description of everything that
// feeds an artifact's build (spec.md §4.4). It is retained on the
// Artifact alongside the derived CacheKey for diagnostics.
//
// Go's encoding/json marshals struct fields in declaration order and map
// keys in sorted order, which is enough determinism on its own; there is
// no need for a second canonicalization pass the way a dynamically-typed
// implementation would require (see DESIGN.md).
type CacheID struct {
	MorphologyKind Kind   `json:"morphology_kind"`
	MorphologyName string `json:"morphology_name"`
	Morphology     json.RawMessage `json:"morphology"`

	SHA1     string `json:"sha1"`
	Filename string `json:"filename"`

	Arch string    `json:"arch"`
	Env  []envPair `json:"env"`

	// DependencyCacheKeys are in A.Dependencies order, which resolution
	// builds the same way for every resolution of an identical SourcePool
	// (spec.md §4.4: "dependency cache_key values in dependency order").
	DependencyCacheKeys []string `json:"dependency_cache_keys"`

	// BuildMode and Prefix are populated for chunk artifacts only.
	BuildMode string `json:"build_mode,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
}

// CacheKeyComputer derives CacheID/CacheKey pairs for every artifact in a
// resolved graph, under one shared BuildEnvironment (spec.md §4.4).
type CacheKeyComputer struct {
	Env *BuildEnvironment
}

// Compute assigns a's CacheID and CacheKey, deriving CacheKey as the
// hex-encoded SHA-1 of CacheID's canonical JSON encoding. It must be
// called in dependency order (i.e. over root.Walk()) so that every
// dependency already has a CacheKey assigned.
func (c CacheKeyComputer) Compute(a *Artifact) error {
	morphJSON, err := json.Marshal(a.Source.Morphology)
	if err != nil {
		return errors.Wrapf(err, "canonicalizing morphology for %s", a.Name)
	}

	deps := make([]string, len(a.Dependencies))
	for i, dep := range a.Dependencies {
		if dep.CacheKey == "" {
			return errors.Errorf("dependency %s of %s has no cache key; Compute must run in dependency order", dep.Name, a.Name)
		}
		deps[i] = dep.CacheKey
	}

	id := &CacheID{
		MorphologyKind:      a.Source.Morphology.Kind,
		MorphologyName:      a.Source.Morphology.Name,
		Morphology:          morphJSON,
		SHA1:                a.Source.ResolvedSHA1,
		Filename:            a.Source.Filename,
		Arch:                c.Env.Arch,
		Env:                 c.Env.sortedVars(),
		DependencyCacheKeys: deps,
	}
	if a.Source.Morphology.Kind == KindChunk {
		id.BuildMode = a.Source.BuildMode
		id.Prefix = a.Source.Prefix
	}

	canonical, err := json.Marshal(id)
	if err != nil {
		return errors.Wrapf(err, "canonicalizing cache_id for %s", a.Name)
	}

	sum := sha1.Sum(canonical)

	a.CacheID = id
	a.CacheKey = hex.EncodeToString(sum[:])
	return nil
}

// ComputeAll assigns cache_id/cache_key to every artifact reachable from
// root, in the dependency-first order Compute requires (spec.md §4.7:
// "for A in arts: (A.cache_id, A.cache_key) = CacheKeyComputer(env).compute(A)").
func (c CacheKeyComputer) ComputeAll(root *Artifact) error {
	for _, a := range root.Walk() {
		if err := c.Compute(a); err != nil {
			return err
		}
	}
	return nil
}
