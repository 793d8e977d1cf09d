package morph

import (
	"fmt"

	"github.com/containerd/platforms"
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// Kind identifies which of the three morphology shapes a recipe declares.
type Kind string

const (
	KindChunk   Kind = "chunk"
	KindStratum Kind = "stratum"
	KindSystem  Kind = "system"
)

func (k Kind) valid() bool {
	switch k {
	case KindChunk, KindStratum, KindSystem:
		return true
	default:
		return false
	}
}

// Known chunk build modes. An unrecognized mode is not a parse error: the
// BuildDriver logs a warning and treats it as "staging" (spec.md §7,
// "Unknown chunk build_mode").
const (
	BuildModeBootstrap = "bootstrap"
	BuildModeStaging   = "staging"
	BuildModeTest      = "test"
)

// RefSpec names a morphology by (repo, ref, morph-basename). Repo and Ref
// may be empty, in which case they are inherited from the referencing
// Source (spec.md §4.1).
type RefSpec struct {
	Repo  string `json:"repo,omitempty" yaml:"repo,omitempty"`
	Ref   string `json:"ref,omitempty" yaml:"ref,omitempty"`
	Morph string `json:"morph" yaml:"morph"`
}

// Filename returns the morphology filename this spec refers to.
func (r RefSpec) Filename() string {
	return r.Morph + ".morph"
}

// StratumSpec is an entry in a system morphology's "strata" list.
type StratumSpec struct {
	RefSpec `yaml:",inline"`
}

// ChunkSpec is an entry in a stratum morphology's "chunks" list.
type ChunkSpec struct {
	RefSpec   `yaml:",inline"`
	BuildMode string `json:"build-mode,omitempty" yaml:"build-mode,omitempty"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// BuildDependSpec is an entry in a stratum morphology's "build-depends"
// list: another stratum that must be built (and, where relevant,
// installed) before this stratum's chunks.
type BuildDependSpec struct {
	RefSpec `yaml:",inline"`
}

// Morphology is a parsed declarative recipe. See spec.md §3.
type Morphology struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`

	// Arch is meaningful for systems only.
	Arch string `json:"arch,omitempty" yaml:"arch,omitempty"`

	// Description and DiskSize are carried from the original morph tool
	// (original_source/morphlib/builder.py's prepare_binary_metadata and
	// build_system) though spec.md's distillation dropped them; Non-goals
	// do not exclude them. DiskSize applies to systems only.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	DiskSize    string `json:"disk-size,omitempty" yaml:"disk-size,omitempty"`

	// Strata is meaningful for systems only.
	Strata []StratumSpec `json:"strata,omitempty" yaml:"strata,omitempty"`

	// Chunks and BuildDepends are meaningful for strata only.
	Chunks       []ChunkSpec       `json:"chunks,omitempty" yaml:"chunks,omitempty"`
	BuildDepends []BuildDependSpec `json:"build-depends,omitempty" yaml:"build-depends,omitempty"`

	// The four command lists are meaningful for chunks only.
	ConfigureCommands []string `json:"configure-commands,omitempty" yaml:"configure-commands,omitempty"`
	BuildCommands     []string `json:"build-commands,omitempty" yaml:"build-commands,omitempty"`
	TestCommands      []string `json:"test-commands,omitempty" yaml:"test-commands,omitempty"`
	InstallCommands   []string `json:"install-commands,omitempty" yaml:"install-commands,omitempty"`

	// MaxJobs overrides the global max-jobs setting for this chunk only.
	MaxJobs *int `json:"max-jobs,omitempty" yaml:"max-jobs,omitempty"`

	// NeedsArtifactMetadataCached mirrors spec.md §3: when true, the
	// artifact cache must mirror a sidecar metadata blob alongside this
	// morphology's built artifact.
	NeedsArtifactMetadataCached bool `json:"needs-artifact-metadata-cached,omitempty" yaml:"needs-artifact-metadata-cached,omitempty"`
}

// ParseMorphology parses a single morphology document. It mirrors the
// teacher's LoadSpec: strict decoding so unknown fields are a parse error
// rather than being silently dropped.
func ParseMorphology(filename string, data []byte) (*Morphology, error) {
	var m Morphology
	if err := yaml.UnmarshalWithOptions(data, &m, yaml.Strict()); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", filename)
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrapf(err, "validating %s", filename)
	}
	m.FillDefaults()
	return &m, nil
}

// Validate checks structural invariants that are cheap to verify without
// consulting the SourcePool (cross-recipe checks are CrossRefValidator's
// job, §4.2).
func (m Morphology) Validate() error {
	if !m.Kind.valid() {
		return fmt.Errorf("unknown morphology kind %q", m.Kind)
	}
	if m.Name == "" {
		return fmt.Errorf("morphology has no name")
	}

	switch m.Kind {
	case KindSystem:
		if m.Arch == "" {
			return fmt.Errorf("system %q has no arch", m.Name)
		}
		if len(m.Strata) == 0 {
			return fmt.Errorf("system %q has no strata", m.Name)
		}
	case KindStratum:
		for i, c := range m.Chunks {
			if c.Morph == "" {
				return fmt.Errorf("stratum %q: chunk %d has no morph name", m.Name, i)
			}
		}
	case KindChunk:
		if len(m.InstallCommands) == 0 {
			return fmt.Errorf("chunk %q has no install-commands", m.Name)
		}
	}
	return nil
}

// FillDefaults normalizes optional fields so that two morphologies which
// differ only in omitted-vs-explicit defaults produce the same cache_id.
func (m *Morphology) FillDefaults() {
	for i := range m.Chunks {
		if m.Chunks[i].BuildMode == "" {
			m.Chunks[i].BuildMode = BuildModeStaging
		}
	}
	if m.Kind == KindSystem {
		m.Arch = normalizeArch(m.Arch)
	}
}

// normalizeArch canonicalizes a system's architecture string through
// containerd's platform-matching rules (e.g. "x86-64" and "amd64"
// collapse to the same normalized architecture), so that two systems
// differing only in arch spelling produce the same cache_id. Strings
// containerd/platforms doesn't recognize are lowercased and otherwise
// passed through rather than rejected: morph's arch vocabulary predates OCI platform
// strings and this is a best-effort canonicalization, not validation.
func normalizeArch(arch string) string {
	if arch == "" {
		return arch
	}
	normalized := platforms.Normalize(specs.Platform{OS: "linux", Architecture: arch})
	if normalized.Architecture == "" {
		return arch
	}
	return normalized.Architecture
}
