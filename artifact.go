package morph

// Artifact is a buildable output produced from one Source (spec.md §3).
type Artifact struct {
	Name         string
	Source       *Source
	Dependencies []*Artifact

	CacheKey string
	CacheID  *CacheID

	BuildEnv *BuildEnvironment

	// StratumName is the name of the stratum morphology that owns this
	// chunk artifact. It is the exact replacement for the reference
	// implementation's "compare the count of stratum dependencies"
	// heuristic discussed in spec.md §9; see DESIGN.md. Empty for stratum
	// and system artifacts.
	StratumName string
}

func (a *Artifact) String() string {
	return a.Name + "@" + a.Source.String()
}

// addDependency appends dep to a's dependency list, preserving ordered-set
// semantics (spec.md §3: "dependencies: ordered-set<Artifact>").
func (a *Artifact) addDependency(dep *Artifact) {
	for _, d := range a.Dependencies {
		if d == dep {
			return
		}
	}
	a.Dependencies = append(a.Dependencies, dep)
}

// Walk returns a's dependency-closure in a valid topological order:
// dependencies before dependents, ties broken by the order dependencies
// were added during resolution (spec.md §3, §5). The artifact itself is
// the last element.
func (a *Artifact) Walk() []*Artifact {
	visited := make(map[*Artifact]bool)
	var order []*Artifact

	var visit func(*Artifact)
	visit = func(n *Artifact) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, dep := range n.Dependencies {
			visit(dep)
		}
		order = append(order, n)
	}
	visit(a)

	return order
}

// DependencyPrefixes returns the distinct install prefixes of a's chunk
// dependencies, used to build a chunk's extra_path (spec.md §4.7,
// "get_dependency_prefix_set").
func (a *Artifact) DependencyPrefixes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, dep := range a.Dependencies {
		if dep.Source.Morphology.Kind != KindChunk {
			continue
		}
		if dep.Source.Prefix == "" || seen[dep.Source.Prefix] {
			continue
		}
		seen[dep.Source.Prefix] = true
		out = append(out, dep.Source.Prefix)
	}
	return out
}
