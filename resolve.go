package morph

import (
	"github.com/pmengelbert/stack"
	"k8s.io/apimachinery/pkg/util/sets"
)

// ArtifactResolver builds the full Artifact set from a SourcePool
// (spec.md §4.3).
type ArtifactResolver struct{}

// Resolve returns the unique root artifact of pool's artifact DAG.
func (ArtifactResolver) Resolve(pool *SourcePool) (*Artifact, error) {
	chunks := map[SourceIdentity]*Artifact{}
	strata := map[SourceIdentity]*Artifact{}
	var systemArtifacts []*Artifact

	getChunk := func(src *Source) *Artifact {
		id := src.Identity()
		if a, ok := chunks[id]; ok {
			return a
		}
		a := &Artifact{Name: src.Morphology.Name, Source: src}
		chunks[id] = a
		return a
	}
	getStratum := func(src *Source) *Artifact {
		id := src.Identity()
		if a, ok := strata[id]; ok {
			return a
		}
		a := &Artifact{Name: src.Morphology.Name, Source: src}
		strata[id] = a
		return a
	}

	for _, src := range pool.Sources() {
		switch src.Morphology.Kind {
		case KindSystem:
			sysArt := &Artifact{Name: src.Morphology.Name, Source: src}
			systemArtifacts = append(systemArtifacts, sysArt)
			for _, s := range src.Morphology.Strata {
				stratumSrc, ok := resolveRef(pool, src, s.RefSpec)
				if !ok {
					return nil, &RecipeNotFoundError{RepoName: s.Repo, Ref: s.Ref, Filename: s.Filename()}
				}
				sysArt.addDependency(getStratum(stratumSrc))
			}

		case KindStratum:
			stratumArt := getStratum(src)

			var buildDepArtifacts []*Artifact
			for _, bd := range src.Morphology.BuildDepends {
				depSrc, ok := resolveRef(pool, src, bd.RefSpec)
				if !ok {
					return nil, &RecipeNotFoundError{RepoName: bd.Repo, Ref: bd.Ref, Filename: bd.Filename()}
				}
				depArt := getStratum(depSrc)
				stratumArt.addDependency(depArt)
				buildDepArtifacts = append(buildDepArtifacts, depArt)
			}

			var prevChunk *Artifact
			for _, cs := range src.Morphology.Chunks {
				chunkSrc, ok := resolveRef(pool, src, cs.RefSpec)
				if !ok {
					return nil, &RecipeNotFoundError{RepoName: cs.Repo, Ref: cs.Ref, Filename: cs.Filename()}
				}
				chunkArt := getChunk(chunkSrc)
				if chunkArt.StratumName == "" {
					chunkArt.StratumName = src.Morphology.Name
				}

				stratumArt.addDependency(chunkArt)

				// Sequential build order within the stratum (spec.md §4.3).
				if prevChunk != nil {
					chunkArt.addDependency(prevChunk)
				}
				for _, dep := range buildDepArtifacts {
					chunkArt.addDependency(dep)
				}
				prevChunk = chunkArt
			}
		}
	}

	all := make([]*Artifact, 0, len(chunks)+len(strata)+len(systemArtifacts))
	for _, a := range chunks {
		all = append(all, a)
	}
	for _, a := range strata {
		all = append(all, a)
	}
	all = append(all, systemArtifacts...)

	if err := detectCycles(all); err != nil {
		return nil, err
	}

	return findRoot(all)
}

// resolveRef looks up the Source a RefSpec names, inheriting repo/ref from
// parent the same way the SourceLoader does.
func resolveRef(pool *SourcePool, parent *Source, r RefSpec) (*Source, bool) {
	repoName := r.Repo
	if repoName == "" {
		repoName = parent.RepoName
	}
	ref := r.Ref
	if ref == "" {
		ref = parent.OriginalRef
	}
	return pool.Lookup(repoName, ref, r.Filename())
}

func findRoot(all []*Artifact) (*Artifact, error) {
	candidates := sets.New[*Artifact](all...)
	for _, a := range all {
		for _, dep := range a.Dependencies {
			candidates.Delete(dep)
		}
	}

	list := candidates.UnsortedList()
	switch len(list) {
	case 0:
		return nil, &NoRootsError{}
	case 1:
		return list[0], nil
	default:
		names := make([]string, len(list))
		for i, a := range list {
			names[i] = a.Name
		}
		return nil, &MultipleRootsError{Names: names}
	}
}

// detectCycles rejects any artifact graph containing a strongly connected
// component of size greater than one, using Tarjan's algorithm (ported
// from the teacher's graph.go topSort/verify, grounded on
// https://en.wikipedia.org/wiki/Tarjan%27s_strongly_connected_components_algorithm).
// spec.md §9 asks for cycles to be rejected during resolution rather than
// relying on Walk to terminate.
func detectCycles(all []*Artifact) error {
	type node struct {
		index   *int
		lowlink int
		onStack bool
	}

	state := make(map[*Artifact]*node, len(all))
	for _, a := range all {
		state[a] = &node{}
	}

	index := 0
	s := stack.New[*Artifact]()
	var sccs [][]*Artifact

	var strongConnect func(v *Artifact)
	strongConnect = func(v *Artifact) {
		vn := state[v]
		i := index
		vn.index = &i
		vn.lowlink = i
		index++

		s.Push(v)
		vn.onStack = true

		for _, w := range v.Dependencies {
			wn := state[w]
			if wn.index == nil {
				strongConnect(w)
				if wn.lowlink < vn.lowlink {
					vn.lowlink = wn.lowlink
				}
			} else if wn.onStack && *wn.index < vn.lowlink {
				vn.lowlink = *wn.index
			}
		}

		if vn.lowlink == *vn.index {
			var component []*Artifact
			for {
				opt := s.Pop()
				if !opt.IsSome() {
					break
				}
				w := opt.Unwrap()
				state[w].onStack = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, component)
		}
	}

	for _, a := range all {
		if state[a].index == nil {
			strongConnect(a)
		}
	}

	for _, c := range sccs {
		if len(c) > 1 {
			names := make([]string, len(c))
			for i, a := range c {
				names[i] = a.Name
			}
			return &CycleError{Names: names}
		}
	}
	return nil
}
