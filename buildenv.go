package morph

import "sort"

// BuildEnvironment is the target architecture plus the environment
// variables that influence every build in a run (spec.md §3, §4.4). It is
// constructed once, from the root system artifact's arch, and shared
// read-only by every artifact's cache_id.
type BuildEnvironment struct {
	Arch string
	Vars map[string]string
}

// NewBuildEnvironment returns a BuildEnvironment for the given
// architecture with no extra variables. Callers add to Vars before the
// first CacheKeyComputer.Compute call; BuildEnvironment is immutable once
// artifacts start being built (spec.md §3 lifecycle).
func NewBuildEnvironment(arch string) *BuildEnvironment {
	return &BuildEnvironment{Arch: arch, Vars: map[string]string{}}
}

// sortedVars returns env's variables as deterministically ordered pairs,
// for inclusion in a cache_id (spec.md §4.4: "the full BuildEnvironment
// ... deterministically ordered").
func (env *BuildEnvironment) sortedVars() []envPair {
	if env == nil {
		return nil
	}
	pairs := make([]envPair, 0, len(env.Vars))
	for k, v := range env.Vars {
		pairs = append(pairs, envPair{Key: k, Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs
}

type envPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
