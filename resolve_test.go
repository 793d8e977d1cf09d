package morph

import (
	"context"
	"testing"
)

func TestResolveLinearChain(t *testing.T) {
	cache := singleRepoFixture(t)
	pool, err := (&SourceLoader{Repos: cache}).Load(context.Background(), Triple{RepoName: "myrepo", Ref: "master", Filename: "system.morph"})
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := ValidateCrossReferences(pool); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}

	root, err := (ArtifactResolver{}).Resolve(pool)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if root.Name != "s" {
		t.Fatalf("expected root artifact 's', got %q", root.Name)
	}

	order := root.Walk()
	if len(order) != 3 {
		t.Fatalf("expected 3 artifacts in walk order, got %d", len(order))
	}
	names := []string{order[0].Name, order[1].Name, order[2].Name}
	want := []string{"c", "t", "s"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("walk order = %v, want %v", names, want)
		}
	}

	if order[0].StratumName != "t" {
		t.Errorf("expected chunk c's StratumName to be 't', got %q", order[0].StratumName)
	}
}

func TestResolveRootMustBeUnique(t *testing.T) {
	// A pool with two disconnected systems has two roots.
	repo := newFakeRepo("myrepo")
	repo.addFile("master", "sha1abc", "system.morph", []byte(systemMorph))
	repo.addFile("master", "sha1abc", "t.morph", []byte(stratumMorph))
	repo.addFile("master", "sha1abc", "c.morph", []byte(chunkMorph))
	repo.addFile("master", "sha1abc", "system2.morph", []byte(`
kind: system
name: s2
arch: x86_64
strata:
  - morph: t
`))

	cache := newFakeRepoCache()
	cache.add(repo)

	pool, err := (&SourceLoader{Repos: cache}).Load(context.Background(), Triple{RepoName: "myrepo", Ref: "master", Filename: "system.morph"})
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	// Manually pull the second, otherwise-unreferenced system into the
	// pool the way a loader walking from a higher-level "build-all" root
	// would.
	sys2pool, err := (&SourceLoader{Repos: cache}).Load(context.Background(), Triple{RepoName: "myrepo", Ref: "master", Filename: "system2.morph"})
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	for _, src := range sys2pool.Sources() {
		pool.Insert(src)
	}

	_, err = (ArtifactResolver{}).Resolve(pool)
	if _, ok := err.(*MultipleRootsError); !ok {
		t.Fatalf("expected *MultipleRootsError, got %T (%v)", err, err)
	}
}

func TestResolveDetectsBuildDependsCycle(t *testing.T) {
	a := &Artifact{Name: "a", Source: &Source{Morphology: &Morphology{Kind: KindStratum, Name: "a"}}}
	b := &Artifact{Name: "b", Source: &Source{Morphology: &Morphology{Kind: KindStratum, Name: "b"}}}
	a.addDependency(b)
	b.addDependency(a)

	err := detectCycles([]*Artifact{a, b})
	cycleErr, ok := err.(*CycleError)
	if !ok {
		t.Fatalf("expected *CycleError, got %T (%v)", err, err)
	}
	if len(cycleErr.Names) != 2 {
		t.Fatalf("expected both artifacts reported in cycle, got %v", cycleErr.Names)
	}
}

func TestResolveNoRootsWhenEveryArtifactHasADependent(t *testing.T) {
	a := &Artifact{Name: "a"}
	b := &Artifact{Name: "b"}
	a.addDependency(b)
	b.addDependency(a)

	_, err := findRoot([]*Artifact{a, b})
	if _, ok := err.(*NoRootsError); !ok {
		t.Fatalf("expected *NoRootsError, got %T (%v)", err, err)
	}
}

func TestResolveBuildDependsStratumNotInSystemIsPulledIn(t *testing.T) {
	repo := newFakeRepo("myrepo")
	repo.addFile("master", "sha1abc", "c.morph", []byte(chunkMorph))
	repo.addFile("master", "sha1abc", "t.morph", []byte(`
kind: stratum
name: t
chunks:
  - morph: c
build-depends:
  - morph: base
`))
	repo.addFile("master", "sha1abc", "base.morph", []byte(`
kind: stratum
name: base
`))
	repo.addFile("master", "sha1abc", "system.morph", []byte(systemMorph))

	cache := newFakeRepoCache()
	cache.add(repo)

	pool, err := (&SourceLoader{Repos: cache}).Load(context.Background(), Triple{RepoName: "myrepo", Ref: "master", Filename: "system.morph"})
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if pool.Len() != 4 {
		t.Fatalf("expected base stratum pulled into pool, got %d sources", pool.Len())
	}

	if err := ValidateCrossReferences(pool); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}

	root, err := (ArtifactResolver{}).Resolve(pool)
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}

	order := root.Walk()
	names := map[string]bool{}
	for _, a := range order {
		names[a.Name] = true
	}
	if !names["base"] {
		t.Fatalf("expected base stratum artifact present in walk, got %v", order)
	}
}
