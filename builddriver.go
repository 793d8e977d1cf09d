package morph

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// BuildDriver is the top-level orchestrator that wires a SourceLoader,
// CrossRefValidator, ArtifactResolver, ArtifactCache pair, StagingAreaFactory
// and Builder together and walks the resolved DAG (spec.md §4.7, §C8).
type BuildDriver struct {
	Repos  RepoCache
	Local  ArtifactCache
	Remote ArtifactCache // nil if no remote cache is configured

	Staging StagingAreaFactory
	Build   Builder
	Ldconfig Ldconfig

	NoGitUpdate bool

	// Quiet suppresses chatty status lines (spec.md §6: "messages marked
	// chatty are suppressed under a quieter verbosity level").
	Quiet bool

	statusPrefix string
}

// BuildTriple runs the full algorithm of spec.md §4.7 for a single root
// triple.
func (d *BuildDriver) BuildTriple(ctx context.Context, triple Triple) error {
	loader := &SourceLoader{Repos: d.Repos}
	pool, err := loader.Load(ctx, triple)
	if err != nil {
		return err
	}

	if err := ValidateCrossReferences(pool); err != nil {
		return err
	}

	root, err := (ArtifactResolver{}).Resolve(pool)
	if err != nil {
		return err
	}

	if root.Source.Morphology.Kind != KindSystem {
		return &UnsupportedRootKindError{Kind: root.Source.Morphology.Kind}
	}

	env := NewBuildEnvironment(root.Source.Morphology.Arch)
	keyer := CacheKeyComputer{Env: env}
	if err := keyer.ComputeAll(root); err != nil {
		return err
	}
	root.BuildEnv = env

	return d.buildInOrder(ctx, root)
}

// buildInOrder walks root's dependency closure dependencies-first,
// fetching already-cached artifacts and building everything else.
func (d *BuildDriver) buildInOrder(ctx context.Context, root *Artifact) error {
	order := root.Walk()
	for i, a := range order {
		d.statusPrefix = fmt.Sprintf("[Build %d/%d] [%s]", i+1, len(order), a.Name)

		if d.Local.Has(a) {
			continue
		}
		if d.Remote != nil && d.Remote.Has(a) {
			d.chattyf("fetching %s from remote cache", a.Name)
			if err := d.fetchToLocal(a); err != nil {
				return err
			}
			continue
		}

		if err := d.buildArtifact(ctx, a, root.BuildEnv); err != nil {
			return err
		}
	}
	d.statusPrefix = ""
	return nil
}

// fetchToLocal streams a's blob (and metadata sidecar, when the
// morphology asks for one) from the remote cache into the local cache.
// The copy is atomic per spec.md §4.5: a failed stream aborts the
// partial write by simply not closing the writer successfully; the
// underlying ArtifactCache implementation is responsible for discarding
// an unclosed temp file.
func (d *BuildDriver) fetchToLocal(a *Artifact) error {
	if err := copyThroughCache(d.Remote, d.Local, a); err != nil {
		return &ArtifactFetchFailedError{ArtifactName: a.Name, Err: err}
	}

	if a.Source.Morphology.NeedsArtifactMetadataCached {
		if !d.Local.HasArtifactMetadata(a, "meta") && d.Remote.HasArtifactMetadata(a, "meta") {
			if err := copyMetadataThroughCache(d.Remote, d.Local, a, "meta"); err != nil {
				return &ArtifactFetchFailedError{ArtifactName: a.Name, Err: err}
			}
		}
	}
	return nil
}

func copyThroughCache(remote, local ArtifactCache, a *Artifact) error {
	r, err := remote.Get(a)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := local.Put(a)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		return err
	}
	return w.Close()
}

func copyMetadataThroughCache(remote, local ArtifactCache, a *Artifact, kind string) error {
	r, err := remote.GetArtifactMetadata(a, kind)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := local.PutArtifactMetadata(a, kind)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		return err
	}
	return w.Close()
}

// buildArtifact runs ensure_sources, installs dependencies into a fresh
// staging area (for chunks) and invokes the external Builder, exactly
// following spec.md §4.7's build_artifact pseudocode.
func (d *BuildDriver) buildArtifact(ctx context.Context, a *Artifact, env *BuildEnvironment) error {
	if err := d.ensureSources(ctx, a); err != nil {
		return err
	}

	walk := a.Walk()
	deps := walk[:len(walk)-1]
	for _, dep := range deps {
		if d.Local.Has(dep) {
			continue
		}
		if d.Remote != nil && d.Remote.Has(dep) {
			if err := d.fetchToLocal(dep); err != nil {
				return err
			}
		}
	}

	isChunk := a.Source.Morphology.Kind == KindChunk

	var area StagingArea
	var setupMounts bool

	if isChunk {
		mode := a.Source.BuildMode
		switch mode {
		case BuildModeBootstrap, BuildModeStaging, BuildModeTest:
		default:
			logrus.WithFields(logrus.Fields{"artifact": a.Name, "build_mode": mode}).
				Warn("unknown chunk build_mode, defaulting to staging")
			mode = BuildModeStaging
		}

		useChroot := mode == BuildModeStaging
		setupMounts = mode == BuildModeStaging

		opts := StagingAreaOptions{
			UseChroot: useChroot,
			ExtraEnv:  map[string]string{"PREFIX": a.Source.Prefix},
			ExtraPath: dependencyPaths(a.DependencyPrefixes()),
		}

		var err error
		area, err = d.Staging.Create(ctx, env, opts)
		if err != nil {
			return &StagingSetupFailedError{ArtifactName: a.Name, Err: err}
		}

		if err := d.installDependencies(area, deps, a); err != nil {
			if abortErr := area.Abort(); abortErr != nil {
				logrus.WithError(abortErr).Warn("staging area abort failed")
			}
			return &StagingSetupFailedError{ArtifactName: a.Name, Err: err}
		}
	} else {
		if a.Source.Morphology.Kind == KindSystem {
			if sizer, ok := d.Staging.(MinDiskSizeSetter); ok {
				sizer.SetMinDiskSize(a.Source.Morphology.DiskSize)
			}
		}

		var err error
		area, err = d.Staging.Create(ctx, env, StagingAreaOptions{UseChroot: false})
		if err != nil {
			return &StagingSetupFailedError{ArtifactName: a.Name, Err: err}
		}
	}

	d.chattyf("building %s", a.Name)
	if err := d.Build.BuildAndCache(ctx, area, a, setupMounts); err != nil {
		return &BuildFailedError{ArtifactName: a.Name, Err: err}
	}

	return area.Remove()
}

func dependencyPaths(prefixes []string) []string {
	paths := make([]string, len(prefixes))
	for i, p := range prefixes {
		paths[i] = p + "/bin"
	}
	return paths
}

// installDependencies implements spec.md §4.7's install_dependencies
// policy: non-chunk deps are ignored; bootstrap-mode chunks are only
// installed when they belong to the same stratum as target, using the
// exact StratumName tag set at resolve time rather than the reference
// implementation's dependency-count heuristic (spec.md §9, see
// DESIGN.md).
func (d *BuildDriver) installDependencies(area StagingArea, deps []*Artifact, target *Artifact) error {
	for _, dep := range deps {
		if dep.Source.Morphology.Kind != KindChunk {
			continue
		}
		if dep.Source.BuildMode == BuildModeBootstrap && dep.StratumName != target.StratumName {
			continue
		}

		r, err := d.Local.Get(dep)
		if err != nil {
			return err
		}
		err = area.InstallArtifact(r)
		r.Close()
		if err != nil {
			return err
		}
	}

	// An unknown build mode counts as staging, as in buildArtifact.
	targetMode := target.Source.BuildMode
	if targetMode != BuildModeBootstrap && targetMode != BuildModeTest && d.Ldconfig != nil {
		if err := d.Ldconfig(context.Background(), area.Dir()); err != nil {
			return err
		}
	}
	return nil
}

// ensureSources implements spec.md §4.7's ensure_sources: populate the
// local repo cache for a's Source, recursively caching submodules at the
// resolved commit.
func (d *BuildDriver) ensureSources(ctx context.Context, a *Artifact) error {
	repoName := a.Source.RepoName

	if d.NoGitUpdate {
		if d.Repos.HasRepo(repoName) {
			repo, err := d.Repos.GetRepo(repoName)
			if err != nil {
				return &SourceFetchFailedError{RepoName: repoName, Err: err}
			}
			a.Source.Repo = repo
			return nil
		}
		return &SourceFetchFailedError{RepoName: repoName, Err: fmt.Errorf("repo %s not present locally and no-git-update is set", repoName)}
	}

	var repo Repo
	if d.Repos.HasRepo(repoName) {
		existing, err := d.Repos.GetRepo(repoName)
		if err != nil {
			return &SourceFetchFailedError{RepoName: repoName, Err: err}
		}
		repo = existing

		if _, err := repo.ResolveRef(ctx, a.Source.ResolvedSHA1); err != nil {
			if err := repo.Update(ctx); err != nil {
				return &SourceFetchFailedError{RepoName: repoName, Err: err}
			}
		}
	} else {
		cloned, err := d.Repos.CacheRepo(ctx, repoName)
		if err != nil {
			return &SourceFetchFailedError{RepoName: repoName, Err: err}
		}
		repo = cloned
	}

	a.Source.Repo = repo

	if err := repo.CacheSubmodules(ctx, a.Source.ResolvedSHA1, map[string]bool{}); err != nil {
		return &SourceFetchFailedError{RepoName: repoName, Err: err}
	}
	return nil
}

func (d *BuildDriver) chattyf(format string, args ...any) {
	if d.Quiet {
		return
	}
	logrus.Infof(d.statusPrefix+" "+format, args...)
}
