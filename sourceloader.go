package morph

import (
	"context"

	"github.com/pkg/errors"
)

// Triple names the root recipe a build starts from: spec.md §1.
type Triple struct {
	RepoName string
	Ref      string
	Filename string
}

// SourceLoader walks from a root triple, fetching and parsing referenced
// recipes and populating a SourcePool (spec.md §4.1, §C2).
type SourceLoader struct {
	Repos RepoCache
}

type pendingRef struct {
	repoName string
	ref      string
	filename string
	buildMode string
	prefix    string
}

// Load performs the breadth-first walk described in spec.md §4.1.
func (l *SourceLoader) Load(ctx context.Context, root Triple) (*SourcePool, error) {
	pool := NewSourcePool()

	queue := []pendingRef{{repoName: root.RepoName, ref: root.Ref, filename: root.Filename}}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		src, alreadySeen, err := l.resolveOne(ctx, pool, next)
		if err != nil {
			return nil, err
		}
		if alreadySeen {
			continue
		}

		for _, child := range crossReferences(src.Morphology, next.repoName, next.ref) {
			queue = append(queue, child)
		}
	}

	return pool, nil
}

// resolveOne fetches, parses, and inserts a single reference, returning
// the pool's canonical Source for it. alreadySeen is true when this
// identity was already present in the pool, in which case its children
// must not be re-enqueued (spec.md §4.1: "Recursion halts at
// already-inserted identities").
func (l *SourceLoader) resolveOne(ctx context.Context, pool *SourcePool, ref pendingRef) (*Source, bool, error) {
	if existing, ok := pool.Lookup(ref.repoName, ref.ref, ref.filename); ok {
		return existing, true, nil
	}

	repo, err := l.ensureRepo(ctx, ref.repoName)
	if err != nil {
		return nil, false, err
	}

	sha1, err := repo.ResolveRef(ctx, ref.ref)
	if err != nil {
		if updateErr := repo.Update(ctx); updateErr != nil {
			return nil, false, errors.Wrapf(&RecipeNotFoundError{RepoName: ref.repoName, Ref: ref.ref, Filename: ref.filename}, "resolving ref: %s", updateErr)
		}
		sha1, err = repo.ResolveRef(ctx, ref.ref)
		if err != nil {
			return nil, false, &RecipeNotFoundError{RepoName: ref.repoName, Ref: ref.ref, Filename: ref.filename}
		}
	}

	// The same identity may already be in the pool under a different ref
	// string that happens to resolve to the same sha1 (e.g. "master" and
	// an explicit commit). Register this alias without re-fetching or
	// re-parsing; per spec.md §3 the identity's first build_mode/prefix
	// wins.
	if existing, ok := pool.Get(SourceIdentity{RepoName: ref.repoName, SHA1: sha1, Filename: ref.filename}); ok {
		return pool.Insert(&Source{
			RepoName: ref.repoName, OriginalRef: ref.ref, ResolvedSHA1: sha1, Filename: ref.filename,
			Morphology: existing.Morphology, BuildMode: existing.BuildMode, Prefix: existing.Prefix, Repo: existing.Repo,
		}), true, nil
	}

	data, err := repo.ReadFile(ctx, sha1, ref.filename)
	if err != nil {
		return nil, false, &RecipeNotFoundError{RepoName: ref.repoName, Ref: ref.ref, Filename: ref.filename}
	}

	morphology, err := ParseMorphology(ref.filename, data)
	if err != nil {
		return nil, false, &RecipeMalformedError{RepoName: ref.repoName, Ref: ref.ref, Filename: ref.filename, Err: err}
	}

	src := &Source{
		RepoName:     ref.repoName,
		OriginalRef:  ref.ref,
		ResolvedSHA1: sha1,
		Filename:     ref.filename,
		Morphology:   morphology,
		BuildMode:    ref.buildMode,
		Prefix:       ref.prefix,
		Repo:         repo,
	}
	return pool.Insert(src), false, nil
}

func (l *SourceLoader) ensureRepo(ctx context.Context, repoName string) (Repo, error) {
	if l.Repos.HasRepo(repoName) {
		return l.Repos.GetRepo(repoName)
	}
	repo, err := l.Repos.CacheRepo(ctx, repoName)
	if err != nil {
		return nil, errors.Wrapf(&SourceFetchFailedError{RepoName: repoName, Err: err}, "cloning")
	}
	return repo, nil
}

// crossReferences returns the child references a Source's morphology
// names, inheriting repo/ref from the parent when a reference omits them
// (spec.md §4.1).
func crossReferences(m *Morphology, parentRepo, parentRef string) []pendingRef {
	inherit := func(r RefSpec) pendingRef {
		repoName := r.Repo
		if repoName == "" {
			repoName = parentRepo
		}
		ref := r.Ref
		if ref == "" {
			ref = parentRef
		}
		return pendingRef{repoName: repoName, ref: ref, filename: r.Filename()}
	}

	var out []pendingRef
	switch m.Kind {
	case KindSystem:
		for _, s := range m.Strata {
			out = append(out, inherit(s.RefSpec))
		}
	case KindStratum:
		for _, c := range m.Chunks {
			p := inherit(c.RefSpec)
			p.buildMode = c.BuildMode
			p.prefix = c.Prefix
			out = append(out, p)
		}
		for _, d := range m.BuildDepends {
			out = append(out, inherit(d.RefSpec))
		}
	}
	return out
}
