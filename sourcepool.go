package morph

// SourcePool is a deduplicated collection of parsed recipes, keyed by
// (repo, resolved sha1, filename), with insertion-order iteration used by
// cross-reference validation (spec.md §4.1, §C1).
type SourcePool struct {
	byIdentity map[SourceIdentity]*Source
	byRef      map[sourceRef]*Source
	ordered    []*Source
}

// NewSourcePool returns an empty pool.
func NewSourcePool() *SourcePool {
	return &SourcePool{
		byIdentity: make(map[SourceIdentity]*Source),
		byRef:      make(map[sourceRef]*Source),
	}
}

// Insert adds src to the pool. A second insertion of the same identity is
// a no-op (spec.md §3 invariant: "The SourcePool enforces deduplication").
// The (repo, originalRef, filename) alias under which src was requested is
// always recorded, even on a no-op insert, so that later references using
// a different-but-equivalent ref still resolve via Lookup.
func (p *SourcePool) Insert(src *Source) *Source {
	id := src.Identity()
	existing, ok := p.byIdentity[id]
	if !ok {
		p.byIdentity[id] = src
		p.ordered = append(p.ordered, src)
		existing = src
	}

	alias := sourceRef{RepoName: src.RepoName, Ref: src.OriginalRef, Filename: src.Filename}
	p.byRef[alias] = existing

	return existing
}

// Lookup resolves a (repo, ref, filename) reference to the Source it was
// last inserted under, as used by CrossRefValidator (spec.md §4.2).
func (p *SourcePool) Lookup(repoName, ref, filename string) (*Source, bool) {
	src, ok := p.byRef[sourceRef{RepoName: repoName, Ref: ref, Filename: filename}]
	return src, ok
}

// Get resolves a Source by its stable identity.
func (p *SourcePool) Get(id SourceIdentity) (*Source, bool) {
	src, ok := p.byIdentity[id]
	return src, ok
}

// Sources returns every Source in insertion order.
func (p *SourcePool) Sources() []*Source {
	out := make([]*Source, len(p.ordered))
	copy(out, p.ordered)
	return out
}

// Len returns the number of distinct Sources in the pool.
func (p *SourcePool) Len() int {
	return len(p.ordered)
}
