package morph

// SourceIdentity is the unique key of a Source: spec.md §3, "Sources are
// uniquely identified by (repo_name, resolved_sha1, filename)".
type SourceIdentity struct {
	RepoName string
	SHA1     string
	Filename string
}

// sourceRef is the secondary lookup key used by cross-reference
// validation, which addresses sources by the (possibly symbolic) ref they
// were requested with rather than by resolved identity (spec.md §4.2:
// "srcpool.lookup(repo_name, ref, filename)").
type sourceRef struct {
	RepoName string
	Ref      string
	Filename string
}

// Source is a recipe situated in history: spec.md §3.
type Source struct {
	RepoName     string
	OriginalRef  string
	ResolvedSHA1 string
	Filename     string
	Morphology   *Morphology

	// BuildMode and Prefix are only set on chunk Sources, copied from the
	// ChunkSpec entry in the owning stratum that referenced this chunk.
	BuildMode string
	Prefix    string

	// Repo is populated by ensure_sources once the backing repository has
	// been fetched/cloned into the local repo cache (spec.md §4.7).
	Repo Repo
}

// Identity returns the Source's deduplication key.
func (s *Source) Identity() SourceIdentity {
	return SourceIdentity{RepoName: s.RepoName, SHA1: s.ResolvedSHA1, Filename: s.Filename}
}

func (s *Source) String() string {
	return s.RepoName + "|" + s.ResolvedSHA1[:min(7, len(s.ResolvedSHA1))] + "|" + s.Filename
}
