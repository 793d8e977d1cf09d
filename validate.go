package morph

import "github.com/sirupsen/logrus"

// ValidateCrossReferences performs the cross-morphology checks of
// spec.md §4.2: every system's strata resolve to stratum Sources, every
// stratum's chunks resolve to chunk Sources, and no two distinct strata
// share a name.
//
// The reference implementation dispatches these checks by looking up a
// method named after the morphology kind (`_validate_cross_refs_for_%s`)
// and logging when no such method exists (spec.md §9, "Dynamic dispatch on
// kind"). This is a closed switch instead, with the matching "no
// validator for this kind" log line for kinds that simply have nothing to
// check (chunks).
func ValidateCrossReferences(pool *SourcePool) error {
	seenStrata := make(map[string]bool)

	for _, src := range pool.Sources() {
		switch src.Morphology.Kind {
		case KindSystem:
			if err := validateRefs(pool, src, KindStratum, stratumRefs(src.Morphology)); err != nil {
				return err
			}
		case KindStratum:
			if err := validateRefs(pool, src, KindChunk, chunkRefs(src.Morphology)); err != nil {
				return err
			}
		case KindChunk:
			logrus.WithField("source", src.String()).Debug("no cross-reference validator for chunk kind")
		}

		if src.Morphology.Kind == KindStratum {
			name := src.Morphology.Name
			if seenStrata[name] {
				return &ConflictingStrataError{Name: name}
			}
			seenStrata[name] = true
		}
	}

	return nil
}

func stratumRefs(m *Morphology) []RefSpec {
	out := make([]RefSpec, len(m.Strata))
	for i, s := range m.Strata {
		out[i] = s.RefSpec
	}
	return out
}

func chunkRefs(m *Morphology) []RefSpec {
	out := make([]RefSpec, len(m.Chunks))
	for i, c := range m.Chunks {
		out[i] = c.RefSpec
	}
	return out
}

func validateRefs(pool *SourcePool, src *Source, wanted Kind, refs []RefSpec) error {
	for _, r := range refs {
		repoName := r.Repo
		if repoName == "" {
			repoName = src.RepoName
		}
		ref := r.Ref
		if ref == "" {
			ref = src.OriginalRef
		}
		filename := r.Filename()

		other, ok := pool.Lookup(repoName, ref, filename)
		if !ok {
			return &RecipeNotFoundError{RepoName: repoName, Ref: ref, Filename: filename}
		}
		if other.Morphology.Kind != wanted {
			return &CrossRefKindMismatchError{
				FromKind: src.Morphology.Kind,
				FromName: src.Morphology.Name,
				RepoName: repoName,
				Ref:      ref,
				Filename: filename,
				Expected: wanted,
				Got:      other.Morphology.Kind,
			}
		}
	}
	return nil
}
