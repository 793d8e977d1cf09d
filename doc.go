// Package morph implements the build orchestration core of a
// source-to-image build system: it resolves a declarative recipe
// ("morphology") and its transitive dependencies into a deduplicated
// source pool, builds a content-addressed artifact graph from that pool,
// and drives a sequential, cache-aware build of the graph inside
// per-artifact staging areas.
//
// The package does not itself compile anything: the actual
// configure/build/install step, raw git plumbing, and disk-image assembly
// are external collaborators reached through the Builder, RepoCache, and
// StagingArea interfaces defined here.
package morph
