package morph

import (
	"bytes"
	"context"
	"io"
	"testing"
)

// testArtifactCache is an in-memory ArtifactCache keyed by CacheKey, used
// across BuildDriver tests.
type testArtifactCache struct {
	blobs map[string][]byte
	meta  map[string][]byte
}

func newTestArtifactCache() *testArtifactCache {
	return &testArtifactCache{blobs: map[string][]byte{}, meta: map[string][]byte{}}
}

func (c *testArtifactCache) Has(a *Artifact) bool { _, ok := c.blobs[a.CacheKey]; return ok }
func (c *testArtifactCache) Get(a *Artifact) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(c.blobs[a.CacheKey])), nil
}

type testWriter struct {
	buf *bytes.Buffer
	key string
	dst map[string][]byte
}

func (w *testWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *testWriter) Close() error {
	w.dst[w.key] = w.buf.Bytes()
	return nil
}

func (c *testArtifactCache) Put(a *Artifact) (io.WriteCloser, error) {
	return &testWriter{buf: &bytes.Buffer{}, key: a.CacheKey, dst: c.blobs}, nil
}
func (c *testArtifactCache) HasArtifactMetadata(a *Artifact, kind string) bool {
	_, ok := c.meta[a.CacheKey+"."+kind]
	return ok
}
func (c *testArtifactCache) GetArtifactMetadata(a *Artifact, kind string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(c.meta[a.CacheKey+"."+kind])), nil
}
func (c *testArtifactCache) PutArtifactMetadata(a *Artifact, kind string) (io.WriteCloser, error) {
	return &testWriter{buf: &bytes.Buffer{}, key: a.CacheKey + "." + kind, dst: c.meta}, nil
}
func (c *testArtifactCache) ArtifactFilename(a *Artifact) string { return a.CacheKey }

type testArea struct{}

func (testArea) Dir() string                      { return "/tmp/test-area" }
func (testArea) InstallArtifact(r io.Reader) error { _, err := io.Copy(io.Discard, r); return err }
func (testArea) Abort() error                      { return nil }
func (testArea) Remove() error                     { return nil }

type testStagingFactory struct{}

func (testStagingFactory) Create(ctx context.Context, env *BuildEnvironment, opts StagingAreaOptions) (StagingArea, error) {
	return testArea{}, nil
}

// recordingBuilder writes a fixed payload through the driver's local cache
// (as the real builder.Shell would) and records call order.
type recordingBuilder struct {
	local ArtifactCache
	calls []string
}

func (b *recordingBuilder) BuildAndCache(ctx context.Context, area StagingArea, a *Artifact, setupMounts bool) error {
	b.calls = append(b.calls, a.Name)
	w, err := b.local.Put(a)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("built:" + a.Name)); err != nil {
		return err
	}
	return w.Close()
}

func TestBuildDriverColdCacheBuildsInOrder(t *testing.T) {
	cache := singleRepoFixture(t)
	local := newTestArtifactCache()
	build := &recordingBuilder{local: local}
	driver := &BuildDriver{
		Repos:       cache,
		Local:       local,
		Staging:     testStagingFactory{},
		Build:       build,
		NoGitUpdate: true,
	}

	// ensureSources requires the repo already present locally under
	// NoGitUpdate, which fakeRepoCache.HasRepo always reports true for a
	// repo it holds.
	triple := Triple{RepoName: "myrepo", Ref: "master", Filename: "system.morph"}
	if err := driver.BuildTriple(context.Background(), triple); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"c", "t", "s"}
	if len(build.calls) != len(want) {
		t.Fatalf("expected %d BuildAndCache calls, got %d: %v", len(want), len(build.calls), build.calls)
	}
	for i := range want {
		if build.calls[i] != want[i] {
			t.Fatalf("build order = %v, want %v", build.calls, want)
		}
	}
}

func TestBuildDriverWarmCacheBuildsNothing(t *testing.T) {
	cache := singleRepoFixture(t)
	local := newTestArtifactCache()
	build := &recordingBuilder{local: local}
	driver := &BuildDriver{
		Repos:       cache,
		Local:       local,
		Staging:     testStagingFactory{},
		Build:       build,
		NoGitUpdate: true,
	}

	triple := Triple{RepoName: "myrepo", Ref: "master", Filename: "system.morph"}
	if err := driver.BuildTriple(context.Background(), triple); err != nil {
		t.Fatalf("unexpected error on first build: %v", err)
	}
	build.calls = nil

	if err := driver.BuildTriple(context.Background(), triple); err != nil {
		t.Fatalf("unexpected error on rerun: %v", err)
	}
	if len(build.calls) != 0 {
		t.Fatalf("expected no BuildAndCache calls on a fully warm cache, got %v", build.calls)
	}
}

func TestBuildDriverFetchesFromRemoteInsteadOfBuilding(t *testing.T) {
	cache := singleRepoFixture(t)
	remote := newTestArtifactCache()
	local := newTestArtifactCache()
	build := &recordingBuilder{local: local}
	driver := &BuildDriver{
		Repos:       cache,
		Local:       local,
		Remote:      remote,
		Staging:     testStagingFactory{},
		Build:       build,
		NoGitUpdate: true,
	}

	// Resolve once (without building) purely to learn the chunk's cache
	// key, so it can be pre-seeded into the remote cache.
	pool, err := (&SourceLoader{Repos: cache}).Load(context.Background(), Triple{RepoName: "myrepo", Ref: "master", Filename: "system.morph"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	root, err := (ArtifactResolver{}).Resolve(pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env := NewBuildEnvironment(root.Source.Morphology.Arch)
	if err := (CacheKeyComputer{Env: env}).ComputeAll(root); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var chunk *Artifact
	for _, a := range root.Walk() {
		if a.Source.Morphology.Kind == KindChunk {
			chunk = a
		}
	}
	w, err := remote.Put(chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Write([]byte("prebuilt chunk"))
	w.Close()

	triple := Triple{RepoName: "myrepo", Ref: "master", Filename: "system.morph"}
	if err := driver.BuildTriple(context.Background(), triple); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range build.calls {
		if name == "c" {
			t.Fatalf("expected chunk to be fetched from remote rather than built, got calls %v", build.calls)
		}
	}
	if !local.Has(chunk) {
		t.Fatalf("expected chunk to have been copied into the local cache")
	}
}

func TestBuildDriverRejectsNonSystemRoot(t *testing.T) {
	cache := singleRepoFixture(t)
	local := newTestArtifactCache()
	build := &recordingBuilder{local: local}
	driver := &BuildDriver{
		Repos:       cache,
		Local:       local,
		Staging:     testStagingFactory{},
		Build:       build,
		NoGitUpdate: true,
	}

	triple := Triple{RepoName: "myrepo", Ref: "master", Filename: "t.morph"}
	err := driver.BuildTriple(context.Background(), triple)
	if _, ok := err.(*UnsupportedRootKindError); !ok {
		t.Fatalf("expected *UnsupportedRootKindError, got %T (%v)", err, err)
	}
}
