// Package artifactcache implements a content-addressed local disk cache
// of built artifact blobs and metadata sidecars (spec.md §4.5), plus an
// HTTP-backed remote cache reader used as the optional second tier.
package artifactcache

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/baserock/morph"
	units "github.com/docker/go-units"
	"github.com/gofrs/flock"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Local is a directory of artifact blobs named by cache key, with a
// sidecar metadata namespace alongside them (spec.md §6: "Metadata
// sidecars live alongside their artifacts under a parallel key
// namespace").
type Local struct {
	Dir string
}

var _ morph.ArtifactCache = (*Local)(nil)

func (c *Local) blobPath(key string) string {
	return filepath.Join(c.Dir, key)
}

func (c *Local) metaPath(key, kind string) string {
	return filepath.Join(c.Dir, key+"."+kind+".meta")
}

func (c *Local) Has(a *morph.Artifact) bool {
	_, err := os.Stat(c.blobPath(a.CacheKey))
	return err == nil
}

func (c *Local) Get(a *morph.Artifact) (io.ReadCloser, error) {
	return os.Open(c.blobPath(a.CacheKey))
}

// Put returns a writer whose Close renames the completed temp file into
// place, so a crash or short write never leaves a corrupt blob visible
// under the final cache key (spec.md §4.5: "atomic on close").
func (c *Local) Put(a *morph.Artifact) (io.WriteCloser, error) {
	return c.putAt(c.blobPath(a.CacheKey))
}

func (c *Local) HasArtifactMetadata(a *morph.Artifact, kind string) bool {
	_, err := os.Stat(c.metaPath(a.CacheKey, kind))
	return err == nil
}

func (c *Local) GetArtifactMetadata(a *morph.Artifact, kind string) (io.ReadCloser, error) {
	return os.Open(c.metaPath(a.CacheKey, kind))
}

func (c *Local) PutArtifactMetadata(a *morph.Artifact, kind string) (io.WriteCloser, error) {
	return c.putAt(c.metaPath(a.CacheKey, kind))
}

func (c *Local) ArtifactFilename(a *morph.Artifact) string {
	return c.blobPath(a.CacheKey)
}

// atomicWriter streams to a temp file in the same directory as the final
// path, guarded by a gofrs/flock lock on a sibling ".lock" file so two
// concurrent Put calls for the same key (e.g. a local build racing a
// remote fetch) don't interleave writes; the lock is released on Close.
type atomicWriter struct {
	tmp      *os.File
	final    string
	lock     *flock.Flock
	digester digest.Digester
}

func (c *Local) putAt(final string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating cache directory")
	}

	lock := flock.New(final + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, errors.Wrap(err, "locking cache entry")
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), filepath.Base(final)+".tmp-*")
	if err != nil {
		lock.Unlock()
		return nil, errors.Wrap(err, "creating temp file")
	}

	return &atomicWriter{tmp: tmp, final: final, lock: lock, digester: digest.Canonical.Digester()}, nil
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	n, err := w.tmp.Write(p)
	w.digester.Hash().Write(p[:n])
	return n, err
}

func (w *atomicWriter) Close() error {
	defer func() {
		if w.lock != nil {
			w.lock.Unlock()
		}
	}()

	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return err
	}
	if err := os.Rename(w.tmp.Name(), w.final); err != nil {
		os.Remove(w.tmp.Name())
		return errors.Wrap(err, "renaming cache entry into place")
	}

	if info, err := os.Stat(w.final); err == nil {
		logrus.WithFields(logrus.Fields{
			"path":   w.final,
			"size":   units.HumanSize(float64(info.Size())),
			"digest": w.digester.Digest(),
		}).Debug("cached artifact")
	}
	return nil
}

// Remote is a read-only HTTP-backed cache, consulted by the BuildDriver
// only to check membership and stream a blob into the Local tier.
type Remote struct {
	BaseURL string
	Client  *http.Client
}

var _ morph.ArtifactCache = (*Remote)(nil)

func (r *Remote) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

func (r *Remote) head(ctx context.Context, path string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.BaseURL+"/"+path, nil)
	if err != nil {
		return false
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (r *Remote) get(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/"+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("remote cache: unexpected status %s for %s", resp.Status, path)
	}
	return resp.Body, nil
}

func (r *Remote) Has(a *morph.Artifact) bool {
	return r.head(context.Background(), a.CacheKey)
}

func (r *Remote) Get(a *morph.Artifact) (io.ReadCloser, error) {
	return r.get(context.Background(), a.CacheKey)
}

func (r *Remote) HasArtifactMetadata(a *morph.Artifact, kind string) bool {
	return r.head(context.Background(), a.CacheKey+"."+kind+".meta")
}

func (r *Remote) GetArtifactMetadata(a *morph.Artifact, kind string) (io.ReadCloser, error) {
	return r.get(context.Background(), a.CacheKey+"."+kind+".meta")
}

// Put and PutArtifactMetadata are unused by the driver (the remote cache
// is read-only from this core's point of view, spec.md §4.5) but are
// required to satisfy morph.ArtifactCache for callers that want a single
// interface value; they always fail.
func (r *Remote) Put(a *morph.Artifact) (io.WriteCloser, error) {
	return nil, errors.New("remote artifact cache is read-only")
}

func (r *Remote) PutArtifactMetadata(a *morph.Artifact, kind string) (io.WriteCloser, error) {
	return nil, errors.New("remote artifact cache is read-only")
}

func (r *Remote) ArtifactFilename(a *morph.Artifact) string {
	return r.BaseURL + "/" + a.CacheKey
}
