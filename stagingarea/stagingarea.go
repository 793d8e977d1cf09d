// Package stagingarea implements StagingArea as a real temporary
// directory tree, populated by unpacking chunk artifact tarballs
// (spec.md §4.6).
package stagingarea

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/baserock/morph"
	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/moby/patternmatcher"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Factory creates staging areas rooted under {TempDir}/staging/<random>,
// preserving the filesystem layout spec.md §9 calls out as
// ops-visible.
type Factory struct {
	TempDir string

	// IgnorePatterns excludes matching paths from InstallArtifact, the
	// same way dockerignore excludes paths from a build context.
	IgnorePatterns []string

	// MinDiskSize, when set from a system morphology's disk-size field,
	// is checked against TempDir's free space before a system's staging
	// area is created, so a build fails fast instead of part-way through
	// image packing.
	MinDiskSize string
}

var (
	_ morph.StagingAreaFactory  = (*Factory)(nil)
	_ morph.MinDiskSizeSetter   = (*Factory)(nil)
)

// SetMinDiskSize implements morph.MinDiskSizeSetter.
func (f *Factory) SetMinDiskSize(diskSize string) {
	f.MinDiskSize = diskSize
}

func (f *Factory) Create(ctx context.Context, env *morph.BuildEnvironment, opts morph.StagingAreaOptions) (morph.StagingArea, error) {
	if err := f.checkDiskSpace(); err != nil {
		return nil, err
	}

	root := filepath.Join(f.TempDir, "staging", uuid.New().String())
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating staging area %s", root)
	}

	var matcher *patternmatcher.PatternMatcher
	if len(f.IgnorePatterns) > 0 {
		m, err := patternmatcher.New(f.IgnorePatterns)
		if err != nil {
			return nil, errors.Wrap(err, "compiling staging area ignore patterns")
		}
		matcher = m
	}

	return &Area{
		dir:     root,
		env:     env,
		opts:    opts,
		matcher: matcher,
	}, nil
}

// checkDiskSpace rejects area creation when TempDir's filesystem has
// less free space than MinDiskSize names, using a raw statfs(2) call
// rather than writing and measuring a probe file.
func (f *Factory) checkDiskSpace() error {
	if f.MinDiskSize == "" {
		return nil
	}

	want, err := units.RAMInBytes(f.MinDiskSize)
	if err != nil {
		return errors.Wrapf(err, "parsing disk-size %q", f.MinDiskSize)
	}
	if want < 0 {
		return errors.Errorf("disk-size %q is too large", f.MinDiskSize)
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(f.TempDir, &stat); err != nil {
		return errors.Wrapf(err, "statfs %s", f.TempDir)
	}

	free := int64(stat.Bavail) * int64(stat.Bsize)
	if free < want {
		return errors.Errorf("insufficient disk space under %s: have %s, need %s",
			f.TempDir, units.HumanSize(float64(free)), units.HumanSize(float64(want)))
	}
	return nil
}

// Area is one temporary build root, scoped to a single artifact build
// (spec.md §4.6 lifecycle).
type Area struct {
	dir     string
	env     *morph.BuildEnvironment
	opts    morph.StagingAreaOptions
	matcher *patternmatcher.PatternMatcher

	removed bool
}

var _ morph.StagingArea = (*Area)(nil)

func (a *Area) Dir() string { return a.dir }

// InstallArtifact unpacks a gzipped tar stream into the area, skipping
// any path that matches the area's ignore patterns.
func (a *Area) InstallArtifact(r io.Reader) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "opening artifact stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading artifact tar stream")
		}

		if a.matcher != nil {
			skip, err := a.matcher.MatchesOrParentMatches(hdr.Name)
			if err != nil {
				return err
			}
			if skip {
				continue
			}
		}

		target := filepath.Join(a.dir, hdr.Name)
		if err := installEntry(tr, hdr, target); err != nil {
			return errors.Wrapf(err, "installing %s", hdr.Name)
		}
	}
}

func installEntry(tr *tar.Reader, hdr *tar.Header, target string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(hdr.Mode))
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(hdr.Linkname, target)
	default:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(f, tr)
		return err
	}
}

// Abort tears the area down after a mid-setup failure, guaranteeing no
// half-populated staging directory leaks (spec.md §4.6, §7).
func (a *Area) Abort() error {
	return a.teardown()
}

// Remove tears the area down after normal completion.
func (a *Area) Remove() error {
	return a.teardown()
}

func (a *Area) teardown() error {
	if a.removed {
		return nil
	}
	a.removed = true
	return os.RemoveAll(a.dir)
}
