// Package builder is a default implementation of morph.Builder: it runs
// a chunk's configure/build/test/install command lists inside a staging
// area, and packs the result into the local artifact cache as a gzipped
// tarball. It is grounded on the reference Builder.build_chunk /
// build_stratum / build_system sequence, minus the actual disk-image
// partitioning steps, which spec.md places out of scope for the core.
package builder

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/baserock/morph"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Shell runs chunk commands with os/exec, one command at a time, with
// the staging area's "build" subdirectory as the working directory.
type Shell struct {
	Cache   morph.ArtifactCache
	MaxJobs int
}

var _ morph.Builder = (*Shell)(nil)

func (s *Shell) BuildAndCache(ctx context.Context, area morph.StagingArea, a *morph.Artifact, setupMounts bool) error {
	switch a.Source.Morphology.Kind {
	case morph.KindChunk:
		return s.buildChunk(ctx, area, a)
	case morph.KindStratum:
		return s.buildStratum(area, a)
	case morph.KindSystem:
		return s.buildSystem(area, a)
	default:
		return errors.Errorf("unbuildable morphology kind %q", a.Source.Morphology.Kind)
	}
}

func (s *Shell) buildChunk(ctx context.Context, area morph.StagingArea, a *morph.Artifact) error {
	m := a.Source.Morphology
	buildDir := filepath.Join(area.Dir(), "build")
	instDir := filepath.Join(area.Dir(), "inst")

	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return errors.Wrap(err, "creating build tree")
	}
	if err := os.MkdirAll(instDir, 0o755); err != nil {
		return errors.Wrap(err, "creating install tree")
	}

	env := s.environ(a, instDir)

	for _, commands := range [][]string{m.ConfigureCommands, m.BuildCommands, m.TestCommands, m.InstallCommands} {
		for _, c := range commands {
			logrus.WithFields(logrus.Fields{"artifact": a.Name, "command": c}).Debug("running chunk command")
			cmd := exec.CommandContext(ctx, "sh", "-c", c)
			cmd.Dir = buildDir
			cmd.Env = env
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Run(); err != nil {
				return errors.Wrapf(err, "running %q", c)
			}
		}
	}

	if err := writeMetadata(instDir, m); err != nil {
		return err
	}
	if err := s.cacheMetadata(a); err != nil {
		return err
	}

	return s.packAndCache(instDir, a)
}

// buildStratum packs the staging area as-is. The driver installs
// dependencies only into chunk staging areas, so a stratum's area holds
// just the metadata file written here; its chunk artifacts are not
// included in the tarball.
func (s *Shell) buildStratum(area morph.StagingArea, a *morph.Artifact) error {
	if err := writeMetadata(area.Dir(), a.Source.Morphology); err != nil {
		return err
	}
	if err := s.cacheMetadata(a); err != nil {
		return err
	}
	return s.packAndCache(area.Dir(), a)
}

// buildSystem packs the staging area into a single tarball. The driver
// installs no strata into a system's staging area, so the tarball holds
// just the metadata file written here. Real disk-image partitioning
// (parted, extlinux, device-mapper) is outside the core's scope
// (spec.md §1).
func (s *Shell) buildSystem(area morph.StagingArea, a *morph.Artifact) error {
	if err := writeMetadata(area.Dir(), a.Source.Morphology); err != nil {
		return err
	}
	if err := s.cacheMetadata(a); err != nil {
		return err
	}
	return s.packAndCache(area.Dir(), a)
}

// cacheMetadata mirrors the "meta" sidecar into the artifact cache for
// morphologies that ask for it, so a cold local build leaves
// HasArtifactMetadata true the same way a remote-fetched one does
// (builddriver.go's fetchToLocal does this for the fetch path; nothing
// did it for a fresh local build otherwise).
func (s *Shell) cacheMetadata(a *morph.Artifact) error {
	if !a.Source.Morphology.NeedsArtifactMetadataCached {
		return nil
	}

	w, err := s.Cache.PutArtifactMetadata(a, "meta")
	if err != nil {
		return errors.Wrap(err, "opening metadata cache writer")
	}

	m := a.Source.Morphology
	fmt.Fprintf(w, "{\n  \"name\": %q,\n  \"kind\": %q,\n  \"description\": %q\n}\n", m.Name, m.Kind, m.Description)
	return w.Close()
}

func (s *Shell) environ(a *morph.Artifact, destdir string) []string {
	vars := map[string]string{}
	if a.BuildEnv != nil {
		for k, v := range a.BuildEnv.Vars {
			vars[k] = v
		}
	}
	vars["DESTDIR"] = destdir + "/"
	maxJobs := s.MaxJobs
	if a.Source != nil && a.Source.Morphology != nil && a.Source.Morphology.MaxJobs != nil {
		maxJobs = *a.Source.Morphology.MaxJobs
	}
	if maxJobs > 0 {
		vars["MAKEFLAGS"] = fmt.Sprintf("-j%d", maxJobs)
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

func writeMetadata(root string, m *morph.Morphology) error {
	dir := filepath.Join(root, "baserock")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating metadata directory")
	}
	f, err := os.Create(filepath.Join(dir, m.Name+".meta"))
	if err != nil {
		return errors.Wrap(err, "creating metadata file")
	}
	defer f.Close()

	fmt.Fprintf(f, "{\n  \"name\": %q,\n  \"kind\": %q,\n  \"description\": %q\n}\n", m.Name, m.Kind, m.Description)
	return nil
}

func (s *Shell) packAndCache(root string, a *morph.Artifact) error {
	w, err := s.Cache.Put(a)
	if err != nil {
		return errors.Wrap(err, "opening cache writer")
	}

	if err := tarDirectory(root, w); err != nil {
		return err
	}
	return w.Close()
}

func tarDirectory(root string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		hdr.Name = rel

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "packing artifact tarball")
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
