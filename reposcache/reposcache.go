// Package reposcache is the git-CLI-backed RepoCache implementation:
// cloning, resolving refs, reading file content at a commit, and caching
// submodules, all shelled out to the system git binary.
package reposcache

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/baserock/morph"
	"github.com/pkg/errors"
)

// Cache is a directory of bare git clones, one per repository, keyed by
// the repo name as given (before repo-alias expansion); ResolveURL expands
// that name to the fetch URL (spec.md §6 settings: "repo-alias").
type Cache struct {
	Dir       string
	ResolveURL func(repoName string) string
}

var _ morph.RepoCache = (*Cache)(nil)

func (c *Cache) path(repoName string) string {
	return filepath.Join(c.Dir, sanitize(repoName))
}

func sanitize(repoName string) string {
	return strings.NewReplacer("/", "-", ":", "-").Replace(repoName)
}

func (c *Cache) HasRepo(repoName string) bool {
	info, err := os.Stat(c.path(repoName))
	return err == nil && info.IsDir()
}

func (c *Cache) GetRepo(repoName string) (morph.Repo, error) {
	if !c.HasRepo(repoName) {
		return nil, errors.Errorf("repo %s not present in cache", repoName)
	}
	return &Repo{dir: c.path(repoName), url: c.ResolveURL(repoName)}, nil
}

func (c *Cache) CacheRepo(ctx context.Context, repoName string) (morph.Repo, error) {
	url := c.ResolveURL(repoName)
	dir := c.path(repoName)

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating repo cache dir")
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--mirror", url, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, errors.Wrapf(err, "git clone --mirror %s: %s", url, out)
	}

	return &Repo{dir: dir, url: url}, nil
}

// Repo is a bare mirror clone of one repository.
type Repo struct {
	dir string
	url string
}

var _ morph.Repo = (*Repo)(nil)

func (r *Repo) URL() string { return r.url }

func (r *Repo) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "git %s: %s", strings.Join(args, " "), stderr.String())
	}
	return stdout.Bytes(), nil
}

func (r *Repo) ResolveRef(ctx context.Context, ref string) (string, error) {
	out, err := r.git(ctx, "rev-parse", ref+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *Repo) ReadFile(ctx context.Context, sha1, filename string) ([]byte, error) {
	out, err := r.git(ctx, "show", sha1+":"+filename)
	if err != nil {
		return nil, &morph.RecipeNotFoundError{RepoName: r.url, Ref: sha1, Filename: filename}
	}
	return out, nil
}

func (r *Repo) Update(ctx context.Context) error {
	_, err := r.git(ctx, "fetch", "--prune", "origin", "+refs/*:refs/*")
	return err
}

// CacheSubmodules walks .gitmodules at sha1 and mirror-clones every
// submodule URL it names into the same cache directory as r, recursing
// into each submodule's own .gitmodules. done records repo URLs already
// visited during this call, breaking cycles (spec.md §4.7: "Recursively
// cache submodules at the resolved sha1").
func (r *Repo) CacheSubmodules(ctx context.Context, sha1 string, done map[string]bool) error {
	if done[r.url] {
		return nil
	}
	done[r.url] = true

	data, err := r.ReadFile(ctx, sha1, ".gitmodules")
	if err != nil {
		// No submodules file: nothing to do.
		return nil
	}

	urls := parseSubmoduleURLs(data)
	for _, url := range urls {
		if done[url] {
			continue
		}

		dir := filepath.Join(filepath.Dir(r.dir), sanitize(url))
		cmd := exec.CommandContext(ctx, "git", "clone", "--mirror", url, dir)
		if out, err := cmd.CombinedOutput(); err != nil {
			return errors.Wrapf(err, "git clone --mirror %s: %s", url, out)
		}

		sub := &Repo{dir: dir, url: url}
		head, err := sub.ResolveRef(ctx, "HEAD")
		if err != nil {
			return err
		}
		if err := sub.CacheSubmodules(ctx, head, done); err != nil {
			return err
		}
	}
	return nil
}

// parseSubmoduleURLs extracts "url = ..." lines from a .gitmodules blob.
// A full INI parser is unwarranted for the one field morph actually
// needs; see DESIGN.md.
func parseSubmoduleURLs(data []byte) []string {
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "url") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				urls = append(urls, strings.TrimSpace(parts[1]))
			}
		}
	}
	return urls
}
