package morph

import (
	"context"
	"fmt"
)

// fakeRepo is an in-memory Repo keyed by sha1, used across this
// package's tests.
type fakeRepo struct {
	name  string
	refs  map[string]string // ref -> sha1
	files map[string]map[string][]byte // sha1 -> filename -> contents
}

func newFakeRepo(name string) *fakeRepo {
	return &fakeRepo{
		name:  name,
		refs:  map[string]string{},
		files: map[string]map[string][]byte{},
	}
}

func (r *fakeRepo) addFile(ref, sha1, filename string, contents []byte) {
	r.refs[ref] = sha1
	if r.files[sha1] == nil {
		r.files[sha1] = map[string][]byte{}
	}
	r.files[sha1][filename] = contents
}

func (r *fakeRepo) URL() string { return "fake://" + r.name }

func (r *fakeRepo) ReadFile(ctx context.Context, sha1, filename string) ([]byte, error) {
	byFile, ok := r.files[sha1]
	if !ok {
		return nil, &RecipeNotFoundError{RepoName: r.name, Ref: sha1, Filename: filename}
	}
	data, ok := byFile[filename]
	if !ok {
		return nil, &RecipeNotFoundError{RepoName: r.name, Ref: sha1, Filename: filename}
	}
	return data, nil
}

func (r *fakeRepo) ResolveRef(ctx context.Context, ref string) (string, error) {
	sha1, ok := r.refs[ref]
	if !ok {
		return "", fmt.Errorf("unknown ref %q", ref)
	}
	return sha1, nil
}

func (r *fakeRepo) Update(ctx context.Context) error { return nil }

func (r *fakeRepo) CacheSubmodules(ctx context.Context, sha1 string, done map[string]bool) error {
	return nil
}

// fakeRepoCache holds a fixed set of fakeRepos, pre-populated by tests.
type fakeRepoCache struct {
	repos map[string]*fakeRepo
}

func newFakeRepoCache() *fakeRepoCache {
	return &fakeRepoCache{repos: map[string]*fakeRepo{}}
}

func (c *fakeRepoCache) add(r *fakeRepo) { c.repos[r.name] = r }

func (c *fakeRepoCache) HasRepo(repoName string) bool {
	_, ok := c.repos[repoName]
	return ok
}

func (c *fakeRepoCache) GetRepo(repoName string) (Repo, error) {
	r, ok := c.repos[repoName]
	if !ok {
		return nil, fmt.Errorf("no such repo %q", repoName)
	}
	return r, nil
}

func (c *fakeRepoCache) CacheRepo(ctx context.Context, repoName string) (Repo, error) {
	return c.GetRepo(repoName)
}
