// Package settings loads the driver configuration spec.md §6 names:
// tempdir, max-jobs, no-git-update, cache-server, repo-alias,
// tarball-server, cachedir. Values come from flags with an optional YAML
// config file overlay, following the teacher's stdlib-flag CLI style.
package settings

import (
	"flag"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

// Settings mirrors spec.md §6's settings table.
type Settings struct {
	TempDir     string            `yaml:"tempdir"`
	MaxJobs     int               `yaml:"max-jobs"`
	NoGitUpdate bool              `yaml:"no-git-update"`
	CacheServer string            `yaml:"cache-server"`
	RepoAlias   map[string]string `yaml:"repo-alias"`
	TarballServer string          `yaml:"tarball-server"`
	CacheDir    string            `yaml:"cachedir"`
}

// Default returns the baseline settings used when neither a config file
// nor flags override a field.
func Default() *Settings {
	return &Settings{
		TempDir:   os.TempDir(),
		MaxJobs:   1,
		CacheDir:  ".morph-cache",
		RepoAlias: map[string]string{},
	}
}

// Load reads an optional YAML config file, then applies flag overrides
// from args on top of it. config may be empty, in which case Load starts
// from Default().
func Load(fs *flag.FlagSet, config string, args []string) (*Settings, error) {
	s := Default()

	if config != "" {
		data, err := os.ReadFile(config)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", config)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, errors.Wrapf(err, "parsing config file %s", config)
		}
	}

	fs.StringVar(&s.TempDir, "tempdir", s.TempDir, "directory for temporary build state")
	fs.IntVar(&s.MaxJobs, "max-jobs", s.MaxJobs, "default parallelism passed through to the external builder")
	fs.BoolVar(&s.NoGitUpdate, "no-git-update", s.NoGitUpdate, "never fetch from git, use only what is already cached locally")
	fs.StringVar(&s.CacheServer, "cache-server", s.CacheServer, "base URL of a remote artifact cache")
	fs.StringVar(&s.TarballServer, "tarball-server", s.TarballServer, "base URL of a remote git tarball server")
	fs.StringVar(&s.CacheDir, "cachedir", s.CacheDir, "local artifact and repo cache directory")

	aliasFlag := make(repoAliasFlag)
	for k, v := range s.RepoAlias {
		aliasFlag[k] = v
	}
	fs.Var(aliasFlag, "repo-alias", "prefix=template repo alias, repeatable")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	s.RepoAlias = aliasFlag

	return s, nil
}

// repoAliasFlag implements flag.Value to accept repeated -repo-alias
// prefix=template arguments, in the teacher's buildArgsFlagValue style
// (cmd/localdev/main.go).
type repoAliasFlag map[string]string

func (m repoAliasFlag) String() string {
	out := ""
	for k, v := range m {
		out += k + "=" + v + " "
	}
	return out
}

func (m repoAliasFlag) Set(value string) error {
	for i := 0; i < len(value); i++ {
		if value[i] == '=' {
			m[value[:i]] = value[i+1:]
			return nil
		}
	}
	return errors.Errorf("expected prefix=template, got %q", value)
}
