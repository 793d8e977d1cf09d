// Command morph drives a single build of a system morphology, wiring
// together the source/artifact resolver, cache-key computer and build
// driver against real git, disk-cache and staging-area backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/baserock/morph"
	"github.com/baserock/morph/artifactcache"
	"github.com/baserock/morph/builder"
	"github.com/baserock/morph/reposcache"
	"github.com/baserock/morph/settings"
	"github.com/baserock/morph/stagingarea"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	flag.Parse()

	switch flag.Arg(0) {
	case "build":
		if err := cmdBuild(ctx, flag.Args()[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q, expected \"build\"\n", flag.Arg(0))
		os.Exit(2)
	}
}

func cmdBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	fs.String("config", "", "path to a YAML settings file")
	quietFl := fs.Bool("quiet", false, "suppress chatty status lines")

	// settings.Load needs the config path before it calls fs.Parse (it
	// reads the file first, then layers flags on top), so -config has to
	// be found by a pre-scan of args rather than through fs itself.
	s, err := settings.Load(fs, configFlagValue(args), args)
	if err != nil {
		return err
	}

	if fs.NArg() != 3 {
		return fmt.Errorf("usage: morph build [flags] <repo> <ref> <morph-file>")
	}
	triple := morph.Triple{
		RepoName: fs.Arg(0),
		Ref:      fs.Arg(1),
		Filename: fs.Arg(2),
	}

	repos := &reposcache.Cache{
		Dir: filepath.Join(s.CacheDir, "gits"),
		ResolveURL: func(repoName string) string {
			return resolveAlias(s.RepoAlias, repoName)
		},
	}

	local := &artifactcache.Local{Dir: filepath.Join(s.CacheDir, "artifacts")}

	var remote morph.ArtifactCache
	if s.CacheServer != "" {
		remote = &artifactcache.Remote{BaseURL: s.CacheServer}
	}

	staging := &stagingarea.Factory{TempDir: s.TempDir}

	driver := &morph.BuildDriver{
		Repos:   repos,
		Local:   local,
		Remote:  remote,
		Staging: staging,
		Build:   &builder.Shell{Cache: local, MaxJobs: s.MaxJobs},
		Quiet:   *quietFl,
		NoGitUpdate: s.NoGitUpdate,
	}

	logrus.WithFields(logrus.Fields{
		"repo": triple.RepoName, "ref": triple.Ref, "morph": triple.Filename,
	}).Info("starting build")

	return driver.BuildTriple(ctx, triple)
}

// configFlagValue scans args for -config/--config ahead of the real flag
// parse pass inside settings.Load, so the YAML settings-file overlay can
// be read before flag values are known to override it.
func configFlagValue(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

// resolveAlias expands a "prefix=template" repo-alias entry, substituting
// %s in template with the remainder of repoName after the matching
// prefix, mirroring the reference implementation's repo-alias resolution
// (spec.md §6 settings table). Prefixes are tried in sorted order so
// that overlapping aliases resolve deterministically.
func resolveAlias(aliases map[string]string, repoName string) string {
	prefixes := maps.Keys(aliases)
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		if rest, ok := strings.CutPrefix(repoName, prefix+":"); ok {
			return strings.ReplaceAll(aliases[prefix], "%s", rest)
		}
	}
	return repoName
}
