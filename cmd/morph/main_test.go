package main

import "testing"

func TestResolveAliasExpandsTemplate(t *testing.T) {
	aliases := map[string]string{
		"upstream": "git://example.com/%s.git",
		"baserock": "git://baserock.example.com/baserock/%s.git",
	}

	got := resolveAlias(aliases, "upstream:foo/bar")
	want := "git://example.com/foo/bar.git"
	if got != want {
		t.Errorf("resolveAlias = %q, want %q", got, want)
	}
}

func TestResolveAliasPassesThroughUnmatchedRepoName(t *testing.T) {
	aliases := map[string]string{"upstream": "git://example.com/%s.git"}
	got := resolveAlias(aliases, "git://already-a-url.example.com/repo.git")
	if got != "git://already-a-url.example.com/repo.git" {
		t.Errorf("expected unmatched repo name to pass through unchanged, got %q", got)
	}
}

func TestResolveAliasDeterministicWithOverlappingPrefixes(t *testing.T) {
	aliases := map[string]string{
		"a":  "first/%s",
		"ab": "second/%s",
	}
	got := resolveAlias(aliases, "a:x")
	if got != "first/x" {
		t.Errorf("expected sorted-prefix resolution to pick %q, got %q", "a", got)
	}
}

func TestConfigFlagValueSpaceSeparated(t *testing.T) {
	got := configFlagValue([]string{"-quiet", "-config", "/etc/morph.yaml", "repo", "ref", "sys.morph"})
	if got != "/etc/morph.yaml" {
		t.Errorf("configFlagValue = %q, want %q", got, "/etc/morph.yaml")
	}
}

func TestConfigFlagValueEqualsForm(t *testing.T) {
	got := configFlagValue([]string{"--config=/etc/morph.yaml", "-quiet"})
	if got != "/etc/morph.yaml" {
		t.Errorf("configFlagValue = %q, want %q", got, "/etc/morph.yaml")
	}
}

func TestConfigFlagValueAbsent(t *testing.T) {
	if got := configFlagValue([]string{"-quiet", "repo", "ref", "sys.morph"}); got != "" {
		t.Errorf("expected empty config path, got %q", got)
	}
}
