package sandbox

import (
	"os"
	"testing"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

func TestPrepCacheTagDeterministic(t *testing.T) {
	repo := swe.RepoSource{Kind: swe.RepoSourceRemote, URL: "https://example.com/repo.git", Commit: "abc123"}
	a := prepCacheTag("python:3.11", repo, "pip install -r requirements.txt")
	b := prepCacheTag("python:3.11", repo, "pip install -r requirements.txt")
	if a != b {
		t.Fatalf("expected deterministic tag, got %q and %q", a, b)
	}
}

func TestPrepCacheTagDiffersOnSetupChange(t *testing.T) {
	repo := swe.RepoSource{Kind: swe.RepoSourceLocal, Path: "/tmp/repo"}
	a := prepCacheTag("python:3.11", repo, "make setup")
	b := prepCacheTag("python:3.11", repo, "make setup-v2")
	if a == b {
		t.Fatal("expected different setup scripts to produce different cache tags")
	}
}

func TestPrepCacheTagDiffersOnRepoSource(t *testing.T) {
	a := prepCacheTag("python:3.11", swe.RepoSource{Kind: swe.RepoSourceLocal, Path: "/tmp/a"}, "")
	b := prepCacheTag("python:3.11", swe.RepoSource{Kind: swe.RepoSourceLocal, Path: "/tmp/b"}, "")
	if a == b {
		t.Fatal("expected different repo paths to produce different cache tags")
	}
}

func TestResolveLocalPathRejectsMissingPath(t *testing.T) {
	if _, err := resolveLocalPath("/no/such/path/sweagent-test"); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestResolveLocalPathAcceptsExistingDir(t *testing.T) {
	dir := t.TempDir()
	resolved, err := resolveLocalPath(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected non-empty resolved path")
	}
	if _, err := os.Stat(resolved); err != nil {
		t.Fatalf("resolved path does not exist: %v", err)
	}
}

func TestTrimTrailingNewline(t *testing.T) {
	cases := map[string]string{
		"abc\n":   "abc",
		"abc\r\n": "abc",
		"abc":     "abc",
		"":        "",
	}
	for in, want := range cases {
		if got := trimTrailingNewline(in); got != want {
			t.Errorf("trimTrailingNewline(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShQuoteEscapesSingleQuotes(t *testing.T) {
	got := shQuote("it's a test")
	want := `'it'\''s a test'`
	if got != want {
		t.Errorf("shQuote = %q, want %q", got, want)
	}
}
