package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewPaths(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	p := NewPaths(root)

	if p.Root != root {
		t.Errorf("Root = %q, want %q", p.Root, root)
	}
	gitDir := filepath.Join(root, ".git")
	if p.GitDir != gitDir || p.CommonDir != gitDir {
		t.Errorf("GitDir/CommonDir = %q/%q, want %q", p.GitDir, p.CommonDir, gitDir)
	}
	if want := filepath.Join(gitDir, "attrib", "objects"); p.ObjectsDir != want {
		t.Errorf("ObjectsDir = %q, want %q", p.ObjectsDir, want)
	}
	if want := filepath.Join(gitDir, "attrib", "ledger"); p.LedgerDir != want {
		t.Errorf("LedgerDir = %q, want %q", p.LedgerDir, want)
	}
	if want := filepath.Join(gitDir, "attrib", "index.db"); p.IndexDB != want {
		t.Errorf("IndexDB = %q, want %q", p.IndexDB, want)
	}
}

func TestNewPaths_LinkedWorktree(t *testing.T) {
	base := t.TempDir()
	common := filepath.Join(base, "main", ".git")
	wtGitDir := filepath.Join(common, "worktrees", "feature")
	if err := os.MkdirAll(wtGitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wtGitDir, "commondir"), []byte("../..\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(base, "feature")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".git"), []byte("gitdir: "+wtGitDir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewPaths(root)
	if p.GitDir != wtGitDir {
		t.Errorf("GitDir = %q, want %q", p.GitDir, wtGitDir)
	}
	if p.CommonDir != common {
		t.Errorf("CommonDir = %q, want %q", p.CommonDir, common)
	}
	if want := filepath.Join(common, "attrib", "objects"); p.ObjectsDir != want {
		t.Errorf("ObjectsDir = %q, want %q (shared across worktrees)", p.ObjectsDir, want)
	}
	if want := filepath.Join(wtGitDir, "attrib", "ledger"); p.LedgerDir != want {
		t.Errorf("LedgerDir = %q, want %q (per worktree)", p.LedgerDir, want)
	}
}

func TestResolveGitDir_Worktree(t *testing.T) {
	t.Run("absolute_path", func(t *testing.T) {
		root := t.TempDir()
		absTarget := "/some/path/to/gitdir"
		if err := os.WriteFile(filepath.Join(root, ".git"), []byte("gitdir: "+absTarget+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		if got := resolveGitDir(root); got != absTarget {
			t.Errorf("resolveGitDir() = %q, want %q", got, absTarget)
		}
	})

	t.Run("relative_path", func(t *testing.T) {
		root := t.TempDir()
		relTarget := "../other-repo/.git/worktrees/my-branch"
		if err := os.WriteFile(filepath.Join(root, ".git"), []byte("gitdir: "+relTarget+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		if got, want := resolveGitDir(root), filepath.Join(root, relTarget); got != want {
			t.Errorf("resolveGitDir() = %q, want %q", got, want)
		}
	})
}

func TestResolveGitDir_Fallbacks(t *testing.T) {
	missing := t.TempDir()
	if got, want := resolveGitDir(missing), filepath.Join(missing, ".git"); got != want {
		t.Errorf("missing: resolveGitDir() = %q, want %q", got, want)
	}

	invalid := t.TempDir()
	if err := os.WriteFile(filepath.Join(invalid, ".git"), []byte("not a gitdir pointer\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, want := resolveGitDir(invalid), filepath.Join(invalid, ".git"); got != want {
		t.Errorf("invalid: resolveGitDir() = %q, want %q", got, want)
	}
}

func TestIsInitialized(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	p := NewPaths(root)

	if IsInitialized(p) {
		t.Error("IsInitialized() = true before enable")
	}
	if err := os.MkdirAll(p.CacheDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if !IsInitialized(p) {
		t.Error("IsInitialized() = false after creating cache dir")
	}
}

func TestFindRoot_WithEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("ATTRIB_PROJECT_DIR", tmpDir)

	got, err := FindRoot()
	if err != nil {
		t.Fatalf("FindRoot() error: %v", err)
	}
	if got != tmpDir {
		t.Errorf("FindRoot() = %q, want %q", got, tmpDir)
	}
}
