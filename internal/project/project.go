package project

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Paths holds all relevant locations for an attribution-enabled repo.
//
// Durable, shareable state (CAS objects, the sqlite index, config) lives in the
// common git dir so every worktree of a repository sees it. The ledger and
// commit hints are per worktree because they describe that worktree's edits.
type Paths struct {
	Root       string // working tree root
	GitDir     string // .git, or .git/worktrees/<name> for linked worktrees
	CommonDir  string // shared .git
	CacheDir   string // <common>/attrib
	ObjectsDir string // <common>/attrib/objects
	IndexDB    string // <common>/attrib/index.db
	ConfigFile string // <common>/attrib/config.toml
	LogDir     string // <common>/attrib/logs
	LedgerDir  string // <gitdir>/attrib/ledger
	HintsFile  string // <gitdir>/attrib/hints.json
	AgentsDir  string // <gitdir>/attrib/agents, open agent sessions
}

// FindRoot returns the git project root, preferring ATTRIB_PROJECT_DIR if set.
func FindRoot() (string, error) {
	if dir := os.Getenv("ATTRIB_PROJECT_DIR"); dir != "" {
		return dir, nil
	}
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", fmt.Errorf("not inside a git repository")
	}
	return strings.TrimSpace(string(out)), nil
}

// NewPaths constructs all path constants from a project root.
func NewPaths(root string) Paths {
	gitDir := resolveGitDir(root)
	common := resolveCommonDir(gitDir)
	cache := filepath.Join(common, "attrib")
	local := filepath.Join(gitDir, "attrib")
	return Paths{
		Root:       root,
		GitDir:     gitDir,
		CommonDir:  common,
		CacheDir:   cache,
		ObjectsDir: filepath.Join(cache, "objects"),
		IndexDB:    filepath.Join(cache, "index.db"),
		ConfigFile: filepath.Join(cache, "config.toml"),
		LogDir:     filepath.Join(cache, "logs"),
		LedgerDir:  filepath.Join(local, "ledger"),
		HintsFile:  filepath.Join(local, "hints.json"),
		AgentsDir:  filepath.Join(local, "agents"),
	}
}

// resolveGitDir follows a "gitdir: <path>" pointer file (linked worktrees,
// submodules) and falls back to <root>/.git.
func resolveGitDir(root string) string {
	dotGit := filepath.Join(root, ".git")
	info, err := os.Stat(dotGit)
	if err != nil || info.IsDir() {
		return dotGit
	}
	data, err := os.ReadFile(dotGit)
	if err != nil {
		return dotGit
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, "gitdir: ") {
		return dotGit
	}
	target := strings.TrimSpace(strings.TrimPrefix(line, "gitdir: "))
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	return target
}

// resolveCommonDir reads the "commondir" file git writes into linked
// worktree git dirs.
func resolveCommonDir(gitDir string) string {
	data, err := os.ReadFile(filepath.Join(gitDir, "commondir"))
	if err != nil {
		return gitDir
	}
	common := strings.TrimSpace(string(data))
	if common == "" {
		return gitDir
	}
	if !filepath.IsAbs(common) {
		common = filepath.Join(gitDir, common)
	}
	return filepath.Clean(common)
}

// IsInitialized returns true if attribution tracking was enabled for the repo.
func IsInitialized(paths Paths) bool {
	info, err := os.Stat(paths.CacheDir)
	return err == nil && info.IsDir()
}
