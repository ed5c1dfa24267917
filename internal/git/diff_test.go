package git

import (
	"context"
	"strings"
	"testing"

	"github.com/jensroland/git-attrib/internal/gittest"
)

func TestChangedFiles(t *testing.T) {
	tr := gittest.New(t)
	body := gittest.Lines(gittest.Numbered("stable line", 20)...)
	tr.Write("keep.txt", "keep\n")
	tr.Write("old name.txt", body)
	tr.Write("gone.txt", "bye\n")
	root := tr.Commit("root")

	tr.Git("mv", "old name.txt", "new name.txt")
	tr.Write("new name.txt", body+"one more\n")
	tr.Git("rm", "-q", "gone.txt")
	tr.Write("added.txt", "new\n")
	tr.Write("keep.txt", "kept\n")
	next := tr.Commit("changes")

	ctx := context.Background()
	r := New(tr.Dir)

	changes, err := r.ChangedFiles(ctx, root, next)
	if err != nil {
		t.Fatal(err)
	}
	byPath := map[string]FileChange{}
	for _, c := range changes {
		byPath[c.Path()] = c
	}

	if c := byPath["new name.txt"]; c.Status != 'R' || c.OldPath != "old name.txt" || c.Score == 0 {
		t.Errorf("rename = %+v", c)
	}
	if c := byPath["gone.txt"]; c.Status != 'D' || c.NewBlob != "" || c.OldBlob == "" {
		t.Errorf("delete = %+v", c)
	}
	if c := byPath["added.txt"]; c.Status != 'A' || c.OldBlob != "" || c.NewPath != "added.txt" {
		t.Errorf("add = %+v", c)
	}
	if c := byPath["keep.txt"]; c.Status != 'M' || !c.Regular() {
		t.Errorf("modify = %+v", c)
	}

	rootChanges, err := r.ChangedFiles(ctx, "", root)
	if err != nil {
		t.Fatal(err)
	}
	if len(rootChanges) != 3 {
		t.Errorf("root commit changes = %d, want 3", len(rootChanges))
	}
	for _, c := range rootChanges {
		if c.Status != 'A' {
			t.Errorf("root change %+v is not an add", c)
		}
	}
}

func TestParseRawDiffMalformed(t *testing.T) {
	if _, err := parseRawDiff([]byte("garbage\x00")); err == nil {
		t.Error("expected error")
	}
	if _, err := parseRawDiff([]byte(":100644 100644 a b M\x00")); err == nil {
		t.Error("expected error for missing path")
	}
	got, err := parseRawDiff(nil)
	if err != nil || len(got) != 0 {
		t.Errorf("empty input = %v, %v", got, err)
	}
}

func TestPatchIDSurvivesCherryPick(t *testing.T) {
	tr := gittest.New(t)
	tr.Write("a.txt", gittest.Lines("1", "2", "3"))
	tr.Commit("base")
	tr.Git("checkout", "-q", "-b", "topic")
	tr.Write("a.txt", gittest.Lines("1", "2", "3", "4"))
	topic := tr.Commit("add four")
	tr.Git("checkout", "-q", "main")
	tr.Write("b.txt", "other\n")
	tr.Commit("unrelated")
	tr.Git("cherry-pick", topic)
	picked := tr.Head()

	ctx := context.Background()
	r := New(tr.Dir)
	a, err := r.PatchID(ctx, topic)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.PatchID(ctx, picked)
	if err != nil {
		t.Fatal(err)
	}
	if a == "" || a != b {
		t.Errorf("patch ids differ: %q vs %q", a, b)
	}

	empty := tr.Commit("empty")
	if id, err := r.PatchID(ctx, empty); err != nil || id != "" {
		t.Errorf("empty commit patch id = %q, %v", id, err)
	}
	if strings.ContainsAny(a, " \n") {
		t.Errorf("patch id %q not trimmed", a)
	}
}

func TestDiffBlobs(t *testing.T) {
	tr := gittest.New(t)
	tr.Write("a.txt", gittest.Lines("1", "2", "3", "4"))
	base := tr.Commit("base")
	tr.Write("a.txt", gittest.Lines("1", "two", "3", "4", "5", "6"))
	next := tr.Commit("edit")

	ctx := context.Background()
	r := New(tr.Dir)
	oldBlob, newBlob := r.BlobAt(ctx, base, "a.txt"), r.BlobAt(ctx, next, "a.txt")
	hunks, err := r.DiffBlobs(ctx, oldBlob, newBlob)
	if err != nil {
		t.Fatal(err)
	}
	want := []Hunk{
		{OldStart: 2, OldLines: 1, NewStart: 2, NewLines: 1},
		{OldStart: 4, OldLines: 0, NewStart: 5, NewLines: 2},
	}
	if len(hunks) != len(want) {
		t.Fatalf("hunks = %+v, want %+v", hunks, want)
	}
	for i := range want {
		if hunks[i] != want[i] {
			t.Errorf("hunk %d = %+v, want %+v", i, hunks[i], want[i])
		}
	}

	same, err := r.DiffBlobs(ctx, newBlob, newBlob)
	if err != nil || len(same) != 0 {
		t.Errorf("identical blobs = %+v, %v", same, err)
	}
}

func TestParseHunks(t *testing.T) {
	out := "diff --git a/x b/x\n" +
		"@@ -3 +3,0 @@\n" +
		"-gone\n" +
		"@@ -10,0 +10 @@ func main() {\n" +
		"+@@ -1 +1 @@\n"
	hunks, err := parseHunks([]byte(out))
	if err != nil {
		t.Fatal(err)
	}
	want := []Hunk{
		{OldStart: 3, OldLines: 1, NewStart: 3, NewLines: 0},
		{OldStart: 10, OldLines: 0, NewStart: 10, NewLines: 1},
	}
	if len(hunks) != 2 || hunks[0] != want[0] || hunks[1] != want[1] {
		t.Errorf("hunks = %+v, want %+v", hunks, want)
	}
	if _, err := parseHunks([]byte("@@ garbage @@\n")); err == nil {
		t.Error("expected error for malformed header")
	}
}
