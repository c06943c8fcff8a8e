package repo

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/odvcencio/vessel/pkg/index"
)

func TestStatus_CleanAfterCommit(t *testing.T) {
	r := initRepo(t)
	writeFile(t, r, "a.txt", "a")
	writeFile(t, r, "dir/b.txt", "b")
	mustAdd(t, r, ".")
	if _, err := r.Commit("one", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	st, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Clean() {
		t.Fatalf("status not clean: %+v", st)
	}
	if st.Branch != "main" {
		t.Fatalf("Branch = %q", st.Branch)
	}
}

func TestStatus_StagedAndUnstaged(t *testing.T) {
	r := initRepo(t)
	writeFile(t, r, "keep.txt", "keep")
	writeFile(t, r, "edit.txt", "v1")
	writeFile(t, r, "gone.txt", "bye")
	mustAdd(t, r, ".")
	if _, err := r.Commit("one", "tester"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Staged: a new file, an edit and a removal.
	writeFile(t, r, "new.txt", "new")
	writeFile(t, r, "edit.txt", "v2 staged")
	mustAdd(t, r, "new.txt", "edit.txt")
	if _, err := r.Remove([]string{"gone.txt"}, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// Unstaged: an edit on top of the staged one, and an untracked file.
	writeFile(t, r, "edit.txt", "v3 not staged yet")
	writeFile(t, r, "untracked.txt", "?")

	st, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	wantStaged := []index.Change{
		{Path: "edit.txt", Kind: index.ChangeModified},
		{Path: "gone.txt", Kind: index.ChangeDeleted},
		{Path: "new.txt", Kind: index.ChangeAdded},
	}
	if !reflect.DeepEqual(st.Staged, wantStaged) {
		t.Fatalf("Staged = %v, want %v", st.Staged, wantStaged)
	}
	wantUnstaged := []index.Change{
		{Path: "edit.txt", Kind: index.ChangeModified},
		{Path: "untracked.txt", Kind: index.ChangeAdded},
	}
	if !reflect.DeepEqual(st.Unstaged, wantUnstaged) {
		t.Fatalf("Unstaged = %v, want %v", st.Unstaged, wantUnstaged)
	}
}

func TestStatus_TouchedFileIsNotModified(t *testing.T) {
	r := initRepo(t)
	writeFile(t, r, "a.txt", "same")
	mustAdd(t, r, "a.txt")

	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(r.RootDir, "a.txt"), later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	st, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Unstaged) != 0 {
		t.Fatalf("Unstaged = %v, want none for an mtime-only change", st.Unstaged)
	}
	if len(st.Staged) != 1 || st.Staged[0].Kind != index.ChangeAdded {
		t.Fatalf("Staged = %v, want a.txt added on the unborn branch", st.Staged)
	}
}
