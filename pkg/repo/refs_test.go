package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/vessel/pkg/object"
)

func fakeHash(i int) object.Hash {
	return object.Hash(fmt.Sprintf("%064x", i))
}

func TestUpdateRefCAS_ConcurrentSingleWinner(t *testing.T) {
	r := initRepo(t)
	base := fakeHash(0xaaaa)
	if err := r.UpdateRef("refs/main", base); err != nil {
		t.Fatalf("UpdateRef(base): %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	successCh := make(chan object.Hash, workers)
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := fakeHash(i + 1)
			if err := r.UpdateRefCAS("refs/main", next, base); err != nil {
				errCh <- err
				return
			}
			successCh <- next
		}()
	}
	wg.Wait()
	close(successCh)
	close(errCh)

	var winner object.Hash
	successes := 0
	for h := range successCh {
		successes++
		winner = h
	}
	if successes != 1 {
		t.Fatalf("successful CAS updates = %d, want 1", successes)
	}
	mismatches := 0
	for err := range errCh {
		if !errors.Is(err, ErrRefCASMismatch) {
			t.Fatalf("unexpected error type: %v", err)
		}
		mismatches++
	}
	if mismatches != workers-1 {
		t.Fatalf("CAS mismatches = %d, want %d", mismatches, workers-1)
	}

	got, err := r.ResolveRef("main")
	if err != nil {
		t.Fatalf("ResolveRef(main): %v", err)
	}
	if got != winner {
		t.Fatalf("refs/main = %s, want winner %s", got, winner)
	}
	if _, err := os.Stat(filepath.Join(r.MetaDir, "refs", "main.lock")); !os.IsNotExist(err) {
		t.Fatalf("lock file left behind: %v", err)
	}
}

func TestUpdateRefCAS_EmptyExpectedRequiresAbsence(t *testing.T) {
	r := initRepo(t)
	if err := r.UpdateRefCAS("refs/topic", fakeHash(1), ""); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := r.UpdateRefCAS("refs/topic", fakeHash(2), "")
	if !errors.Is(err, ErrRefCASMismatch) {
		t.Fatalf("second create error = %v, want ErrRefCASMismatch", err)
	}
	got, _ := r.ResolveRef("topic")
	if got != fakeHash(1) {
		t.Fatalf("topic = %s, want the first value", got)
	}
}

func TestUpdateRef_LockContention(t *testing.T) {
	r := initRepo(t)
	r.Config.Refs.LockTimeout = Duration{30 * time.Millisecond}
	if err := r.UpdateRef("refs/main", fakeHash(1)); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}

	// Another writer holds main's lock.
	lockPath := filepath.Join(r.MetaDir, "refs", "main.lock")
	if err := os.WriteFile(lockPath, nil, 0o644); err != nil {
		t.Fatalf("create lock: %v", err)
	}

	err := r.UpdateRef("refs/main", fakeHash(2))
	if !errors.Is(err, object.ErrLockContention) {
		t.Fatalf("UpdateRef error = %v, want ErrLockContention", err)
	}
	got, err := r.ResolveRef("main")
	if err != nil || got != fakeHash(1) {
		t.Fatalf("main = %s, %v; want unchanged %s", got, err, fakeHash(1))
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("foreign lock was removed: %v", err)
	}

	// Other branches do not contend with main's lock.
	if err := r.UpdateRef("refs/other", fakeHash(3)); err != nil {
		t.Fatalf("UpdateRef(other): %v", err)
	}
	// Readers never wait for the lock.
	if _, err := r.ResolveRef("main"); err != nil {
		t.Fatalf("ResolveRef during lock: %v", err)
	}

	if err := os.Remove(lockPath); err != nil {
		t.Fatalf("remove lock: %v", err)
	}
	if err := r.UpdateRef("refs/main", fakeHash(2)); err != nil {
		t.Fatalf("UpdateRef after release: %v", err)
	}
}

func TestUpdateRef_RejectsInvalid(t *testing.T) {
	r := initRepo(t)
	for _, name := range []string{"main", "refs/", "refs/a..b/../c", "refs/x.lock", "refs/has space", "refs/.hidden"} {
		if err := r.UpdateRef(name, fakeHash(1)); !errors.Is(err, object.ErrFormat) {
			t.Errorf("UpdateRef(%q) error = %v, want ErrFormat", name, err)
		}
	}
	if err := r.UpdateRef("refs/main", "not-a-hash"); !errors.Is(err, object.ErrFormat) {
		t.Errorf("UpdateRef(bad hash) error = %v, want ErrFormat", err)
	}
}

func TestResolveRef(t *testing.T) {
	r := initRepo(t)

	if _, err := r.ResolveRef("HEAD"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("ResolveRef(HEAD) on unborn branch = %v, want ErrNotFound", err)
	}

	writeFile(t, r, "f.txt", "x")
	mustAdd(t, r, "f.txt")
	c, err := r.Commit("one", "tester")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for _, name := range []string{"HEAD", "main", "refs/main", string(c)} {
		got, err := r.ResolveRef(name)
		if err != nil {
			t.Fatalf("ResolveRef(%q): %v", name, err)
		}
		if got != c {
			t.Fatalf("ResolveRef(%q) = %s, want %s", name, got, c)
		}
	}
	if _, err := r.ResolveRef("nope"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("ResolveRef(nope) = %v, want ErrNotFound", err)
	}
	if _, err := r.ResolveRef(string(fakeHash(7))); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("ResolveRef(unknown hash) = %v, want ErrNotFound", err)
	}
}

func TestSetHead_SymbolicAndDetached(t *testing.T) {
	r := initRepo(t)
	writeFile(t, r, "f.txt", "x")
	mustAdd(t, r, "f.txt")
	first, err := r.Commit("one", "tester")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := r.CreateBranch("topic", first); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	if err := r.SetHead("topic"); err != nil {
		t.Fatalf("SetHead(topic): %v", err)
	}
	if b, _ := r.CurrentBranch(); b != "topic" {
		t.Fatalf("CurrentBranch = %q, want topic", b)
	}

	if err := r.SetHead(string(first)); err != nil {
		t.Fatalf("SetHead(detached): %v", err)
	}
	if b, _ := r.CurrentBranch(); b != "" {
		t.Fatalf("CurrentBranch = %q, want detached", b)
	}
	head, _ := r.Head()
	if head != string(first) {
		t.Fatalf("Head = %q, want %s", head, first)
	}

	// Commits on a detached HEAD move HEAD itself.
	writeFile(t, r, "f.txt", "y")
	mustAdd(t, r, "f.txt")
	second, err := r.Commit("two", "tester")
	if err != nil {
		t.Fatalf("Commit detached: %v", err)
	}
	if got, _ := r.ResolveRef("HEAD"); got != second {
		t.Fatalf("HEAD = %s, want %s", got, second)
	}
	if got, _ := r.ResolveRef("topic"); got != first {
		t.Fatalf("topic moved to %s", got)
	}

	if err := r.SetHead("missing"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("SetHead(missing) = %v, want ErrNotFound", err)
	}
	if err := r.SetHead(string(fakeHash(9))); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("SetHead(unknown commit) = %v, want ErrNotFound", err)
	}
}

func TestReflog_RecordsUpdates(t *testing.T) {
	r := initRepo(t)
	h1, h2 := fakeHash(1), fakeHash(2)
	if err := r.UpdateRef("refs/main", h1); err != nil {
		t.Fatalf("UpdateRef(h1): %v", err)
	}
	if err := r.UpdateRef("refs/main", h2); err != nil {
		t.Fatalf("UpdateRef(h2): %v", err)
	}

	entries, err := r.ReadReflog("main", 0)
	if err != nil {
		t.Fatalf("ReadReflog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("reflog entries = %d, want 2", len(entries))
	}
	if entries[0].OldHash != h1 || entries[0].NewHash != h2 {
		t.Fatalf("newest entry = %+v", entries[0])
	}
	if entries[1].OldHash != zeroHash || entries[1].NewHash != h1 {
		t.Fatalf("oldest entry = %+v", entries[1])
	}
	if entries[0].Timestamp != 1_700_000_000 || entries[0].Reason != "update" {
		t.Fatalf("entry metadata = %+v", entries[0])
	}

	// "" follows HEAD to its branch.
	viaHead, err := r.ReadReflog("", 1)
	if err != nil {
		t.Fatalf("ReadReflog(HEAD): %v", err)
	}
	if len(viaHead) != 1 || viaHead[0].NewHash != h2 {
		t.Fatalf("ReadReflog(\"\", 1) = %+v", viaHead)
	}

	if _, err := os.Stat(filepath.Join(r.MetaDir, "logs", "refs", "main")); err != nil {
		t.Fatalf("reflog file: %v", err)
	}
}

func TestReflog_AppendFailureKeepsRef(t *testing.T) {
	r := initRepo(t)
	// A directory where the reflog file should be makes the append fail.
	if err := os.MkdirAll(filepath.Join(r.MetaDir, "logs", "refs", "main"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	err := r.UpdateRef("refs/main", fakeHash(1))
	var reflogErr *RefUpdateReflogError
	if !errors.As(err, &reflogErr) || !errors.Is(err, ErrRefUpdatedButReflogAppendFailed) {
		t.Fatalf("UpdateRef error = %v, want RefUpdateReflogError", err)
	}
	if got, _ := r.ResolveRef("main"); got != fakeHash(1) {
		t.Fatalf("main = %s, want the update to stand", got)
	}
}

func TestBranch_CreateListDelete(t *testing.T) {
	r := initRepo(t)
	writeFile(t, r, "f.txt", "x")
	mustAdd(t, r, "f.txt")
	c, err := r.Commit("one", "tester")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for _, name := range []string{"feature/x", "dev"} {
		if err := r.CreateBranch(name, c); err != nil {
			t.Fatalf("CreateBranch(%s): %v", name, err)
		}
	}
	if err := r.CreateBranch("dev", c); !errors.Is(err, ErrRefCASMismatch) {
		t.Fatalf("duplicate CreateBranch = %v, want ErrRefCASMismatch", err)
	}
	if err := r.CreateBranch("bad name", c); !errors.Is(err, object.ErrFormat) {
		t.Fatalf("CreateBranch(bad name) = %v, want ErrFormat", err)
	}
	if err := r.CreateBranch("ghost", fakeHash(1)); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("CreateBranch(unknown commit) = %v, want ErrNotFound", err)
	}

	names, err := r.ListBranches()
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	want := []string{"dev", "feature/x", "main"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("ListBranches = %v, want %v", names, want)
	}

	if err := r.DeleteBranch("main"); err == nil {
		t.Fatal("deleting the current branch succeeded")
	}
	if err := r.DeleteBranch("dev"); err != nil {
		t.Fatalf("DeleteBranch(dev): %v", err)
	}
	if err := r.DeleteBranch("dev"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("DeleteBranch(dev) again = %v, want ErrNotFound", err)
	}
	names, _ = r.ListBranches()
	if fmt.Sprint(names) != "[feature/x main]" {
		t.Fatalf("ListBranches after delete = %v", names)
	}
}
