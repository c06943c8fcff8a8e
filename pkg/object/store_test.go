package object

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestHashBytesDeterminism(t *testing.T) {
	data := []byte("hello world")
	h1 := HashBytes(data)
	h2 := HashBytes(data)
	if h1 != h2 {
		t.Errorf("HashBytes not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("Hash length: got %d, want 64", len(h1))
	}
}

func TestHashBytesDifferentInput(t *testing.T) {
	h1 := HashBytes([]byte("aaa"))
	h2 := HashBytes([]byte("bbb"))
	if h1 == h2 {
		t.Error("Different inputs produced same hash")
	}
}

func TestDigestStreamingMatchesOneShot(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 1000)
	want := HashBytes(data)

	for _, chunk := range []int{1, 7, 64, 4096, len(data)} {
		d := NewDigest()
		for off := 0; off < len(data); off += chunk {
			end := min(off+chunk, len(data))
			d.Write(data[off:end])
		}
		if got := d.Sum(); got != want {
			t.Errorf("chunk %d: streamed %s, one-shot %s", chunk, got, want)
		}
	}

	if got := NewDigest().Sum(); got != HashBytes(nil) {
		t.Errorf("empty stream: %s, want %s", got, HashBytes(nil))
	}
}

func TestHashObjectEnvelope(t *testing.T) {
	data := []byte("hello")
	h1 := HashObject(TypeBlob, data)
	h2 := HashBytes(data)
	if h1 == h2 {
		t.Error("HashObject should differ from HashBytes due to envelope")
	}
	if h3 := HashBytes([]byte("blob 5\x00hello")); h1 != h3 {
		t.Errorf("HashObject = %s, want digest of envelope %s", h1, h3)
	}
	if h4 := HashObject(TypeTree, data); h1 == h4 {
		t.Error("Different types should produce different hashes")
	}
}

func TestHashObjectReader(t *testing.T) {
	data := bytes.Repeat([]byte("stream"), 10000)
	want := HashObject(TypeBlob, data)

	got, err := HashObjectReader(TypeBlob, int64(len(data)), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("HashObjectReader: %v", err)
	}
	if got != want {
		t.Errorf("HashObjectReader = %s, want %s", got, want)
	}

	if _, err := HashObjectReader(TypeBlob, int64(len(data))+1, bytes.NewReader(data)); err == nil {
		t.Error("short stream should fail")
	}
	if _, err := HashObjectReader(TypeBlob, int64(len(data))-1, bytes.NewReader(data)); err == nil {
		t.Error("long stream should fail")
	}
}

func tempStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	dir := t.TempDir()
	s := NewStore(dir, opts...)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePutGet(t *testing.T) {
	s := tempStore(t)
	data := []byte("hello world")
	h, err := s.Put(TypeBlob, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if h != HashObject(TypeBlob, data) {
		t.Errorf("Put returned %s, want %s", h, HashObject(TypeBlob, data))
	}

	gotType, gotData, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotType != TypeBlob {
		t.Errorf("Type: got %q, want %q", gotType, TypeBlob)
	}
	if !bytes.Equal(gotData, data) {
		t.Errorf("Data: got %q, want %q", gotData, data)
	}
}

func TestStoreRoundTripAllKinds(t *testing.T) {
	s := tempStore(t)
	blobID, err := s.Put(TypeBlob, []byte{})
	if err != nil {
		t.Fatalf("Put(empty blob): %v", err)
	}
	tree := &TreeObj{Entries: []TreeEntry{{Name: "a.txt", Mode: TreeModeFile, ID: blobID}}}
	treeID, err := s.WriteTree(tree)
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	commitID, err := s.WriteCommit(&CommitObj{TreeHash: treeID, Author: "a", Timestamp: 1, Message: "m"})
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}

	for _, tc := range []struct {
		id   Hash
		kind ObjectType
	}{{blobID, TypeBlob}, {treeID, TypeTree}, {commitID, TypeCommit}} {
		obj, err := s.ReadObject(tc.id)
		if err != nil {
			t.Fatalf("ReadObject(%s): %v", tc.kind, err)
		}
		if obj.Type != tc.kind {
			t.Errorf("ReadObject type = %q, want %q", obj.Type, tc.kind)
		}
		raw, err := obj.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if HashObject(obj.Type, raw) != tc.id {
			t.Errorf("%s did not re-hash to its ID", tc.kind)
		}
	}
}

func TestStoreRejectsUnknownType(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Put(ObjectType("entity"), []byte("x")); !errors.Is(err, ErrFormat) {
		t.Fatalf("Put(unknown type) err = %v, want ErrFormat", err)
	}
}

func TestStoreExists(t *testing.T) {
	s := tempStore(t)
	h, err := s.Put(TypeBlob, []byte("exists"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.Exists(h) {
		t.Error("Exists returned false for existing object")
	}
	if s.Exists(Hash("0000000000000000000000000000000000000000000000000000000000000000")) {
		t.Error("Exists returned true for non-existing object")
	}
}

func TestStoreFanoutLayout(t *testing.T) {
	s := tempStore(t)
	h, err := s.Put(TypeBlob, []byte("fanout test"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	objPath := filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
	if _, err := os.Stat(objPath); err != nil {
		t.Errorf("Expected fan-out file at %s: %v", objPath, err)
	}
}

func TestStoreDedup(t *testing.T) {
	s := tempStore(t)
	data := []byte("duplicate")
	h1, err := s.Put(TypeBlob, data)
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	info1, err := os.Stat(s.objectPath(h1))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	h2, err := s.Put(TypeBlob, data)
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if h1 != h2 {
		t.Errorf("Same content produced different hashes: %q vs %q", h1, h2)
	}
	info2, err := os.Stat(s.objectPath(h2))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !os.SameFile(info1, info2) {
		t.Error("second Put rewrote the object file")
	}

	loose, err := s.LooseObjects()
	if err != nil {
		t.Fatalf("LooseObjects: %v", err)
	}
	if len(loose) != 1 {
		t.Errorf("loose objects = %d, want 1", len(loose))
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := tempStore(t)
	_, _, err := s.Get(Hash("0000000000000000000000000000000000000000000000000000000000000000"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get of missing object err = %v, want ErrNotFound", err)
	}
	if _, _, err := s.Get(Hash("xyz")); !errors.Is(err, ErrFormat) {
		t.Errorf("Get of malformed id err = %v, want ErrFormat", err)
	}
}

func TestStoreDetectsFlippedByte(t *testing.T) {
	s := tempStore(t, WithCacheSize(0))
	data := bytes.Repeat([]byte("integrity matters "), 64)
	h, err := s.Put(TypeBlob, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	path := s.objectPath(h)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, pos := range []int{0, len(raw) / 2, len(raw) - 1} {
		damaged := bytes.Clone(raw)
		damaged[pos] ^= 0x01
		if err := os.WriteFile(path, damaged, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		_, got, err := s.Get(h)
		if !errors.Is(err, ErrCorruption) {
			t.Fatalf("flip at %d: err = %v (data %d bytes), want ErrCorruption", pos, err, len(got))
		}
	}
}

func TestStoreDetectsSwappedObject(t *testing.T) {
	s := tempStore(t, WithCacheSize(0))
	h1, err := s.Put(TypeBlob, []byte("one"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	h2, err := s.Put(TypeBlob, []byte("two"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	other, err := os.ReadFile(s.objectPath(h2))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := os.WriteFile(s.objectPath(h1), other, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := s.Get(h1); !errors.Is(err, ErrCorruption) {
		t.Fatalf("Get(swapped) err = %v, want ErrCorruption", err)
	}
}

func TestStoreCacheReturnsCopies(t *testing.T) {
	s := tempStore(t)
	h, err := s.Put(TypeBlob, []byte("cached"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, first, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first[0] = 'X'
	_, second, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(second) != "cached" {
		t.Errorf("cache handed out shared memory: %q", second)
	}
}

func TestStoreConcurrentPutSameContent(t *testing.T) {
	s := tempStore(t)
	data := []byte("racing writers")
	const workers = 32

	var wg sync.WaitGroup
	ids := make([]Hash, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = s.Put(TypeBlob, data)
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("worker %d returned %s, want %s", i, ids[i], ids[0])
		}
	}

	loose, err := s.LooseObjects()
	if err != nil {
		t.Fatalf("LooseObjects: %v", err)
	}
	if len(loose) != 1 || loose[0] != ids[0] {
		t.Fatalf("loose objects = %v, want exactly [%s]", loose, ids[0])
	}
	entries, err := os.ReadDir(filepath.Dir(s.objectPath(ids[0])))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("fan-out dir holds %d files, want 1 (temp files left behind?)", len(entries))
	}
}

func TestStoreConcurrentPutDistinctContent(t *testing.T) {
	s := tempStore(t)
	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := []byte(fmt.Sprintf("object %d", i))
			h, err := s.Put(TypeBlob, data)
			if err != nil {
				errs <- err
				return
			}
			if _, got, err := s.Get(h); err != nil || !bytes.Equal(got, data) {
				errs <- fmt.Errorf("worker %d readback: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestStoreTypedReadMismatch(t *testing.T) {
	s := tempStore(t)
	h, err := s.WriteBlob(&Blob{Data: []byte("not a tree")})
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if _, err := s.ReadTree(h); !errors.Is(err, ErrFormat) {
		t.Fatalf("ReadTree(blob) err = %v, want ErrFormat", err)
	}
}

func TestStoreWriteTreeRejectsUnreadableTrees(t *testing.T) {
	s := tempStore(t)
	blobID, err := s.WriteBlob(&Blob{Data: []byte("x")})
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	for name, entries := range map[string][]TreeEntry{
		"duplicate name": {{Name: "a", Mode: TreeModeFile, ID: blobID}, {Name: "a", Mode: TreeModeFile, ID: blobID}},
		"newline":        {{Name: "a\nb", Mode: TreeModeFile, ID: blobID}},
		"slash":          {{Name: "a/b", Mode: TreeModeFile, ID: blobID}},
		"nul":            {{Name: "a\x00", Mode: TreeModeFile, ID: blobID}},
		"dot dot":        {{Name: "..", Mode: TreeModeDir, ID: blobID}},
		"unknown mode":   {{Name: "a", Mode: "100600", ID: blobID}},
		"bad id":         {{Name: "a", Mode: TreeModeFile, ID: "abc"}},
		"uppercase id":   {{Name: "a", Mode: TreeModeFile, ID: Hash(strings.ToUpper(string(blobID)))}},
	} {
		if _, err := s.WriteTree(&TreeObj{Entries: entries}); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: WriteTree err = %v, want ErrFormat", name, err)
		}
		if _, err := (&Object{Type: TypeTree, Tree: &TreeObj{Entries: entries}}).Marshal(); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: Marshal err = %v, want ErrFormat", name, err)
		}
	}
	if loose, _ := s.LooseObjects(); len(loose) != 1 {
		t.Fatalf("loose objects = %v, want only the blob", loose)
	}
}

func TestStoreWriteCommitRejectsHeaderInjection(t *testing.T) {
	s := tempStore(t)
	treeID, err := s.WriteTree(&TreeObj{})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}
	for name, c := range map[string]*CommitObj{
		"author newline":    {TreeHash: treeID, Author: "mallory\nparent " + string(treeID), Message: "m"},
		"author cr":         {TreeHash: treeID, Author: "mallory\r", Message: "m"},
		"signature newline": {TreeHash: treeID, Author: "a", Signature: "sig\n\nforged", Message: "m"},
		"bad parent":        {TreeHash: treeID, Parents: []Hash{"zz"}, Author: "a", Message: "m"},
		"missing tree":      {Author: "a", Message: "m"},
		"uppercase tree":    {TreeHash: Hash(strings.ToUpper(string(treeID))), Author: "a", Message: "m"},
	} {
		if _, err := s.WriteCommit(c); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: WriteCommit err = %v, want ErrFormat", name, err)
		}
	}

	// Multi-line messages are fine: the message follows the header.
	c := &CommitObj{TreeHash: treeID, Author: "a", Timestamp: 1, Message: "subject\nparent " + string(treeID) + "\n"}
	id, err := s.WriteCommit(c)
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}
	got, err := s.ReadCommit(id)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(got.Parents) != 0 || got.Author != "a" || got.Message != c.Message {
		t.Fatalf("ReadCommit = %+v, want %+v", got, c)
	}
}

func BenchmarkHashBytes(b *testing.B) {
	data := bytes.Repeat([]byte("x"), 64<<10)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		HashBytes(data)
	}
}

func BenchmarkStorePut(b *testing.B) {
	s := NewStore(b.TempDir())
	defer s.Close()
	payload := bytes.Repeat([]byte("payload "), 512)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data := append([]byte(fmt.Sprintf("%d:", i)), payload...)
		if _, err := s.Put(TypeBlob, data); err != nil {
			b.Fatal(err)
		}
	}
}
