package repo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/odvcencio/vessel/pkg/index"
	"github.com/odvcencio/vessel/pkg/object"
)

func blobEntry(path, content string) index.Entry {
	return index.Entry{
		Path: path,
		ID:   object.HashObject(object.TypeBlob, []byte(content)),
		Mode: object.TreeModeFile,
	}
}

func buildIndex(t *testing.T, s index.Strategy, entries ...index.Entry) *index.Index {
	t.Helper()
	idx := index.New(index.WithStrategy(s))
	for _, e := range entries {
		if err := idx.Add(e); err != nil {
			t.Fatalf("index Add(%s): %v", e.Path, err)
		}
	}
	return idx
}

func TestBuildTree_CanonicalAcrossOrderAndStrategy(t *testing.T) {
	r := initRepo(t)
	entries := []index.Entry{
		blobEntry("README", "readme"),
		blobEntry("pkg/a/a.go", "a"),
		blobEntry("pkg/a.go", "pkg a"),
		blobEntry("pkg/b/b.go", "b"),
		blobEntry("z.txt", "z"),
	}
	reversed := make([]index.Entry, len(entries))
	for i, e := range entries {
		reversed[len(entries)-1-i] = e
	}

	h1, err := r.BuildTree(buildIndex(t, index.StrategyLinear, entries...))
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	h2, err := r.BuildTree(buildIndex(t, index.StrategyHashed, reversed...))
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("tree hashes differ: %s vs %s", h1, h2)
	}

	root, err := r.Store.ReadTree(h1)
	if err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	var names []string
	for _, e := range root.Entries {
		names = append(names, e.Name+":"+e.Mode)
	}
	if got := fmt.Sprint(names); got != "[README:100644 pkg:40000 z.txt:100644]" {
		t.Fatalf("root entries = %s", got)
	}
}

func TestBuildTree_FileDirectoryConflict(t *testing.T) {
	r := initRepo(t)
	idx := buildIndex(t, index.StrategyLinear,
		blobEntry("a", "file"),
		blobEntry("a.txt", "sibling sorts between"),
		blobEntry("a/b", "nested"),
	)
	if _, err := r.BuildTree(idx); !errors.Is(err, object.ErrFormat) {
		t.Fatalf("BuildTree = %v, want ErrFormat", err)
	}
}

func TestFlattenTree_InvertsBuildTree(t *testing.T) {
	r := initRepo(t)
	exec := blobEntry("bin/run.sh", "#!/bin/sh")
	exec.Mode = object.TreeModeExecutable
	entries := []index.Entry{
		exec,
		blobEntry("docs/guide/intro.md", "intro"),
		blobEntry("main.go", "package main"),
	}
	h, err := r.BuildTree(buildIndex(t, index.StrategyAuto, entries...))
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}

	files, err := r.FlattenTree(h)
	if err != nil {
		t.Fatalf("FlattenTree: %v", err)
	}
	if len(files) != len(entries) {
		t.Fatalf("FlattenTree returned %d files, want %d", len(files), len(entries))
	}
	for i, f := range files {
		want := entries[i]
		if f.Path != want.Path || f.ID != want.ID || f.Mode != want.Mode {
			t.Fatalf("files[%d] = %+v, want %s %s %s", i, f, want.Path, want.Mode, want.ID)
		}
	}
}
