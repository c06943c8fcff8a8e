package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/vessel/pkg/repo"
)

// runCmd executes the root command against the repository at dir and
// returns combined stdout and stderr.
func runCmd(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var output bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs(append([]string{"-C", dir}, args...))
	err := cmd.Execute()
	return output.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runCmd(t, dir, args...)
	if err != nil {
		t.Fatalf("vessel %s: %v\noutput:\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func writeCmdFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", rel, err)
	}
}

func TestWorkflow(t *testing.T) {
	dir := t.TempDir()
	out := mustRun(t, dir, "init")
	if !strings.Contains(out, repo.MetaDirName) {
		t.Fatalf("init output = %q", out)
	}

	out = mustRun(t, dir, "status")
	if !strings.Contains(out, "on main (no commits yet)") {
		t.Fatalf("status output = %q", out)
	}
	if out = mustRun(t, dir, "log"); !strings.Contains(out, "no commits yet") {
		t.Fatalf("log output = %q", out)
	}

	writeCmdFile(t, dir, "README.md", "# hello\n")
	writeCmdFile(t, dir, "src/main.go", "package main\n")
	out = mustRun(t, dir, "add", ".")
	if !strings.Contains(out, "staged README.md") || !strings.Contains(out, "staged src/main.go") {
		t.Fatalf("add output = %q", out)
	}

	out = mustRun(t, dir, "status")
	if !strings.Contains(out, "staged changes:") || !strings.Contains(out, "+ src/main.go") {
		t.Fatalf("status output = %q", out)
	}

	out = mustRun(t, dir, "commit", "-m", "initial", "--author", "tester")
	if !strings.HasPrefix(out, "[main ") || !strings.Contains(out, "] initial") {
		t.Fatalf("commit output = %q", out)
	}

	writeCmdFile(t, dir, "README.md", "# hello again\n")
	mustRun(t, dir, "add", "README.md")
	mustRun(t, dir, "commit", "-m", "second\n\nbody", "--author", "tester")

	out = mustRun(t, dir, "log", "--oneline")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("log --oneline = %q, want 2 lines", out)
	}
	if !strings.Contains(lines[0], "(HEAD -> main) second") || !strings.HasSuffix(lines[1], " initial") {
		t.Fatalf("log --oneline = %q", out)
	}
	if out = mustRun(t, dir, "log", "-n", "1"); strings.Count(out, "commit ") != 1 {
		t.Fatalf("log -n 1 = %q", out)
	}

	if out = mustRun(t, dir, "status"); !strings.Contains(out, "nothing to commit") {
		t.Fatalf("status after commit = %q", out)
	}

	out = mustRun(t, dir, "pack")
	if !strings.Contains(out, "packed ") {
		t.Fatalf("pack output = %q", out)
	}
	out = mustRun(t, dir, "verify")
	if !strings.Contains(out, "ok: 0 loose objects, 1 packs") || !strings.Contains(out, "1 refs") {
		t.Fatalf("verify output = %q", out)
	}

	// History still reads from the pack.
	if out = mustRun(t, dir, "cat-object", "-t", "HEAD"); strings.TrimSpace(out) != "commit" {
		t.Fatalf("cat-object -t HEAD = %q", out)
	}
	if out = mustRun(t, dir, "cat-object", "HEAD"); !strings.Contains(out, "author tester") {
		t.Fatalf("cat-object HEAD = %q", out)
	}
}

func TestAddFromSubdirectoryPath(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init")
	writeCmdFile(t, dir, "pkg/a.go", "package pkg\n")
	writeCmdFile(t, dir, "pkg/b.go", "package pkg\n")

	// Paths are taken relative to -C.
	out := mustRun(t, filepath.Join(dir, "pkg"), "add", "a.go")
	if strings.TrimSpace(out) != "staged pkg/a.go" {
		t.Fatalf("add output = %q", out)
	}
}

func TestAddReportsPerFileFailures(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init")
	writeCmdFile(t, dir, "ok.txt", "ok")

	out, err := runCmd(t, dir, "add", "ok.txt", "missing.txt")
	if err == nil {
		t.Fatalf("add with a missing path succeeded: %q", out)
	}
	if !strings.Contains(out, "staged ok.txt") || !strings.Contains(out, "failed missing.txt") {
		t.Fatalf("add output = %q", out)
	}
}

func TestCommitRequiresMessage(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init")
	if _, err := runCmd(t, dir, "commit"); err == nil {
		t.Fatal("commit without -m succeeded")
	}
}

func TestCommandsOutsideRepository(t *testing.T) {
	if _, err := runCmd(t, t.TempDir(), "status"); err == nil {
		t.Fatal("status outside a repository succeeded")
	}
}

func TestBranchAndSwitch(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init")
	writeCmdFile(t, dir, "a.txt", "a")
	mustRun(t, dir, "add", "a.txt")
	mustRun(t, dir, "commit", "-m", "one", "--author", "tester")

	mustRun(t, dir, "branch", "feature/x")
	out := mustRun(t, dir, "branch")
	if out != "  feature/x\n* main\n" {
		t.Fatalf("branch list = %q", out)
	}

	if out = mustRun(t, dir, "switch", "feature/x"); !strings.Contains(out, "switched to branch feature/x") {
		t.Fatalf("switch output = %q", out)
	}
	if _, err := runCmd(t, dir, "branch", "-d", "feature/x"); err == nil {
		t.Fatal("deleting the current branch succeeded")
	}
	mustRun(t, dir, "switch", "main")
	mustRun(t, dir, "branch", "-d", "feature/x")
	if out = mustRun(t, dir, "branch"); out != "* main\n" {
		t.Fatalf("branch list after delete = %q", out)
	}
}

func TestResetRmAndClean(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init")
	writeCmdFile(t, dir, "keep.txt", "k")
	writeCmdFile(t, dir, "drop.txt", "d")
	mustRun(t, dir, "add", ".")
	mustRun(t, dir, "commit", "-m", "one", "--author", "tester")

	if out := mustRun(t, dir, "rm", "drop.txt"); strings.TrimSpace(out) != "rm drop.txt" {
		t.Fatalf("rm output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "drop.txt")); !os.IsNotExist(err) {
		t.Fatalf("drop.txt still on disk: %v", err)
	}
	if out := mustRun(t, dir, "reset", "drop.txt"); strings.TrimSpace(out) != "unstaged drop.txt" {
		t.Fatalf("reset output = %q", out)
	}

	writeCmdFile(t, dir, "junk.txt", "j")
	if _, err := runCmd(t, dir, "clean"); err == nil {
		t.Fatal("clean without -n or -f succeeded")
	}
	if out := mustRun(t, dir, "clean", "-n"); strings.TrimSpace(out) != "would remove junk.txt" {
		t.Fatalf("clean -n output = %q", out)
	}
	mustRun(t, dir, "clean", "-f")
	if _, err := os.Stat(filepath.Join(dir, "junk.txt")); !os.IsNotExist(err) {
		t.Fatalf("junk.txt survived clean: %v", err)
	}
}

func writeSigningKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func TestSignedCommit(t *testing.T) {
	dir := t.TempDir()
	key := writeSigningKey(t)
	mustRun(t, dir, "init")
	writeCmdFile(t, dir, "a.txt", "a")
	mustRun(t, dir, "add", "a.txt")
	mustRun(t, dir, "commit", "-m", "signed", "--author", "tester", "--sign-key", key)

	out := mustRun(t, dir, "log", "--show-signature")
	if !strings.Contains(out, "Signature: good (SHA256:") {
		t.Fatalf("log --show-signature = %q", out)
	}

	r, err := repo.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	head, err := r.ResolveRef("HEAD")
	if err != nil {
		t.Fatalf("ResolveRef: %v", err)
	}
	c, err := r.Store.ReadCommit(head)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if !strings.HasPrefix(c.Signature, signaturePrefix+":ssh-ed25519:") {
		t.Fatalf("Signature = %q", c.Signature)
	}

	c.Message = "tampered"
	if _, err := verifyCommitSignature(c); err == nil {
		t.Fatal("tampered commit verified")
	}
}

func TestVerifyFailsOnCorruptPack(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init")
	writeCmdFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	mustRun(t, dir, "add", "main.go")
	mustRun(t, dir, "commit", "-m", "initial", "--author", "tester")
	mustRun(t, dir, "pack")

	packs, err := filepath.Glob(filepath.Join(dir, repo.MetaDirName, "objects", "packs", "*.agcl"))
	if err != nil || len(packs) != 1 {
		t.Fatalf("packs = %v, %v", packs, err)
	}
	data, err := os.ReadFile(packs[0])
	if err != nil {
		t.Fatalf("read pack: %v", err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(packs[0], data, 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	if out, err := runCmd(t, dir, "verify"); err == nil {
		t.Fatalf("verify on a corrupt pack succeeded: %q", out)
	}
}
