package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/vessel/pkg/object"
)

// Signatures are stored on the commit as
// "sshsig-v1:<format>:<base64 public key>:<base64 signature blob>".
const signaturePrefix = "sshsig-v1"

var errBadSignature = errors.New("bad commit signature")

// signingKey signs commit payloads with an SSH private key.
type signingKey struct {
	path   string
	signer ssh.Signer
	pubB64 string
}

func loadSigningKey(path string) (*signingKey, error) {
	resolved, err := signingKeyPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read signing key %q: %w", resolved, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse signing key %q: %w", resolved, err)
	}
	return &signingKey{
		path:   resolved,
		signer: signer,
		pubB64: base64.StdEncoding.EncodeToString(signer.PublicKey().Marshal()),
	}, nil
}

// Sign satisfies repo.CommitSigner.
func (k *signingKey) Sign(payload []byte) (string, error) {
	sig, err := k.signer.Sign(rand.Reader, payload)
	if err != nil {
		return "", fmt.Errorf("sign with %s: %w", k.path, err)
	}
	return strings.Join([]string{
		signaturePrefix,
		sig.Format,
		k.pubB64,
		base64.StdEncoding.EncodeToString(sig.Blob),
	}, ":"), nil
}

// verifyCommitSignature checks a commit's embedded signature against its
// signing payload and returns the signer's key fingerprint.
func verifyCommitSignature(c *object.CommitObj) (string, error) {
	parts := strings.Split(c.Signature, ":")
	if len(parts) != 4 || parts[0] != signaturePrefix {
		return "", fmt.Errorf("%w: unrecognized format", errBadSignature)
	}
	pubRaw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: public key: %w", errBadSignature, err)
	}
	pub, err := ssh.ParsePublicKey(pubRaw)
	if err != nil {
		return "", fmt.Errorf("%w: public key: %w", errBadSignature, err)
	}
	blob, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("%w: signature: %w", errBadSignature, err)
	}
	sig := &ssh.Signature{Format: parts[1], Blob: blob}
	if err := pub.Verify(object.CommitSigningPayload(c), sig); err != nil {
		return "", fmt.Errorf("%w: %w", errBadSignature, err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

func signingKeyPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		return expandUserPath(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		candidate := filepath.Join(home, ".ssh", name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", errors.New("no default SSH private key in ~/.ssh (id_ed25519, id_ecdsa, id_rsa)")
}

func expandUserPath(path string) (string, error) {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, rest)
	}
	return filepath.Abs(path)
}
