package object

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Blob
// ---------------------------------------------------------------------------

// MarshalBlob serializes a Blob to raw bytes (identity).
func MarshalBlob(b *Blob) []byte {
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

// UnmarshalBlob deserializes raw bytes into a Blob.
func UnmarshalBlob(data []byte) (*Blob, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return &Blob{Data: out}, nil
}

// ---------------------------------------------------------------------------
// TreeObj
// ---------------------------------------------------------------------------

// MarshalTree serializes a TreeObj. Entries are sorted by Name for
// deterministic output. Each entry is one line:
//
//	mode hash name
//
// The name comes last so it may contain spaces.
func MarshalTree(tr *TreeObj) []byte {
	sorted := make([]TreeEntry, len(tr.Entries))
	copy(sorted, tr.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		fmt.Fprintf(&buf, "%s %s %s\n", treeModeOrDefault(e.Mode), string(e.ID), e.Name)
	}
	return buf.Bytes()
}

// UnmarshalTree parses a TreeObj from its serialized form. Entries must be
// strictly sorted by name; anything else was not produced by MarshalTree.
func UnmarshalTree(data []byte) (*TreeObj, error) {
	tr := &TreeObj{}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return tr, nil
	}
	for _, line := range strings.Split(text, "\n") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("unmarshal tree: %w: malformed entry %q", ErrFormat, line)
		}
		mode, err := parseTreeMode(parts[0])
		if err != nil {
			return nil, fmt.Errorf("unmarshal tree: %w", err)
		}
		id, err := ParseHash(parts[1])
		if err != nil {
			return nil, fmt.Errorf("unmarshal tree: %w", err)
		}
		if n := len(tr.Entries); n > 0 && tr.Entries[n-1].Name >= parts[2] {
			return nil, fmt.Errorf("unmarshal tree: %w: entry %q out of order", ErrFormat, parts[2])
		}
		tr.Entries = append(tr.Entries, TreeEntry{Name: parts[2], Mode: mode, ID: id})
	}
	return tr, nil
}

// ValidateTreeEntryName rejects names that cannot round-trip through
// MarshalTree.
func ValidateTreeEntryName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid tree entry name %q", name)
	case strings.ContainsAny(name, "/\n\x00"):
		return fmt.Errorf("invalid tree entry name %q", name)
	}
	return nil
}

// ValidateTree reports whether tr can be stored and read back: every name
// valid and unique, every mode known, every ID well formed.
func ValidateTree(tr *TreeObj) error {
	seen := make(map[string]struct{}, len(tr.Entries))
	for _, e := range tr.Entries {
		if err := ValidateTreeEntryName(e.Name); err != nil {
			return fmt.Errorf("%w: %w", ErrFormat, err)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("%w: duplicate tree entry %q", ErrFormat, e.Name)
		}
		seen[e.Name] = struct{}{}
		if _, err := parseTreeMode(treeModeOrDefault(e.Mode)); err != nil {
			return fmt.Errorf("tree entry %q: %w", e.Name, err)
		}
		if err := checkCanonicalHash(e.ID); err != nil {
			return fmt.Errorf("tree entry %q: %w", e.Name, err)
		}
	}
	return nil
}

// checkCanonicalHash accepts only the lowercase form ParseHash returns, so
// a serialized reference reads back unchanged.
func checkCanonicalHash(h Hash) error {
	id, err := ParseHash(string(h))
	if err != nil {
		return err
	}
	if id != h {
		return fmt.Errorf("%w: object id %q is not lowercase", ErrFormat, string(h))
	}
	return nil
}

func treeModeOrDefault(mode string) string {
	if strings.TrimSpace(mode) == "" {
		return TreeModeFile
	}
	return mode
}

func parseTreeMode(mode string) (string, error) {
	switch mode {
	case TreeModeDir, TreeModeFile, TreeModeExecutable, TreeModeSymlink:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrFormat, mode)
	}
}

// ---------------------------------------------------------------------------
// CommitObj
// ---------------------------------------------------------------------------

// MarshalCommit serializes a CommitObj:
//
//	tree H
//	parent H     (zero or more)
//	author A
//	timestamp T
//	signature S  (optional)
//
//	message
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", string(c.TreeHash))
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", string(p))
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	fmt.Fprintf(&buf, "timestamp %d\n", c.Timestamp)
	if strings.TrimSpace(c.Signature) != "" {
		fmt.Fprintf(&buf, "signature %s\n", c.Signature)
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// ValidateCommit reports whether c can be stored and read back unchanged.
// Header fields are single lines, so Author and Signature must not contain
// a newline.
func ValidateCommit(c *CommitObj) error {
	if err := checkCanonicalHash(c.TreeHash); err != nil {
		return fmt.Errorf("commit tree: %w", err)
	}
	for _, p := range c.Parents {
		if err := checkCanonicalHash(p); err != nil {
			return fmt.Errorf("commit parent: %w", err)
		}
	}
	if strings.ContainsAny(c.Author, "\r\n") {
		return fmt.Errorf("%w: commit author contains a line break", ErrFormat)
	}
	if strings.ContainsAny(c.Signature, "\r\n") {
		return fmt.Errorf("%w: commit signature contains a line break", ErrFormat)
	}
	return nil
}

// UnmarshalCommit parses a CommitObj from its serialized form.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal commit: %w: missing header/message separator", ErrFormat)
	}
	header := string(data[:idx])
	message := string(data[idx+2:])

	c := &CommitObj{Message: message}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: %w: malformed header line %q", ErrFormat, line)
		}
		switch key {
		case "tree":
			h, err := ParseHash(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: tree: %w", err)
			}
			c.TreeHash = h
		case "parent":
			h, err := ParseHash(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: parent: %w", err)
			}
			c.Parents = append(c.Parents, h)
		case "author":
			c.Author = val
		case "timestamp":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: %w: bad timestamp %q: %w", ErrFormat, val, err)
			}
			c.Timestamp = ts
		case "signature":
			c.Signature = val
		default:
			return nil, fmt.Errorf("unmarshal commit: %w: unknown header key %q", ErrFormat, key)
		}
	}
	if c.TreeHash == "" {
		return nil, fmt.Errorf("unmarshal commit: %w: missing tree", ErrFormat)
	}
	return c, nil
}
