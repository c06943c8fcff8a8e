package object

import "fmt"

// Hash is a 64-character hex-encoded SHA-256 digest. It is the ObjectID of
// every stored object.
type Hash string

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

// Valid reports whether t is one of the known object kinds.
func (t ObjectType) Valid() bool {
	switch t {
	case TypeBlob, TypeTree, TypeCommit:
		return true
	}
	return false
}

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
	TreeModeSymlink    = "120000"
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object. ID names a blob for files and a
// tree for directories.
type TreeEntry struct {
	Name string
	Mode string
	ID   Hash
}

// IsDir reports whether the entry points at a subtree.
func (e TreeEntry) IsDir() bool {
	return e.Mode == TreeModeDir
}

// TreeObj holds a list of tree entries. The serialized form is always
// sorted by Name regardless of the order here.
type TreeObj struct {
	Entries []TreeEntry
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    string
	Timestamp int64
	Signature string
	Message   string
}

// Object is the tagged variant over the stored kinds. Exactly one of
// Blob, Tree and Commit is set, matching Type.
type Object struct {
	Type   ObjectType
	Blob   *Blob
	Tree   *TreeObj
	Commit *CommitObj
}

// Marshal returns the canonical content bytes of o.
func (o *Object) Marshal() ([]byte, error) {
	switch o.Type {
	case TypeBlob:
		if o.Blob != nil {
			return MarshalBlob(o.Blob), nil
		}
	case TypeTree:
		if o.Tree != nil {
			if err := ValidateTree(o.Tree); err != nil {
				return nil, fmt.Errorf("marshal object: %w", err)
			}
			return MarshalTree(o.Tree), nil
		}
	case TypeCommit:
		if o.Commit != nil {
			if err := ValidateCommit(o.Commit); err != nil {
				return nil, fmt.Errorf("marshal object: %w", err)
			}
			return MarshalCommit(o.Commit), nil
		}
	default:
		return nil, fmt.Errorf("marshal object: %w: unknown type %q", ErrFormat, o.Type)
	}
	return nil, fmt.Errorf("marshal object: %w: %s payload missing", ErrFormat, o.Type)
}

// Decode parses content bytes of the given kind into an Object.
func Decode(objType ObjectType, data []byte) (*Object, error) {
	o := &Object{Type: objType}
	var err error
	switch objType {
	case TypeBlob:
		o.Blob, err = UnmarshalBlob(data)
	case TypeTree:
		o.Tree, err = UnmarshalTree(data)
	case TypeCommit:
		o.Commit, err = UnmarshalCommit(data)
	default:
		return nil, fmt.Errorf("decode object: %w: unknown type %q", ErrFormat, objType)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}
