// Package channel holds the metadata model of the service: the index of
// known channels, the per-channel pointer documents, and the operations that
// read and advance them.
package channel

import (
	"fmt"
	"strings"
)

// IndexKey is the well-known bucket key of the channel index.
const IndexKey = "channels.json"

// BlobSuffix is the only payload format the service serves.
const BlobSuffix = ".tar.xz"

// PointerKey derives the bucket key of a channel's pointer document.
func PointerKey(name string) string { return name + ".json" }

// BlobKey derives the bucket key of a blob from its identifier.
func BlobKey(id string) string { return id + BlobSuffix }

// Index lists every channel name known to the system. A name absent here is
// not resolvable regardless of any pointer document in the bucket.
type Index struct {
	Channels []string `json:"channels"`
}

func (ix Index) Has(name string) bool {
	for _, c := range ix.Channels {
		if c == name {
			return true
		}
	}
	return false
}

// Pointer is a channel's pointer document. Latest names the blob the channel
// currently serves; Previous records blobs it served before, newest last.
type Pointer struct {
	Latest   string   `json:"latest"`
	Previous []string `json:"previous,omitempty"`
}

// ValidateName rejects channel names and blob identifiers that would escape
// the flat key layout of the bucket.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}
