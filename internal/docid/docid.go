// Package docid generates and validates document identifiers. A document id doubles as its
// vector namespace, so ids are restricted to characters safe in URLs and store keys.
package docid

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

// MaxLength is the longest accepted document id.
const MaxLength = 128

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// pathNamespace scopes ids derived from file paths.
var pathNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docchat:path"))

// New returns a random document id.
func New() string {
	return uuid.NewString()
}

// FromPath returns a stable id for the file at path registered by ownerID. The same owner and
// cleaned path always yield the same id.
func FromPath(ownerID, path string) string {
	normalized := filepath.Clean(path)
	return uuid.NewSHA1(pathNamespace, []byte(ownerID+"\x00"+normalized)).String()
}

// Validate reports whether id can be used as a document id.
func Validate(id string) error {
	if id == "" {
		return fmt.Errorf("document id is empty")
	}
	if len(id) > MaxLength {
		return fmt.Errorf("document id longer than %d characters", MaxLength)
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("document id %q contains invalid characters (allowed: letters, digits, . _ -)", id)
	}
	return nil
}
