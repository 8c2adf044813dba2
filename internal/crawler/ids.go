package crawler

import (
	"fmt"
	"strconv"
)

// Object id type prefixes.
const (
	DocumentPrefix = 'D'
	FolderPrefix   = 'F'
)

// FolderID returns the identifier of a container, e.g. "F2000". Volumes carry
// negative ids ("F-2000").
func FolderID(objectID int64) string {
	return string(FolderPrefix) + strconv.FormatInt(objectID, 10)
}

// DocumentIDFor returns the identifier of a document, e.g. "D123".
func DocumentIDFor(objectID int64) string {
	return string(DocumentPrefix) + strconv.FormatInt(objectID, 10)
}

// ParseObjectID splits an identifier into its type prefix and numeric id.
func ParseObjectID(id string) (byte, int64, error) {
	if len(id) < 2 {
		return 0, 0, fmt.Errorf("bad document identifier %q", id)
	}
	prefix := id[0]
	if prefix != DocumentPrefix && prefix != FolderPrefix {
		return 0, 0, fmt.Errorf("bad document identifier %q", id)
	}
	n, err := strconv.ParseInt(id[1:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad document identifier %q: %w", id, err)
	}
	return prefix, n, nil
}

// IsFolderID reports whether id names a container.
func IsFolderID(id string) bool {
	return len(id) > 0 && id[0] == FolderPrefix
}

// IsDocumentID reports whether id names a document.
func IsDocumentID(id string) bool {
	return len(id) > 0 && id[0] == DocumentPrefix
}
