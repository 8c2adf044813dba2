package crawler

import (
	"io"
	"time"
)

// RepositoryDocument is what a connector hands to IngestDocument.
type RepositoryDocument struct {
	Fields     map[string][]string
	ACL        []string
	DenyACL    []string
	Content    io.Reader
	Size       int64
	FileName   string
	MimeType   string
	CreatedAt  *time.Time
	ModifiedAt *time.Time
}

// NewRepositoryDocument returns an empty document ready for fields.
func NewRepositoryDocument() *RepositoryDocument {
	return &RepositoryDocument{Fields: map[string][]string{}}
}

// AddField appends values to a metadata field.
func (d *RepositoryDocument) AddField(name string, values ...string) {
	if d.Fields == nil {
		d.Fields = map[string][]string{}
	}
	d.Fields[name] = append(d.Fields[name], values...)
}

// SetSecurity sets the document allow and deny tokens. A nil allow list
// means the document carries no security.
func (d *RepositoryDocument) SetSecurity(allow, deny []string) {
	d.ACL = allow
	d.DenyACL = deny
}

// SetBinary attaches the content stream and its length.
func (d *RepositoryDocument) SetBinary(r io.Reader, size int64) {
	d.Content = r
	d.Size = size
}
