package csws

import (
	"context"
	"io"
	"time"
)

// Permissions is the subset of node permissions the connector evaluates.
type Permissions struct {
	See         bool
	SeeContents bool
}

// AttributeValue is one attribute of a category applied to a node.
type AttributeValue struct {
	Description string
	Values      []string
}

// AttributeGroup is a category applied to a node. Key has the form
// "<categoryID>.<version>".
type AttributeGroup struct {
	Key         string
	DisplayName string
	Values      []AttributeValue
}

// Node is a Content Server object.
type Node struct {
	ID          int64
	ParentID    *int64
	Name        string
	Comment     string
	Type        string
	CreateDate  *time.Time
	ModifyDate  *time.Time
	CreatedBy   *int64
	Permissions Permissions
	Metadata    []AttributeGroup
}

// NodeRight grants permissions on a node to a principal.
type NodeRight struct {
	RightID     int64
	Permissions Permissions
}

// NodeRights holds the special and ACL rights of a node. Missing special
// rights are nil.
type NodeRights struct {
	OwnerRight      *NodeRight
	OwnerGroupRight *NodeRight
	PublicRight     *NodeRight
	ACLRights       []NodeRight
}

// Version describes one version of a document.
type Version struct {
	FileName   string
	MimeType   string
	FileSize   *int64
	ModifyDate *time.Time
	Owner      *int64
}

// Member is a user or group.
type Member struct {
	ID   int64
	Name string
}

// SearchRow is one search hit; values follow the requested columns.
type SearchRow []string

// Session is the set of Content Server operations the connector uses.
// Lookups of missing objects return nil without error.
type Session interface {
	Authenticate(ctx context.Context) error
	RootWorkspace(ctx context.Context, workspaceType string) (*Node, error)
	GetNode(ctx context.Context, id int64) (*Node, error)
	GetNodeRights(ctx context.Context, id int64) (*NodeRights, error)
	GetVersion(ctx context.Context, id, version int64) (*Version, error)
	// GetVersionContents streams a version's content; the caller closes it.
	GetVersionContents(ctx context.Context, id, version int64) (io.ReadCloser, error)
	GetMember(ctx context.Context, id int64) (*Member, error)
	// ListCategories returns the ids of the categories applied to a node.
	ListCategories(ctx context.Context, id int64) ([]int64, error)
	// CategoryAttributes returns the attribute names a category defines.
	CategoryAttributes(ctx context.Context, categoryID int64) ([]string, error)
	// ListUsers returns one page of users. Pass "" to start; an empty
	// result ends the listing.
	ListUsers(ctx context.Context, pageHandle string) ([]Member, string, error)
	SearchChildren(
		ctx context.Context,
		parentID int64,
		columns []string,
		filter, orderBy string,
		start, count int,
	) ([]SearchRow, error)
}
