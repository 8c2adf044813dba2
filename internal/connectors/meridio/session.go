package meridio

import (
	"context"
	"io"
	"time"
)

// Fixed category ids.
const (
	CategoryGlobal      int64 = 4
	CategoryMailMessage int64 = 5
	// Custom categories have ids above this.
	customCategoryFloor int64 = 100
)

// Record types that are records rather than plain documents.
const (
	RecordTypeDocumentRecord = 0
	RecordTypeRecord         = 4
	RecordTypeVitalRecord    = 19
)

// Term types of a search term.
const (
	TermString = 0
	TermNumber = 1
	TermDate   = 2
)

// Numeric relations.
const (
	NumEqual          = 0
	NumNotEqual       = 1
	NumGreater        = 3
	NumGreaterOrEqual = 5
)

// Date relations.
const (
	DateBefore    = 8
	DateOnOrAfter = 11
)

// Logical operators of a PropertyOp.
const (
	OpAnd = 0
	OpOr  = 1
)

// PropertyDef describes a searchable property.
type PropertyDef struct {
	TableName   string
	DisplayName string
	ColumnName  string
	CategoryID  int64
}

// Category is a document category.
type Category struct {
	ID    int64
	Title string
}

// SearchTerm is one PROPERTY_TERMS row. ParentID names the PropertyOp the
// term belongs to.
type SearchTerm struct {
	ID                int
	ParentID          int
	PropertyName      string
	CategoryID        int64
	TermType          int
	Relation          int
	NumValue          int64
	StrValue          string
	DateValue         time.Time
	IsVersionProperty bool
}

// PropertyOp combines the terms whose ParentID equals ID.
type PropertyOp struct {
	ID       int
	ParentID int
	Operator int
}

// ResultDef names a property to return with each hit.
type ResultDef struct {
	PropertyName      string
	CategoryID        int64
	IsVersionProperty bool
}

// SearchCriteria is the search data set.
type SearchCriteria struct {
	Terms      []SearchTerm
	Ops        []PropertyOp
	Containers []int64
	Results    []ResultDef
}

// SearchHit is one SEARCHRESULTS_DOCUMENTS row. A document appears once per
// requested result property, in request order.
type SearchHit struct {
	DocID    int64
	StrValue string
}

// SearchResults is a page of hits.
type SearchResults struct {
	TotalHits    int
	ReturnedHits int
	Hits         []SearchHit
}

// DocumentInfo is the DOCUMENTS row of a document.
type DocumentInfo struct {
	ID         int64
	OwnerID    int64
	OwnerName  string
	RecordType int
}

// AccessControl is one ACCESSCONTROL row. Permission 0 prohibits access.
type AccessControl struct {
	ObjectID   int64
	ObjectType int
	Permission int
	UserID     int64
	GroupID    int64
}

// DocumentData is the document information with its ACL.
type DocumentData struct {
	Documents []DocumentInfo
	ACL       []AccessControl
}

// Record is the records-management view of a record.
type Record struct {
	OwnerID      int64
	GroupOwnerID int64
}

// Part is one filing location of a document or record.
type Part struct {
	ParentTitlePath string
}

// ContainerKind distinguishes classes from folders in the file plan.
type ContainerKind string

// Container kinds.
const (
	KindClass  ContainerKind = "class"
	KindFolder ContainerKind = "folder"
)

// ClassContent is one child of a class or folder.
type ClassContent struct {
	ID   int64
	Name string
	Kind ContainerKind
}

// Content is the body of the latest version.
type Content struct {
	Body io.ReadCloser
	Size int64
}

// Session is a logged-in connection to the Meridio services. Lookups of
// objects that do not exist return nil with no error.
type Session interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	// SystemName is a cheap DM call used to check the connection.
	SystemName(ctx context.Context) (string, error)
	// CheckRecords is a cheap RM call used to check the connection.
	CheckRecords(ctx context.Context) error

	PropertyDefs(ctx context.Context) ([]PropertyDef, error)
	Categories(ctx context.Context) ([]Category, error)
	// FindClassOrFolder returns the container id of a file plan path, 0 for
	// the root and a negative value when the path does not exist.
	FindClassOrFolder(ctx context.Context, path string) (int64, error)
	ClassContents(ctx context.Context, id int64) ([]ClassContent, error)

	SearchDocuments(ctx context.Context, criteria SearchCriteria, maxHits, start int) (*SearchResults, error)
	DocumentData(ctx context.Context, docID int64) (*DocumentData, error)
	Record(ctx context.Context, docID int64) (*Record, error)
	RecordParts(ctx context.Context, docID int64) ([]Part, error)
	DocumentParts(ctx context.Context, docID int64) ([]Part, error)
	// LatestVersion returns nil when the document has no content.
	LatestVersion(ctx context.Context, docID int64) (*Content, error)
}
