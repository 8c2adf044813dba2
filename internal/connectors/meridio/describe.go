package meridio

import (
	"sort"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/pathmap"
)

// Document specification node types.
const (
	NodeSearchOn         = "SearchOn"
	NodeSearchPath       = "SearchPath"
	NodeSearchCategory   = "SearchCategory"
	NodeMIMEType         = "MIMEType"
	NodeReturnedMetadata = "ReturnedMetadata"
	NodeAllMetadata      = "AllMetadata"
	NodePathAttribute    = "pathnameattribute"
	NodePathMap          = "pathmap"
	NodeAccess           = "access"
	NodeSecurity         = "security"
)

// Values of the SearchOn node.
const (
	SearchDocumentsAndRecords = "DOCUMENTS_AND_RECORDS"
	SearchDocumentsOnly       = "DOCUMENTS_ONLY"
	SearchRecordsOnly         = "RECORDS_ONLY"
)

type description struct {
	searchOn    string
	paths       []string
	categories  []string
	mimeTypes   []string
	metadata    []string
	allMetadata bool

	pathAttribute string
	matchMap      *pathmap.MatchMap
	securityOn    bool
	access        []string
}

func describe(spec crawler.DocumentSpec) *description {
	d := &description{
		searchOn:   SearchDocumentsAndRecords,
		matchMap:   pathmap.New(),
		securityOn: true,
	}
	metadata := map[string]struct{}{}
	access := map[string]struct{}{}
	for _, n := range spec.Nodes {
		switch n.Type {
		case NodeSearchOn:
			d.searchOn = n.Attr("value")
		case NodeSearchPath:
			d.paths = append(d.paths, n.Attr("path"))
		case NodeSearchCategory:
			d.categories = append(d.categories, n.Attr("category"))
		case NodeMIMEType:
			d.mimeTypes = append(d.mimeTypes, n.Attr("type"))
		case NodeReturnedMetadata:
			metadata[metadataName(n.Attr("category"), n.Attr("property"))] = struct{}{}
		case NodeAllMetadata:
			if n.Attr("value") == "true" {
				d.allMetadata = true
			}
		case NodePathAttribute:
			d.pathAttribute = n.Attr("value")
		case NodePathMap:
			d.matchMap.Append(n.Attr("match"), n.Attr("replace"))
		case NodeAccess:
			access[n.Attr("token")] = struct{}{}
		case NodeSecurity:
			d.securityOn = n.Attr("value") != "off"
		}
	}
	d.metadata = sortedKeys(metadata)
	d.access = sortedKeys(access)
	return d
}

// metadataName is "category.property", or the bare property for the
// fixed document properties.
func metadataName(category, property string) string {
	if category == "" {
		return property
	}
	return category + "." + property
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// acls returns the forced tokens, an empty slice for native ACLs, or nil
// when security is off.
func (d *description) acls() []string {
	if !d.securityOn {
		return nil
	}
	return append([]string{}, d.access...)
}
