package csws

import (
	"context"
	"sort"
	"strings"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
	"github.com/JakeFAU/lcf-connectors/internal/pathmap"
	"github.com/JakeFAU/lcf-connectors/internal/version"
)

// Document specification node types and attributes.
const (
	NodeStartPoint    = "startpoint"
	NodeUserWorkspace = "userworkspace"
	NodeInclude       = "include"
	NodeExclude       = "exclude"
	NodeSecurity      = "security"
	NodeAccess        = "access"
	NodeMetadata      = "metadata"
	NodeAllMetadata   = "allmetadata"
	NodePathAttribute = "pathnameattribute"
	NodePathMap       = "pathmap"
)

// description is the job specification digested for processing.
type description struct {
	pathAttribute string
	pathSeparator string
	matchMap      *pathmap.MatchMap
	securityOn    bool
	access        []string
	filter        string
	allMetadata   bool
	metadata      []string

	paths map[string]string
}

// describe reads spec. Metadata nodes with all=true are expanded through
// attrs, which returns the attribute names of a category path.
func describe(
	ctx context.Context,
	spec crawler.DocumentSpec,
	attrs func(ctx context.Context, category string) ([]string, error),
) (*description, error) {
	d := &description{
		matchMap:   pathmap.New(),
		securityOn: true,
		paths:      map[string]string{},
	}
	accessSet := map[string]struct{}{}
	metadataSet := map[string]struct{}{}
	var extensions []string
	for _, n := range spec.Nodes {
		switch n.Type {
		case NodePathAttribute:
			d.pathAttribute = n.Attr("value")
			d.pathSeparator = n.Attr("separator")
			if !n.HasAttr("separator") {
				d.pathSeparator = "/"
			}
		case NodePathMap:
			d.matchMap.Append(n.Attr("match"), n.Attr("replace"))
		case NodeAccess:
			accessSet[n.Attr("token")] = struct{}{}
		case NodeSecurity:
			switch n.Attr("value") {
			case "on":
				d.securityOn = true
			case "off":
				d.securityOn = false
			}
		case NodeInclude:
			spec := n.Attr("filespec")
			if i := strings.LastIndex(spec, "."); i >= 0 {
				extensions = append(extensions, `("OTFileType":`+strings.ToLower(spec[i+1:])+`)`)
			}
		case NodeAllMetadata:
			if n.Attr("all") == "true" {
				d.allMetadata = true
			}
		case NodeMetadata:
			category := n.Attr("category")
			if n.Attr("all") == "true" {
				names, err := attrs(ctx, category)
				if err != nil {
					return nil, err
				}
				for _, a := range names {
					metadataSet[version.PackCategoryAttribute(category, a)] = struct{}{}
				}
				continue
			}
			metadataSet[version.PackCategoryAttribute(category, n.Attr("attribute"))] = struct{}{}
		}
	}
	if len(extensions) == 0 {
		d.filter = "0>1"
	} else {
		d.filter = `"OTSubType":0 OR "OTSubType":136 OR "OTSubType":202 OR ("OTSubType":144 AND (` +
			strings.Join(extensions, " OR ") + `))`
	}
	d.access = sortedKeys(accessSet)
	d.metadata = sortedKeys(metadataSet)
	return d, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// pathVersion is the path-attribute part of the version string.
func (d *description) pathVersion() string {
	if d.pathAttribute == "" {
		return ""
	}
	return "=" + d.pathAttribute + ":" + d.pathSeparator + ":" + d.matchMap.String()
}

// acls returns the forced tokens, an empty slice for native rights, or nil
// when security is off.
func (d *description) acls() []string {
	if !d.securityOn {
		return nil
	}
	return append([]string{}, d.access...)
}

// includeFile reports whether name matches an include filespec and no
// exclude filespec.
func includeFile(name string, spec crawler.DocumentSpec) bool {
	included := false
	for _, n := range spec.Of(NodeInclude) {
		if crawler.MatchFilespec(name, n.Attr("filespec")) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, n := range spec.Of(NodeExclude) {
		if crawler.MatchFilespec(name, n.Attr("filespec")) {
			return false
		}
	}
	return true
}
