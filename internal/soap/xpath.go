package soap

import (
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

func localName(name string) string {
	return "*[local-name()='" + name + "']"
}

// Find returns the first descendant of node named name, ignoring namespaces.
func Find(node *xmlquery.Node, name string) *xmlquery.Node {
	if node == nil {
		return nil
	}
	return xmlquery.FindOne(node, ".//"+localName(name))
}

// Child returns the first direct child of node named name.
func Child(node *xmlquery.Node, name string) *xmlquery.Node {
	if node == nil {
		return nil
	}
	return xmlquery.FindOne(node, "./"+localName(name))
}

// Children returns the direct children of node named name.
func Children(node *xmlquery.Node, name string) []*xmlquery.Node {
	if node == nil {
		return nil
	}
	return xmlquery.Find(node, "./"+localName(name))
}

// All returns every descendant of node named name.
func All(node *xmlquery.Node, name string) []*xmlquery.Node {
	if node == nil {
		return nil
	}
	return xmlquery.Find(node, ".//"+localName(name))
}

// Text returns the trimmed text of the first descendant named name, or "".
func Text(node *xmlquery.Node, name string) string {
	n := Find(node, name)
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

// ChildText returns the trimmed text of the direct child named name.
func ChildText(node *xmlquery.Node, name string) string {
	n := Child(node, name)
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

// ChildInt parses the direct child named name as an int64; missing or
// malformed values yield ok=false.
func ChildInt(node *xmlquery.Node, name string) (int64, bool) {
	v := ChildText(node, name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsNil reports whether node is absent or marked xsi:nil.
func IsNil(node *xmlquery.Node) bool {
	if node == nil {
		return true
	}
	for _, a := range node.Attr {
		if a.Name.Local == "nil" && a.Value == "true" {
			return true
		}
	}
	return false
}
