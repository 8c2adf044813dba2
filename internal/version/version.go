// Package version encodes the connector version strings used to decide
// whether a document must be re-ingested. Values are packed with a delimiter
// and a backslash escape so any string can be concatenated without ambiguity.
package version

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Pack appends value to sb, escaping '\' and delim, followed by delim.
func Pack(sb *strings.Builder, value string, delim byte) {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\\' || c == delim {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte(delim)
}

// Unpack reads one packed value starting at pos and returns it with the
// position just past its delimiter.
func Unpack(s string, pos int, delim byte) (string, int) {
	var sb strings.Builder
	for pos < len(s) {
		c := s[pos]
		pos++
		if c == '\\' {
			if pos < len(s) {
				c = s[pos]
				pos++
			}
		} else if c == delim {
			break
		}
		sb.WriteByte(c)
	}
	return sb.String(), pos
}

// PackList appends the count of values followed by each value.
func PackList(sb *strings.Builder, values []string, delim byte) {
	Pack(sb, strconv.Itoa(len(values)), delim)
	for _, v := range values {
		Pack(sb, v, delim)
	}
}

// UnpackList reverses PackList.
func UnpackList(s string, pos int, delim byte) ([]string, int, error) {
	raw, pos := Unpack(s, pos, delim)
	count, err := strconv.Atoi(raw)
	if err != nil {
		return nil, pos, fmt.Errorf("unpack list count %q: %w", raw, err)
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var v string
		v, pos = Unpack(s, pos, delim)
		out = append(out, v)
	}
	return out, pos, nil
}

// PackCategoryAttribute joins a category path and attribute name into one
// metadata name.
func PackCategoryAttribute(category, attribute string) string {
	var sb strings.Builder
	Pack(&sb, category, ':')
	Pack(&sb, attribute, ':')
	return sb.String()
}

// UnpackCategoryAttribute splits a name built by PackCategoryAttribute.
func UnpackCategoryAttribute(value string) (string, string) {
	category, pos := Unpack(value, 0, ':')
	attribute, _ := Unpack(value, pos, ':')
	return category, attribute
}

// Builder accumulates a version string. Lists are sorted before packing so
// the same inputs always produce the same string.
type Builder struct {
	sb strings.Builder
}

// List packs a sorted copy of values.
func (b *Builder) List(values []string, delim byte) *Builder {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	PackList(&b.sb, sorted, delim)
	return b
}

// Value packs a single value.
func (b *Builder) Value(value string, delim byte) *Builder {
	Pack(&b.sb, value, delim)
	return b
}

// Raw appends s without escaping.
func (b *Builder) Raw(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Char appends one marker character such as '+' or '-'.
func (b *Builder) Char(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

func (b *Builder) String() string {
	return b.sb.String()
}
