// Package pathmap rewrites repository paths with an ordered list of
// regular-expression match/replace pairs.
//
// The string form is "match=replace&match=replace" with '\' escaping the
// next character. Replacements may reference groups as $(N), $(Nu) for
// upper case, $(Nl) for lower case and $(Nm) for a capitalized value; "$x"
// emits x literally.
package pathmap

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
)

type pair struct {
	match   string
	replace string
}

// MatchMap is an ordered list of match/replace pairs. Patterns are compiled
// on first use and recompiled after any edit.
type MatchMap struct {
	mu       sync.Mutex
	pairs    []pair
	compiled []*regexp2.Regexp
}

// New returns an empty map.
func New() *MatchMap {
	return &MatchMap{}
}

// Parse reads the string form produced by String.
func Parse(s string) *MatchMap {
	m := New()
	i := 0
	for i < len(s) {
		var match, replace strings.Builder
		for i < len(s) {
			c := s[i]
			if c == '&' || c == '=' {
				break
			}
			i++
			if c == '\\' && i < len(s) {
				c = s[i]
				i++
			}
			match.WriteByte(c)
		}
		if i < len(s) && s[i] == '=' {
			i++
			for i < len(s) {
				c := s[i]
				if c == '&' {
					break
				}
				i++
				if c == '\\' && i < len(s) {
					c = s[i]
					i++
				}
				replace.WriteByte(c)
			}
		}
		m.pairs = append(m.pairs, pair{match: match.String(), replace: replace.String()})
		if i < len(s) && s[i] == '&' {
			i++
		}
	}
	return m
}

// Len returns the number of pairs.
func (m *MatchMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pairs)
}

// Match returns the pattern at index.
func (m *MatchMap) Match(index int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairs[index].match
}

// Replace returns the replacement at index.
func (m *MatchMap) Replace(index int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairs[index].replace
}

// Append adds a pair at the end.
func (m *MatchMap) Append(match, replace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = append(m.pairs, pair{match: match, replace: replace})
	m.compiled = nil
}

// Insert adds a pair before index.
func (m *MatchMap) Insert(index int, match, replace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = append(m.pairs, pair{})
	copy(m.pairs[index+1:], m.pairs[index:])
	m.pairs[index] = pair{match: match, replace: replace}
	m.compiled = nil
}

// Delete removes the pair at index.
func (m *MatchMap) Delete(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = append(m.pairs[:index], m.pairs[index+1:]...)
	m.compiled = nil
}

// String renders the escaped string form.
func (m *MatchMap) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sb strings.Builder
	for i, p := range m.pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		stuff(&sb, p.match)
		sb.WriteByte('=')
		stuff(&sb, p.replace)
	}
	return sb.String()
}

func stuff(sb *strings.Builder, value string) {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\\' || c == '&' || c == '=' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
}

func (m *MatchMap) patterns() ([]*regexp2.Regexp, []pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compiled == nil {
		compiled := make([]*regexp2.Regexp, len(m.pairs))
		for i, p := range m.pairs {
			re, err := regexp2.Compile(p.match, regexp2.None)
			if err != nil {
				return nil, nil, fmt.Errorf("match expression %q: %w", p.match, err)
			}
			compiled[i] = re
		}
		m.compiled = compiled
	}
	return m.compiled, append([]pair(nil), m.pairs...), nil
}

// Translate applies every pair in order, each replacing all of its matches in
// the output of the previous one.
func (m *MatchMap) Translate(input string) (string, error) {
	patterns, pairs, err := m.patterns()
	if err != nil {
		return "", err
	}
	for i, re := range patterns {
		input, err = translateOne(re, pairs[i].replace, input)
		if err != nil {
			return "", err
		}
	}
	return input, nil
}

func translateOne(re *regexp2.Regexp, replace, input string) (string, error) {
	runes := []rune(input)
	var out strings.Builder
	current := 0
	match, err := re.FindRunesMatch(runes)
	for ; err == nil && match != nil; match, err = re.FindNextMatch(match) {
		out.WriteString(string(runes[current:match.Index]))
		expand(&out, replace, match)
		current = match.Index + match.Length
	}
	if err != nil {
		return "", fmt.Errorf("translate %q: %w", input, err)
	}
	out.WriteString(string(runes[current:]))
	return out.String(), nil
}

func expand(out *strings.Builder, desc string, match *regexp2.Match) {
	for i := 0; i < len(desc); {
		c := desc[i]
		i++
		if c == '$' && i < len(desc) {
			c = desc[i]
			i++
			if c == '(' {
				var number strings.Builder
				var upper, lower, mixed bool
				for i < len(desc) {
					y := desc[i]
					i++
					if y == ')' {
						break
					}
					switch {
					case y >= '0' && y <= '9':
						number.WriteByte(y)
					case y == 'u' || y == 'U':
						upper = true
					case y == 'l' || y == 'L':
						lower = true
					case y == 'm' || y == 'M':
						mixed = true
					}
				}
				out.WriteString(groupValue(match, number.String(), upper, lower, mixed))
				continue
			}
		}
		out.WriteByte(c)
	}
}

func groupValue(match *regexp2.Match, number string, upper, lower, mixed bool) string {
	n, err := strconv.Atoi(number)
	if err != nil {
		return ""
	}
	g := match.GroupByNumber(n)
	if g == nil || len(g.Captures) == 0 {
		return ""
	}
	v := g.String()
	switch {
	case upper:
		return strings.ToUpper(v)
	case lower:
		return strings.ToLower(v)
	case mixed && v != "":
		r := []rune(v)
		return strings.ToUpper(string(r[:1])) + strings.ToLower(string(r[1:]))
	default:
		return v
	}
}
