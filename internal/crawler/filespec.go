package crawler

import "unicode"

// MatchFilespec reports whether value matches spec, where '*' matches any run
// of characters and '?' exactly one. Comparison ignores case.
func MatchFilespec(value, spec string) bool {
	return matchRunes([]rune(value), []rune(spec))
}

func matchRunes(value, spec []rune) bool {
	for len(spec) > 0 {
		switch spec[0] {
		case '*':
			// Collapse runs of stars.
			for len(spec) > 0 && spec[0] == '*' {
				spec = spec[1:]
			}
			if len(spec) == 0 {
				return true
			}
			for i := 0; i <= len(value); i++ {
				if matchRunes(value[i:], spec) {
					return true
				}
			}
			return false
		case '?':
			if len(value) == 0 {
				return false
			}
		default:
			if len(value) == 0 || unicode.ToLower(value[0]) != unicode.ToLower(spec[0]) {
				return false
			}
		}
		value = value[1:]
		spec = spec[1:]
	}
	return len(value) == 0
}
