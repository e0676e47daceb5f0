package keydir

// globMatch implements Redis-style glob matching (`*`, `?`, `[...]` with optional leading `^`
// for negation and `a-z` ranges, `\` to escape the next literal) over raw key-name bytes, the
// same pattern language KEYS and SCAN use against binary-safe key names.
func globMatch(pattern, name []byte) bool {
	return globMatchAt(pattern, name)
}

// GlobMatch exports the same matcher for callers outside this package that need identical
// pattern semantics over different bytes — PSUBSCRIBE pattern matching in internal/pubsub, in
// particular, which is channel names rather than key names but uses the same glob language.
func GlobMatch(pattern, name []byte) bool {
	return globMatchAt(pattern, name)
}

func globMatchAt(p, s []byte) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			for len(p) > 1 && p[1] == '*' {
				p = p[1:]
			}
			if len(p) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatchAt(p[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			s = s[1:]
			p = p[1:]
		case '[':
			if len(s) == 0 {
				return false
			}
			end := findClassEnd(p)
			if end < 0 {
				return matchLiteral(p[0], s[0]) && globMatchAt(p[1:], s[1:])
			}
			if !matchClass(p[1:end], s[0]) {
				return false
			}
			p = p[end+1:]
			s = s[1:]
		case '\\':
			if len(p) > 1 {
				if len(s) == 0 || p[1] != s[0] {
					return false
				}
				p = p[2:]
				s = s[1:]
			} else {
				if len(s) == 0 || s[0] != '\\' {
					return false
				}
				p = p[1:]
				s = s[1:]
			}
		default:
			if len(s) == 0 || !matchLiteral(p[0], s[0]) {
				return false
			}
			p = p[1:]
			s = s[1:]
		}
	}
	return len(s) == 0
}

func matchLiteral(pc, sc byte) bool { return pc == sc }

// findClassEnd returns the index of the closing ']' for a '[' class starting at p[0], or -1 if
// unterminated (treated as a literal '[').
func findClassEnd(p []byte) int {
	for i := 1; i < len(p); i++ {
		if p[i] == ']' && i > 1 {
			return i
		}
	}
	return -1
}

func matchClass(class []byte, c byte) bool {
	negate := false
	if len(class) > 0 && class[0] == '^' {
		negate = true
		class = class[1:]
	}
	matched := false
	for i := 0; i < len(class); i++ {
		if class[i] == '-' && i > 0 && i+1 < len(class) {
			lo, hi := class[i-1], class[i+1]
			if lo <= c && c <= hi {
				matched = true
			}
			i++
			continue
		}
		if class[i] == c {
			matched = true
		}
	}
	if negate {
		return !matched
	}
	return matched
}
