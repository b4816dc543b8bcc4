package executor

import (
	"fmt"
	"path"
	"strings"
)

// ResolveArgs resolves every string-valued argument against the execution
// context. Lists and maps are resolved element-wise, recursively.
func ResolveArgs(args map[string]any, ctx map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	resolved := make(map[string]any, len(args))
	for k, v := range args {
		resolved[k] = resolveValue(v, ctx)
	}
	return resolved
}

func resolveValue(v any, ctx map[string]any) any {
	switch t := v.(type) {
	case string:
		return resolveString(t, ctx)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = resolveValue(e, ctx)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = resolveValue(e, ctx)
		}
		return out
	default:
		return v
	}
}

// resolveString applies the four resolution rules in order: whole-key
// substitution (type preserved), bracket indexing, path-prefix joining,
// literal pass-through.
func resolveString(s string, ctx map[string]any) any {
	if val, ok := ctx[s]; ok {
		return val
	}

	if ref, ok := parseIndexExpr(s); ok {
		if entry, found := ctx[ref.name]; found {
			return ref.lookup(entry)
		}
	}

	if i := strings.Index(s, "/"); i > 0 {
		if val, ok := ctx[s[:i]]; ok {
			return path.Join(stringify(val), s[i+1:])
		}
	}

	return s
}

// indexRef is one parsed indexing expression: an identifier plus a single
// bracketed key or numeric index.
type indexRef struct {
	name   string
	key    string
	idx    int
	strKey bool
}

// lookup resolves the reference inside a context entry. A missing key or an
// out-of-range index yields nil, not an error.
func (r indexRef) lookup(entry any) any {
	if r.strKey {
		if m, ok := entry.(map[string]any); ok {
			return m[r.key]
		}
		return nil
	}
	if list, ok := entry.([]any); ok {
		if r.idx >= 0 && r.idx < len(list) {
			return list[r.idx]
		}
	}
	return nil
}

// parseIndexExpr recognizes the tiny indexing grammar:
//
//	expr  := ident '[' index ']'
//	index := '\'' key '\'' | '"' key '"' | digits
//
// It is a real (if tiny) expression language, so it gets a scanner rather
// than a regex.
func parseIndexExpr(s string) (indexRef, bool) {
	var ref indexRef

	i := 0
	for i < len(s) && isIdentChar(s[i], i == 0) {
		i++
	}
	if i == 0 || i >= len(s) || s[i] != '[' {
		return ref, false
	}
	ref.name = s[:i]
	i++ // consume '['

	if i >= len(s) {
		return ref, false
	}

	switch {
	case s[i] == '\'' || s[i] == '"':
		quote := s[i]
		i++
		start := i
		for i < len(s) && s[i] != quote {
			i++
		}
		if i >= len(s) {
			return ref, false
		}
		ref.key = s[start:i]
		ref.strKey = true
		i++ // consume closing quote
	case s[i] >= '0' && s[i] <= '9':
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		n := 0
		for _, c := range s[start:i] {
			n = n*10 + int(c-'0')
		}
		ref.idx = n
	default:
		return ref, false
	}

	if i >= len(s) || s[i] != ']' || i+1 != len(s) {
		return ref, false
	}
	return ref, true
}

func isIdentChar(c byte, first bool) bool {
	if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	return !first && c >= '0' && c <= '9'
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
