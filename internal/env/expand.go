package env

import (
	"path/filepath"
	"strings"
)

// GlobMode selects how an unmatched wildcard is handled during argument
// expansion (§4.1 for/switch, §4.2 step 2).
type GlobMode int

const (
	GlobFailglob GlobMode = iota // unmatched wildcard is an error
	GlobNullglob                 // unmatched wildcard vanishes
)

// UnmatchedWildcardError is returned by Expander.Expand under GlobFailglob.
type UnmatchedWildcardError struct{ Pattern string }

func (e *UnmatchedWildcardError) Error() string {
	return "no matches for wildcard: " + e.Pattern
}

// Expander performs variable substitution and globbing on raw argument
// text. The real implementation also does command substitution and brace
// expansion; this one covers the subset the engine and walker need to be
// testable without a parser (§6: "variable store ... queried as an
// environment").
type Expander struct {
	Store Store
}

func NewExpander(store Store) *Expander { return &Expander{Store: store} }

// ExpandOne expands a single token to exactly one string, used for the
// command word (command substitution is disabled there per §4.1) and for
// the switch scrutinee (§4.1). Returns an error if expansion yields zero or
// more than one word.
func (e *Expander) ExpandOne(text string) (string, error) {
	words, err := e.expandWords(text)
	if err != nil {
		return "", err
	}
	if len(words) != 1 {
		return "", &UnmatchedWildcardError{Pattern: text}
	}
	return words[0], nil
}

// Expand expands a list of raw tokens into a flat word list, applying glob
// expansion per mode. Tokens containing no glob metacharacters pass
// through unchanged even if they match no file.
func (e *Expander) Expand(texts []string, mode GlobMode) ([]string, error) {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		words, err := e.expandWords(t)
		if err != nil {
			return nil, err
		}
		for _, w := range words {
			if !hasGlobMeta(w) {
				out = append(out, w)
				continue
			}
			matches, _ := filepath.Glob(w)
			if len(matches) == 0 {
				switch mode {
				case GlobFailglob:
					return nil, &UnmatchedWildcardError{Pattern: w}
				case GlobNullglob:
					continue
				}
			}
			out = append(out, matches...)
		}
	}
	return out, nil
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// expandWords performs $NAME variable substitution. A variable with
// multiple values splits into multiple words, matching list-variable
// semantics; $UNSET expands to zero words.
func (e *Expander) expandWords(text string) ([]string, error) {
	if !strings.Contains(text, "$") {
		return []string{text}, nil
	}
	var words []string
	var cur strings.Builder
	flush := func() {
		words = append(words, cur.String())
		cur.Reset()
	}
	i := 0
	for i < len(text) {
		c := text[i]
		if c != '$' || i+1 >= len(text) {
			cur.WriteByte(c)
			i++
			continue
		}
		j := i + 1
		for j < len(text) && (isIdentByte(text[j])) {
			j++
		}
		name := text[i+1 : j]
		if name == "" {
			cur.WriteByte(c)
			i++
			continue
		}
		var vals []string
		if e.Store != nil {
			if ms, ok := e.Store.(*MemStore); ok {
				if v, ok := ms.GetAny(name); ok {
					vals = v.Values
				}
			} else if v, ok := e.Store.Get(name, ScopeGlobal); ok {
				vals = v.Values
			}
		}
		switch len(vals) {
		case 0:
			// $UNSET vanishes entirely, including any literal prefix/suffix
			// already accumulated on this word only if the whole token was
			// just the variable reference.
			if cur.Len() == 0 && j == len(text) {
				return []string{}, nil
			}
		case 1:
			cur.WriteString(vals[0])
		default:
			cur.WriteString(vals[0])
			flush()
			for k := 1; k < len(vals)-1; k++ {
				words = append(words, vals[k])
			}
			cur.WriteString(vals[len(vals)-1])
		}
		i = j
	}
	flush()
	return words, nil
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
