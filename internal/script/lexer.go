// Package script is a minimal tokenizer/parser good enough to drive
// cmd/corvid end-to-end (`-c`, stdin scripts): the real tokenizer/parser is
// an external collaborator out of the core's scope (§1, spec.md), so this
// is deliberately small — whitespace-delimited words with single/double
// quoting, the handful of block headers and redirection forms the spec's
// end-to-end scenarios (§8) exercise, and nothing more exotic (no command
// substitution, no brace expansion).
package script

import (
	"fmt"
	"strings"

	"github.com/corvidshell/corvid/internal/ast"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokPipe
	tokPipeErr
	tokSemi
	tokNewline
	tokAmp
	tokRedirRight
	tokRedirRightRight
	tokRedirLeft
	tokRedirDupRight
	tokRedirDupLeft
	tokRedirMergeFile
	tokRedirMergeFileAppend
	tokEOF
)

// token is one lexical atom. fd/dup only apply to the redir* kinds.
type token struct {
	kind tokenKind
	text string // literal word text (quotes stripped), or the raw atom for redirs
	fd   int    // target fd for redir tokens, -1 if unspecified (use default)
	dup  string // dup target for tokRedirDup{Right,Left} ("-" or a digit string)
	line int
}

// lex splits src into atoms on whitespace, honoring single/double quotes,
// then classifies each non-whitespace atom. ';', '\n', and '|' always split
// even with no surrounding whitespace, except that a '|' right after a lone
// '&' stays attached to it to form the '&|' atom.
func lex(src string) ([]token, error) {
	var atoms []string
	var lines []int
	var buf strings.Builder
	line := 1
	flush := func() {
		if buf.Len() > 0 {
			atoms = append(atoms, buf.String())
			lines = append(lines, line)
			buf.Reset()
		}
	}
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		c := runes[i]
		switch {
		case c == '\n':
			flush()
			atoms = append(atoms, "\n")
			lines = append(lines, line)
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			flush()
			i++
		case c == '#':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case c == '|' && buf.String() == "&":
			buf.WriteRune(c)
			flush()
			i++
		case c == ';' || c == '|':
			flush()
			atoms = append(atoms, string(c))
			lines = append(lines, line)
			i++
		case c == '\'':
			i++
			for i < len(runes) && runes[i] != '\'' {
				buf.WriteRune(runes[i])
				i++
			}
			i++ // closing quote
		case c == '"':
			i++
			for i < len(runes) && runes[i] != '"' {
				if runes[i] == '\\' && i+1 < len(runes) && (runes[i+1] == '"' || runes[i+1] == '\\' || runes[i+1] == '$') {
					buf.WriteRune(runes[i+1])
					i += 2
					continue
				}
				buf.WriteRune(runes[i])
				i++
			}
			i++ // closing quote
		case c == '\\' && i+1 < len(runes):
			buf.WriteRune(runes[i+1])
			i += 2
		default:
			buf.WriteRune(c)
			i++
		}
	}
	flush()

	toks := make([]token, 0, len(atoms)+1)
	for idx, a := range atoms {
		t, err := classify(a, lines[idx])
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
	}
	toks = append(toks, token{kind: tokEOF, line: line})
	return toks, nil
}

func classify(a string, line int) (token, error) {
	switch a {
	case "\n":
		return token{kind: tokNewline, line: line}, nil
	case ";":
		return token{kind: tokSemi, line: line}, nil
	case "|":
		return token{kind: tokPipe, line: line}, nil
	case "&":
		return token{kind: tokAmp, line: line}, nil
	case "&|":
		return token{kind: tokPipeErr, line: line}, nil
	case "&>":
		return token{kind: tokRedirMergeFile, line: line}, nil
	case "&>>":
		return token{kind: tokRedirMergeFileAppend, line: line}, nil
	}
	if tok, ok := classifyRedir(a, line); ok {
		return tok, nil
	}
	return token{kind: tokWord, text: a, line: line}, nil
}

// classifyRedir recognizes `[N]>`, `[N]>>`, `[N]<`, `N>&M`, `N<&M` atoms
// (§3 Redirection spec: fd/mode/target).
func classifyRedir(a string, line int) (token, bool) {
	i := 0
	for i < len(a) && a[i] >= '0' && a[i] <= '9' {
		i++
	}
	if i == len(a) {
		return token{}, false
	}
	fdText, rest := a[:i], a[i:]
	fd := -1
	if fdText != "" {
		fd = 0
		for _, c := range fdText {
			fd = fd*10 + int(c-'0')
		}
	}
	switch {
	case strings.HasPrefix(rest, ">>"):
		return token{kind: tokRedirRightRight, fd: fd, line: line}, true
	case strings.HasPrefix(rest, ">&"):
		dup := rest[2:]
		if dup == "" {
			return token{}, false
		}
		return token{kind: tokRedirDupRight, fd: fd, dup: dup, line: line}, true
	case strings.HasPrefix(rest, ">"):
		if len(rest) > 1 {
			return token{}, false
		}
		return token{kind: tokRedirRight, fd: fd, line: line}, true
	case strings.HasPrefix(rest, "<&"):
		dup := rest[2:]
		if dup == "" {
			return token{}, false
		}
		return token{kind: tokRedirDupLeft, fd: fd, dup: dup, line: line}, true
	case strings.HasPrefix(rest, "<"):
		if len(rest) > 1 {
			return token{}, false
		}
		return token{kind: tokRedirLeft, fd: fd, line: line}, true
	}
	return token{}, false
}

func argRange(filename string, line int) ast.SourceRange {
	return ast.SourceRange{Filename: filename, Line: line}
}

func errAt(filename string, line int, format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", filename, line, fmt.Sprintf(format, args...))
}
