package script

import (
	"strconv"

	"github.com/corvidshell/corvid/internal/ast"
)

// Parse tokenizes and parses src into a JobList rooted at filename, the
// shape internal/walker.Walker.Run expects (§4.1 entry point). It covers
// simple commands, pipelines, `;`/`&`-terminated jobs, `and`/`or` list
// decorators, the handful of redirection forms in §3, and the `if`/`while`/
// `for`/`switch`/`function`/`begin` block headers (§4.1).
func Parse(filename, src string) (*ast.JobList, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, filename: filename}
	list, err := p.parseJobList(nil)
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, errAt(filename, p.cur().line, "unexpected trailing token")
	}
	return list, nil
}

type parser struct {
	toks     []token
	pos      int
	filename string
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance()    { if p.pos < len(p.toks)-1 { p.pos++ } }
func (p *parser) skipSeps() {
	for {
		switch p.cur().kind {
		case tokSemi, tokNewline:
			p.advance()
			continue
		}
		return
	}
}

// stopWords, when non-nil, are bare leading words that end the job list
// being parsed (e.g. "end", "else", "case") without being consumed.
func (p *parser) atStopWord(stopWords []string) bool {
	if p.cur().kind != tokWord {
		return false
	}
	for _, s := range stopWords {
		if p.cur().text == s {
			return true
		}
	}
	return false
}

func (p *parser) parseJobList(stopWords []string) (*ast.JobList, error) {
	list := &ast.JobList{R: argRange(p.filename, p.cur().line)}
	p.skipSeps()
	for p.cur().kind != tokEOF && !p.atStopWord(stopWords) {
		decorator := ast.ListDecoratorNone
		if p.cur().kind == tokWord && (p.cur().text == "and" || p.cur().text == "or") {
			if p.cur().text == "and" {
				decorator = ast.ListDecoratorAnd
			} else {
				decorator = ast.ListDecoratorOr
			}
			p.advance()
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, ast.ConjunctionItem{
			Decorator:   decorator,
			Conjunction: &ast.JobConjunction{Job: stmt, R: stmt.Range()},
		})
		p.skipSeps()
	}
	return list, nil
}

// parseStatement parses one `not`-wrappable statement: a block construct or
// a pipeline job (§4.1 dispatch rules).
func (p *parser) parseStatement() (ast.Statement, error) {
	if p.cur().kind == tokWord && p.cur().text == "not" {
		line := p.cur().line
		p.advance()
		inner, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return &ast.NotStatement{Inner: inner, R: argRange(p.filename, line)}, nil
	}
	if p.cur().kind == tokWord {
		switch p.cur().text {
		case "if":
			return p.parseIf()
		case "switch":
			return p.parseSwitch()
		}
	}
	// for/while/function/begin go through parsePipeline (which detects them
	// via blockStageWords in parseProcess) so a piped or backgrounded block
	// becomes a real Job/BlockNode process, while a bare one is unwrapped
	// back to a plain BlockStatement below, preserving the §4.1 "simple
	// block" inline-without-Job optimization (evalBlockStatement).
	jn, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	if len(jn.Processes) == 1 && jn.Processes[0].Block != nil && !jn.Background {
		return jn.Processes[0].Block, nil
	}
	return jn, nil
}

// parsePipeline parses one `|`/`&|`-joined sequence of ProcessStmt into a
// JobNode (§4.2), consuming a trailing `&` as Background.
func (p *parser) parsePipeline() (*ast.JobNode, error) {
	startLine := p.cur().line
	jn := &ast.JobNode{R: argRange(p.filename, startLine)}
	for {
		proc, err := p.parseProcess()
		if err != nil {
			return nil, err
		}
		jn.Processes = append(jn.Processes, proc)
		switch p.cur().kind {
		case tokPipe:
			p.advance()
			continue
		case tokPipeErr:
			proc.MergeStderr = true
			p.advance()
			continue
		}
		break
	}
	if p.cur().kind == tokAmp {
		jn.Background = true
		p.advance()
	}
	return jn, nil
}

// decoratorWords map the `command`/`builtin`/`exec` prefixes to ast.Decorator.
var decoratorWords = map[string]ast.Decorator{
	"command": ast.DecoratorCommand,
	"builtin": ast.DecoratorBuiltin,
	"exec":    ast.DecoratorExec,
}

// blockStageWords are the block headers that may stand as one stage of a
// pipeline (e.g. `begin; ...; end | cat`, §4.1 simple-block carve-out). `if`
// and `switch` aren't included: their ast nodes carry no Redirections field,
// matching real fish usage (wrap them in `begin` to pipe/redirect them).
var blockStageWords = map[string]bool{"begin": true, "for": true, "while": true, "function": true}

func (p *parser) parseProcess() (*ast.ProcessStmt, error) {
	line := p.cur().line

	if p.cur().kind == tokWord && blockStageWords[p.cur().text] {
		var stmt ast.Statement
		var err error
		switch p.cur().text {
		case "begin":
			stmt, err = p.parseBegin()
		case "for":
			stmt, err = p.parseFor()
		case "while":
			stmt, err = p.parseWhile()
		case "function":
			stmt, err = p.parseFunction()
		}
		if err != nil {
			return nil, err
		}
		bs := stmt.(*ast.BlockStatement)
		return &ast.ProcessStmt{Block: bs, R: bs.R}, nil
	}

	proc := &ast.ProcessStmt{R: argRange(p.filename, line)}

	for p.cur().kind == tokWord {
		if dec, ok := decoratorWords[p.cur().text]; ok {
			// Every leading decorator word is consumed as a decorator; a
			// bare "command" with nothing after it then fails below with
			// "expected a command".
			proc.Decorator = dec
			p.advance()
			continue
		}
		break
	}

	for {
		if p.cur().kind == tokWord && isAssignment(p.cur().text) {
			name, val := splitAssignment(p.cur().text)
			proc.Assignments = append(proc.Assignments, ast.Assignment{
				Name:  name,
				Value: ast.Argument{Text: val, Range: argRange(p.filename, p.cur().line)},
			})
			p.advance()
			continue
		}
		break
	}

	if p.cur().kind != tokWord {
		return nil, errAt(p.filename, p.cur().line, "expected a command")
	}
	proc.Command = ast.Argument{Text: p.cur().text, Range: argRange(p.filename, p.cur().line)}
	p.advance()

	for {
		switch p.cur().kind {
		case tokWord:
			proc.Args = append(proc.Args, ast.Argument{Text: p.cur().text, Range: argRange(p.filename, p.cur().line)})
			p.advance()
		case tokRedirRight, tokRedirRightRight, tokRedirLeft:
			redir, err := p.parseFileRedir()
			if err != nil {
				return nil, err
			}
			proc.Redirections = append(proc.Redirections, redir)
		case tokRedirDupRight, tokRedirDupLeft:
			proc.Redirections = append(proc.Redirections, p.parseDupRedir())
			p.advance()
		case tokRedirMergeFile, tokRedirMergeFileAppend:
			redirs, err := p.parseMergeFileRedir()
			if err != nil {
				return nil, err
			}
			proc.Redirections = append(proc.Redirections, redirs...)
		default:
			return proc, nil
		}
	}
}

func (p *parser) parseFileRedir() (ast.Redirection, error) {
	t := p.cur()
	var mode ast.RedirMode
	fd := t.fd
	switch t.kind {
	case tokRedirRight:
		mode = ast.RedirOverwrite
		if fd < 0 {
			fd = 1
		}
	case tokRedirRightRight:
		mode = ast.RedirAppend
		if fd < 0 {
			fd = 1
		}
	case tokRedirLeft:
		mode = ast.RedirInput
		if fd < 0 {
			fd = 0
		}
	}
	p.advance()
	if p.cur().kind != tokWord {
		return ast.Redirection{}, errAt(p.filename, p.cur().line, "expected a filename after redirection")
	}
	target := ast.Argument{Text: p.cur().text, Range: argRange(p.filename, p.cur().line)}
	p.advance()
	return ast.Redirection{Fd: fd, Mode: mode, Target: target, Range: argRange(p.filename, t.line)}, nil
}

func (p *parser) parseDupRedir() ast.Redirection {
	t := p.cur()
	fd := t.fd
	if fd < 0 {
		if t.kind == tokRedirDupRight {
			fd = 1
		} else {
			fd = 0
		}
	}
	return ast.Redirection{
		Fd:     fd,
		Mode:   ast.RedirFd,
		Target: ast.Argument{Text: t.dup, Range: argRange(p.filename, t.line)},
		Range:  argRange(p.filename, t.line),
	}
}

func (p *parser) parseMergeFileRedir() ([]ast.Redirection, error) {
	t := p.cur()
	mode := ast.RedirOverwrite
	if t.kind == tokRedirMergeFileAppend {
		mode = ast.RedirAppend
	}
	p.advance()
	if p.cur().kind != tokWord {
		return nil, errAt(p.filename, p.cur().line, "expected a filename after &>")
	}
	target := ast.Argument{Text: p.cur().text, Range: argRange(p.filename, p.cur().line)}
	p.advance()
	return []ast.Redirection{
		{Fd: 1, Mode: mode, Target: target, Range: argRange(p.filename, t.line)},
		{Fd: 2, Mode: ast.RedirFd, Target: ast.Argument{Text: "1"}, Range: argRange(p.filename, t.line)},
	}, nil
}

func isAssignment(word string) bool {
	eq := -1
	for i, c := range word {
		if c == '=' {
			eq = i
			break
		}
		if i == 0 && !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return eq > 0
}

func splitAssignment(word string) (name, value string) {
	for i, c := range word {
		if c == '=' {
			return word[:i], word[i+1:]
		}
	}
	return word, ""
}

// parseBlockBodyAndEnd parses statements up to (not including) the next bare
// `end`, then consumes `end` and any redirections attached to it.
func (p *parser) parseBlockBodyAndEnd(startLine int) (*ast.JobList, []ast.Redirection, error) {
	body, err := p.parseJobList([]string{"end"})
	if err != nil {
		return nil, nil, err
	}
	if !(p.cur().kind == tokWord && p.cur().text == "end") {
		return nil, nil, errAt(p.filename, p.cur().line, "expected 'end'")
	}
	p.advance()
	var redirs []ast.Redirection
	for {
		switch p.cur().kind {
		case tokRedirRight, tokRedirRightRight, tokRedirLeft:
			r, err := p.parseFileRedir()
			if err != nil {
				return nil, nil, err
			}
			redirs = append(redirs, r)
		case tokRedirDupRight, tokRedirDupLeft:
			redirs = append(redirs, p.parseDupRedir())
			p.advance()
		default:
			return body, redirs, nil
		}
	}
}

func (p *parser) parseBegin() (ast.Statement, error) {
	line := p.cur().line
	p.advance() // "begin"
	body, redirs, err := p.parseBlockBodyAndEnd(line)
	if err != nil {
		return nil, err
	}
	return &ast.BlockStatement{Header: ast.BeginHeader{}, Body: body, Redirections: redirs, R: argRange(p.filename, line)}, nil
}

// wrapCond wraps a single parsed statement (a while/if condition, which
// spec.md §4.1 treats as one job, not a list) into a one-item JobList so
// it can be handed to EvalJobList unchanged.
func wrapCond(stmt ast.Statement) *ast.JobList {
	return &ast.JobList{
		Items: []ast.ConjunctionItem{{Conjunction: &ast.JobConjunction{Job: stmt, R: stmt.Range()}}},
		R:     stmt.Range(),
	}
}

func (p *parser) parseWhile() (ast.Statement, error) {
	line := p.cur().line
	p.advance() // "while"
	cond, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.skipSeps()
	body, redirs, err := p.parseBlockBodyAndEnd(line)
	if err != nil {
		return nil, err
	}
	return &ast.BlockStatement{
		Header:       ast.WhileHeader{Cond: wrapCond(cond)},
		Body:         body,
		Redirections: redirs,
		R:            argRange(p.filename, line),
	}, nil
}

// parseIf implements `if COND; BODY; [else if COND; BODY;]... [else; BODY;] end`.
func (p *parser) parseIf() (ast.Statement, error) {
	line := p.cur().line
	p.advance() // "if"
	stmt := &ast.IfStatement{R: argRange(p.filename, line)}
	for {
		cond, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		p.skipSeps()
		body, err := p.parseJobList([]string{"else", "end"})
		if err != nil {
			return nil, err
		}
		stmt.Clauses = append(stmt.Clauses, ast.IfClause{Cond: wrapCond(cond), Body: body})

		if p.cur().kind == tokWord && p.cur().text == "else" {
			p.advance()
			if p.cur().kind == tokWord && p.cur().text == "if" {
				p.advance()
				continue
			}
			p.skipSeps()
			elseBody, err := p.parseJobList([]string{"end"})
			if err != nil {
				return nil, err
			}
			stmt.ElseBody = elseBody
		}
		break
	}
	if !(p.cur().kind == tokWord && p.cur().text == "end") {
		return nil, errAt(p.filename, p.cur().line, "expected 'end'")
	}
	p.advance()
	return stmt, nil
}

// parseFor implements `for VAR in ARGS...; BODY; end`.
func (p *parser) parseFor() (ast.Statement, error) {
	line := p.cur().line
	p.advance() // "for"
	if p.cur().kind != tokWord {
		return nil, errAt(p.filename, p.cur().line, "expected a loop variable name")
	}
	varName := p.cur().text
	p.advance()
	if !(p.cur().kind == tokWord && p.cur().text == "in") {
		return nil, errAt(p.filename, p.cur().line, "expected 'in'")
	}
	p.advance()
	var args []ast.Argument
	for p.cur().kind == tokWord {
		args = append(args, ast.Argument{Text: p.cur().text, Range: argRange(p.filename, p.cur().line)})
		p.advance()
	}
	body, redirs, err := p.parseBlockBodyAndEnd(line)
	if err != nil {
		return nil, err
	}
	return &ast.BlockStatement{
		Header:       ast.ForHeader{Var: varName, Args: args},
		Body:         body,
		Redirections: redirs,
		R:            argRange(p.filename, line),
	}, nil
}

func isFlagWord(w string) bool { return len(w) > 0 && w[0] == '-' }

// parseFunction implements `function NAME [-d DESC] [-a ARGS...] ...; BODY; end`
// (§4.1 `function` option flags).
func (p *parser) parseFunction() (ast.Statement, error) {
	line := p.cur().line
	p.advance() // "function"
	if p.cur().kind != tokWord {
		return nil, errAt(p.filename, p.cur().line, "expected a function name")
	}
	name := p.cur().text
	p.advance()

	var opts ast.FunctionOptions
optsLoop:
	for p.cur().kind == tokWord {
		switch p.cur().text {
		case "-d", "--description":
			p.advance()
			if p.cur().kind == tokWord {
				opts.Description = p.cur().text
				p.advance()
			}
		case "-a", "--argument-names":
			p.advance()
			for p.cur().kind == tokWord && !isFlagWord(p.cur().text) {
				opts.Args = append(opts.Args, p.cur().text)
				p.advance()
			}
		case "-e", "--on-event":
			p.advance()
			if p.cur().kind == tokWord {
				opts.OnEvent = append(opts.OnEvent, p.cur().text)
				p.advance()
			}
		case "-s", "--on-signal":
			p.advance()
			if p.cur().kind == tokWord {
				opts.OnSignal = append(opts.OnSignal, p.cur().text)
				p.advance()
			}
		case "-v", "--on-variable":
			p.advance()
			if p.cur().kind == tokWord {
				opts.OnVariable = append(opts.OnVariable, p.cur().text)
				p.advance()
			}
		case "-j", "--on-job-exit":
			p.advance()
			if p.cur().kind == tokWord {
				if n, err := strconv.Atoi(p.cur().text); err == nil {
					opts.OnJobExit = n
				}
				p.advance()
			}
		case "-p", "--on-process-exit":
			p.advance()
			if p.cur().kind == tokWord {
				if n, err := strconv.Atoi(p.cur().text); err == nil {
					opts.OnProcessExit = n
				}
				p.advance()
			}
		case "-w", "--wraps":
			p.advance()
			if p.cur().kind == tokWord {
				opts.Wraps = p.cur().text
				p.advance()
			}
		case "-V", "--inherit-variable":
			p.advance()
			if p.cur().kind == tokWord {
				opts.InheritVars = append(opts.InheritVars, p.cur().text)
				p.advance()
			}
		case "-S", "--no-scope-shadowing":
			opts.NoScopeShadow = true
			p.advance()
		default:
			break optsLoop
		}
	}

	body, redirs, err := p.parseBlockBodyAndEnd(line)
	if err != nil {
		return nil, err
	}
	return &ast.BlockStatement{
		Header:       ast.FunctionHeader{Name: name, Options: opts},
		Body:         body,
		Redirections: redirs,
		R:            argRange(p.filename, line),
	}, nil
}

// parseSwitch implements `switch SCRUTINEE; case PATTERN...; BODY; ... end`.
func (p *parser) parseSwitch() (ast.Statement, error) {
	line := p.cur().line
	p.advance() // "switch"
	if p.cur().kind != tokWord {
		return nil, errAt(p.filename, p.cur().line, "expected a switch scrutinee")
	}
	scrutinee := ast.Argument{Text: p.cur().text, Range: argRange(p.filename, p.cur().line)}
	p.advance()
	p.skipSeps()

	stmt := &ast.SwitchStatement{Scrutinee: scrutinee, R: argRange(p.filename, line)}
	for p.cur().kind == tokWord && p.cur().text == "case" {
		p.advance()
		var patterns []ast.Argument
		for p.cur().kind == tokWord {
			patterns = append(patterns, ast.Argument{Text: p.cur().text, Range: argRange(p.filename, p.cur().line)})
			p.advance()
		}
		p.skipSeps()
		body, err := p.parseJobList([]string{"case", "end"})
		if err != nil {
			return nil, err
		}
		stmt.Cases = append(stmt.Cases, ast.SwitchCase{Patterns: patterns, Body: body})
	}
	if !(p.cur().kind == tokWord && p.cur().text == "end") {
		return nil, errAt(p.filename, p.cur().line, "expected 'end'")
	}
	p.advance()
	return stmt, nil
}
