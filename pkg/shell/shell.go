// Package shell provides a conservative, quote-aware lexer for shell command
// lines.
//
// It is not a shell grammar. It understands just enough of the syntax to find
// the verb of every command in a line: single and double quotes, the
// sequencing operators ;, &&, || and newline, and the pipeline and background
// operators | and &. Anything it does not understand stays inside a token so
// that callers can reject it.
package shell

import (
	"path"
	"regexp"
	"strings"
	"unicode"
)

// Tokenize splits a single command into words. Whitespace outside quotes
// separates words; quote characters are removed and suppress separators. No
// escape processing is done. An unterminated quote runs to end of input.
func Tokenize(cmd string) []string {
	var out []string
	var cur strings.Builder
	var quote rune

	for _, c := range cmd {
		if quote != 0 {
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
			continue
		}

		if c == '"' || c == '\'' {
			quote = c
			continue
		}

		if unicode.IsSpace(c) {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			continue
		}

		cur.WriteRune(c)
	}

	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// SplitSegments splits a command line on unquoted ;, newline, && and ||.
// Segments are trimmed and empty ones dropped. A lone & or | does not split.
func SplitSegments(command string) []string {
	var segments []string
	var cur strings.Builder
	var quote byte

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(command); i++ {
		c := command[i]

		if quote != 0 {
			if c == quote {
				quote = 0
			}
			cur.WriteByte(c)
			continue
		}

		switch {
		case c == '"' || c == '\'':
			quote = c
			cur.WriteByte(c)
		case c == ';' || c == '\n':
			flush()
		case c == '&' && i+1 < len(command) && command[i+1] == '&':
			flush()
			i++
		case c == '|' && i+1 < len(command) && command[i+1] == '|':
			flush()
			i++
		default:
			cur.WriteByte(c)
		}
	}

	flush()
	return segments
}

// Element is one command of a segment after splitting on pipes and the
// background operator.
type Element struct {
	Text string

	// Piped is set when a | or |& joins the element to a neighbour.
	Piped bool

	// Background is set when the element is terminated by an unquoted &.
	Background bool
}

// Subshell reports whether the shell runs the element in a child process,
// so a cd inside it does not change the caller's directory.
func (e Element) Subshell() bool {
	return e.Piped || e.Background
}

// SplitPipeline splits one segment into the commands joined by unquoted |,
// |& and the background operator &. Redirections that contain & (2>&1, <&0,
// &>file, &>>file) are left intact.
func SplitPipeline(segment string) []string {
	var parts []string
	for _, e := range SplitElements(segment) {
		parts = append(parts, e.Text)
	}
	return parts
}

// SplitElements is SplitPipeline with the operator context of each element.
func SplitElements(segment string) []Element {
	var parts []Element
	var cur strings.Builder
	var quote byte
	pipedIn := false

	flush := func(pipedOut, background bool) {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, Element{Text: s, Piped: pipedIn || pipedOut, Background: background})
		} else if background && len(parts) > 0 {
			parts[len(parts)-1].Background = true
		}
		pipedIn = pipedOut
		cur.Reset()
	}

	for i := 0; i < len(segment); i++ {
		c := segment[i]

		if quote != 0 {
			if c == quote {
				quote = 0
			}
			cur.WriteByte(c)
			continue
		}

		switch c {
		case '"', '\'':
			quote = c
			cur.WriteByte(c)
		case '|':
			flush(true, false)
			if i+1 < len(segment) && segment[i+1] == '&' {
				i++
			}
		case '&':
			prev := byte(0)
			if i > 0 {
				prev = segment[i-1]
			}
			next := byte(0)
			if i+1 < len(segment) {
				next = segment[i+1]
			}
			if prev == '>' || prev == '<' || next == '>' {
				cur.WriteByte(c)
				continue
			}
			flush(false, true)
		default:
			cur.WriteByte(c)
		}
	}

	flush(false, false)
	return parts
}

var envAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// IsAssignment reports whether tok has the form NAME=value.
func IsAssignment(tok string) bool {
	return envAssignment.MatchString(tok)
}

// StripEnvPrefixes drops one leading "env" and then any NAME=value words.
func StripEnvPrefixes(tokens []string) []string {
	i := 0
	if i < len(tokens) && Verb(tokens[i]) == "env" {
		i++
	}
	for i < len(tokens) && IsAssignment(tokens[i]) {
		i++
	}
	return tokens[i:]
}

// wrappers run their arguments as a command without changing its meaning.
var wrappers = map[string]bool{
	"command": true,
	"builtin": true,
	"exec":    true,
	"nohup":   true,
	"time":    true,
}

// StripWrappers removes everything in front of the real verb: subshell and
// group openers, env prefixes and transparent wrappers such as nohup.
func StripWrappers(tokens []string) []string {
	for {
		tokens = normalizeVerb(StripEnvPrefixes(stripOpeners(tokens)))
		if len(tokens) == 0 || !wrappers[tokens[0]] {
			return tokens
		}
		tokens = tokens[1:]
		// Wrapper flags such as "command -p" or "time -p".
		for len(tokens) > 0 && strings.HasPrefix(tokens[0], "-") {
			tokens = tokens[1:]
		}
	}
}

// Verb returns the command name tok invokes: a leading backslash, which
// only suppresses alias expansion, is dropped and a path such as /bin/rm
// is reduced to its base name.
func Verb(tok string) string {
	tok = strings.TrimLeft(tok, "\\")
	if strings.Contains(tok, "/") {
		if base := path.Base(tok); base != "/" && base != "." {
			return base
		}
	}
	return tok
}

func normalizeVerb(tokens []string) []string {
	if len(tokens) == 0 {
		return tokens
	}
	verb := Verb(tokens[0])
	if verb == tokens[0] {
		return tokens
	}
	out := make([]string, len(tokens))
	copy(out, tokens)
	out[0] = verb
	return out
}

func stripOpeners(tokens []string) []string {
	for len(tokens) > 0 {
		t := strings.TrimLeft(tokens[0], "({")
		if t == tokens[0] {
			return tokens
		}
		if t == "" {
			tokens = tokens[1:]
			continue
		}
		out := make([]string, len(tokens))
		copy(out, tokens)
		out[0] = t
		tokens = out
	}
	return tokens
}

// Command is one simple command taken from a pipeline element.
type Command struct {
	// Args holds the verb at index 0 followed by its arguments, with
	// prefixes and subshell parentheses removed.
	Args []string

	// Opens and Closes count the subshells, ( or <( or >(, opened and
	// closed by the element. Command substitution $( ) is not counted.
	Opens  int
	Closes int
}

// ParseCommand tokenizes a pipeline element and strips everything in front
// of its verb.
func ParseCommand(element string) Command {
	opens, closes := Parens(element)

	args := StripWrappers(Tokenize(element))
	if closes > 0 && len(args) > 0 {
		last := strings.TrimRight(args[len(args)-1], ")")
		if last == "" {
			args = args[:len(args)-1]
		} else {
			out := make([]string, len(args))
			copy(out, args)
			out[len(out)-1] = last
			args = out
		}
	}

	return Command{Args: args, Opens: opens, Closes: closes}
}

// Parens counts unquoted subshell parentheses in s.
func Parens(s string) (opens, closes int) {
	var quote byte
	subst := 0

	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'':
			quote = c
		case '(':
			if i > 0 && s[i-1] == '$' {
				subst++
			} else {
				opens++
			}
		case ')':
			if subst > 0 {
				subst--
			} else {
				closes++
			}
		}
	}
	return opens, closes
}

// TargetsFromArgs returns the operands of a command's argument list. Words
// starting with "-" are flags until a bare "--", after which every word is an
// operand.
func TargetsFromArgs(args []string) []string {
	var targets []string
	passthrough := false

	for _, a := range args {
		if !passthrough && a == "--" {
			passthrough = true
			continue
		}
		if !passthrough && strings.HasPrefix(a, "-") {
			continue
		}
		targets = append(targets, a)
	}
	return targets
}

// NormalizeRelToken converts backslashes to slashes and drops one leading
// "./" so tokens can be compared as repository-relative paths.
func NormalizeRelToken(t string) string {
	t = strings.ReplaceAll(t, `\`, "/")
	t = strings.TrimPrefix(t, "./")
	return strings.TrimSpace(t)
}

// IsLiteral reports whether tok is free of command substitution and
// variable expansion.
func IsLiteral(tok string) bool {
	return !strings.ContainsAny(tok, "`$")
}

// IsHomeRef reports whether tok starts with a home directory reference.
func IsHomeRef(tok string) bool {
	return strings.HasPrefix(tok, "~") ||
		strings.HasPrefix(tok, "$HOME") ||
		strings.HasPrefix(tok, "${HOME}")
}
