// Package control parses the in-band directives and completion sentinel that
// steer an unattended session through chat text.
package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// Prefix starts a directive line.
	Prefix = "RALPH_CONTROL:"

	// DoneToken, alone on a line of an assistant message, marks the task
	// complete.
	DoneToken = "RALPH_DONE"

	// Command is the slash command operators type to steer a session.
	Command = "/ralph"

	// Usage is shown when a directive carries no first argument.
	Usage = "Usage: /ralph @prompt.md [max]  OR  /ralph stop"
)

var (
	// ErrNoDirective means the text holds no directive line. Callers ignore
	// it silently.
	ErrNoDirective = errors.New("no control directive")

	// ErrMalformed means a directive line was found but its payload could not
	// be decoded. Callers report it to the operator.
	ErrMalformed = errors.New("malformed control directive")
)

// Directive is one parsed control line. Missing arguments are empty.
type Directive struct {
	Arg1 string `json:"arg1"`
	Arg2 string `json:"arg2,omitempty"`
	Arg3 string `json:"arg3,omitempty"`
}

// Parse finds the first line of text that, once trimmed, starts with Prefix,
// and decodes the JSON object after it. Scalar argument values of any JSON
// type are converted to strings and trimmed; null becomes "".
func Parse(text string) (Directive, error) {
	var payload string
	found := false
	for _, line := range splitLines(text) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, Prefix) {
			payload = strings.TrimSpace(strings.TrimPrefix(line, Prefix))
			found = true
			break
		}
	}
	if !found {
		return Directive{}, ErrNoDirective
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Directive{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return Directive{}, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}
	if dec.More() {
		return Directive{}, fmt.Errorf("%w: trailing data after payload", ErrMalformed)
	}

	var d Directive
	var err error
	if d.Arg1, err = scalar(raw, "arg1"); err != nil {
		return Directive{}, err
	}
	if d.Arg2, err = scalar(raw, "arg2"); err != nil {
		return Directive{}, err
	}
	if d.Arg3, err = scalar(raw, "arg3"); err != nil {
		return Directive{}, err
	}
	return d, nil
}

func scalar(raw map[string]any, key string) (string, error) {
	switch v := raw[key].(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case json.Number:
		return v.String(), nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("%w: %s must be a string, number or boolean", ErrMalformed, key)
	}
}

// Format renders d as a directive line. Parse(Format(d)) returns d.
func Format(d Directive) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(d)
	return Prefix + " " + strings.TrimSpace(buf.String())
}

// FromCommand turns a typed "/ralph [arg1 [arg2 [arg3]]]" prompt into a
// directive. It reports false when text is not that command. Arguments are
// split on whitespace; anything past the third is ignored.
func FromCommand(text string) (Directive, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || fields[0] != Command {
		return Directive{}, false
	}

	var d Directive
	args := []*string{&d.Arg1, &d.Arg2, &d.Arg3}
	for i, f := range fields[1:] {
		if i == len(args) {
			break
		}
		*args[i] = f
	}
	return d, true
}

// StripArg removes one pair of surrounding quotes and then a leading "@"
// from a prompt file argument, as typed in a "/ralph @PROMPT.md" command.
func StripArg(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return strings.TrimPrefix(s, "@")
}

// HasDone reports whether any line of text, trimmed, is exactly DoneToken.
func HasDone(text string) bool {
	for _, line := range splitLines(text) {
		if strings.TrimSpace(line) == DoneToken {
			return true
		}
	}
	return false
}

// Part is one piece of a chat message. Only parts of type "text" carry text.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextFromParts joins the text parts of a message with newlines.
func TextFromParts(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
