package control

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Directive
	}{
		{
			name: "start",
			text: `RALPH_CONTROL: {"arg1":"@PROMPT.md","arg2":"10"}`,
			want: Directive{Arg1: "@PROMPT.md", Arg2: "10"},
		},
		{
			name: "stop with surrounding chat",
			text: "Stopping now.\n   RALPH_CONTROL:{\"arg1\":\" stop \"}  \nthanks",
			want: Directive{Arg1: "stop"},
		},
		{
			name: "number and bool values",
			text: `RALPH_CONTROL: {"arg1":"p.md","arg2":12,"arg3":true}`,
			want: Directive{Arg1: "p.md", Arg2: "12", Arg3: "true"},
		},
		{
			name: "null and missing values",
			text: `RALPH_CONTROL: {"arg1":null}`,
			want: Directive{},
		},
		{
			name: "first directive wins",
			text: "RALPH_CONTROL: {\"arg1\":\"a\"}\r\nRALPH_CONTROL: {\"arg1\":\"b\"}",
			want: Directive{Arg1: "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_NoDirective(t *testing.T) {
	for _, text := range []string{"", "hello", "say RALPH_CONTROL: {} later"} {
		_, err := Parse(text)
		assert.ErrorIs(t, err, ErrNoDirective, text)
	}
}

func TestParse_Malformed(t *testing.T) {
	texts := []string{
		"RALPH_CONTROL:",
		"RALPH_CONTROL: {arg1: stop}",
		"RALPH_CONTROL: null",
		`RALPH_CONTROL: "stop"`,
		`RALPH_CONTROL: {"arg1":["a"]}`,
		`RALPH_CONTROL: {"arg1":"a"} extra`,
	}

	for _, text := range texts {
		_, err := Parse(text)
		require.Error(t, err, text)
		assert.True(t, errors.Is(err, ErrMalformed), text)
		assert.False(t, errors.Is(err, ErrNoDirective), text)
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	d := Directive{Arg1: "@docs/<PROMPT>.md", Arg2: "3"}

	line := Format(d)
	assert.Equal(t, `RALPH_CONTROL: {"arg1":"@docs/<PROMPT>.md","arg2":"3"}`, line)

	got, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestStripArg(t *testing.T) {
	assert.Equal(t, "PROMPT.md", StripArg("@PROMPT.md"))
	assert.Equal(t, "PROMPT.md", StripArg(`"@PROMPT.md"`))
	assert.Equal(t, "my prompt.md", StripArg(" 'my prompt.md' "))
	assert.Equal(t, `"PROMPT.md`, StripArg(`"PROMPT.md`))
	assert.Equal(t, "", StripArg(`""`))
	assert.Equal(t, "", StripArg(""))
}

func TestHasDone(t *testing.T) {
	assert.True(t, HasDone("RALPH_DONE"))
	assert.True(t, HasDone("all checks pass\n  RALPH_DONE  \nmore commentary after"))
	assert.True(t, HasDone("done\r\nRALPH_DONE\r\n"))

	assert.False(t, HasDone(""))
	assert.False(t, HasDone("RALPH_DONE."))
	assert.False(t, HasDone("I will print RALPH_DONE when finished"))
	assert.False(t, HasDone("ralph_done"))
}

func TestTextFromParts(t *testing.T) {
	parts := []Part{
		{Type: "text", Text: "first"},
		{Type: "tool", Text: "ignored"},
		{Type: "text", Text: "second"},
	}
	assert.Equal(t, "first\nsecond", TextFromParts(parts))
	assert.Equal(t, "", TextFromParts(nil))
}

func TestFromCommand(t *testing.T) {
	tests := []struct {
		text string
		want Directive
		ok   bool
	}{
		{"/ralph @PROMPT.md 10", Directive{Arg1: "@PROMPT.md", Arg2: "10"}, true},
		{"  /ralph   stop  ", Directive{Arg1: "stop"}, true},
		{"/ralph", Directive{}, true},
		{"/ralph a b c d", Directive{Arg1: "a", Arg2: "b", Arg3: "c"}, true},
		{"/ralphx stop", Directive{}, false},
		{"please /ralph stop", Directive{}, false},
		{"", Directive{}, false},
	}

	for _, tt := range tests {
		got, ok := FromCommand(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}
